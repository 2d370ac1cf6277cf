package output

import (
	"github.com/mrz1836/kpfind/internal/search"
)

// Mask replaces a hidden password in text output.
const Mask = "********"

// EntriesOutput is the JSON shape of a search result.
type EntriesOutput struct {
	Entries []search.Entry `json:"entries"`
	Count   int            `json:"count"`
	Cached  bool           `json:"cached"`
}

// Entries writes matched entries, one table row or JSON object per entry.
// Passwords are masked in both formats unless reveal is set.
func (f *Formatter) Entries(entries []search.Entry, cached bool) error {
	shown := make([]search.Entry, len(entries))
	for i, e := range entries {
		if !f.reveal {
			e.Password = Mask
		}
		shown[i] = e
	}

	if f.IsJSON() {
		return writeJSON(f.writer, EntriesOutput{Entries: shown, Count: len(shown), Cached: cached})
	}

	if len(shown) == 0 {
		return f.Printf("no matching entries\n")
	}

	t := NewTable("PATH", "TITLE", "USERNAME", "PASSWORD", "HISTORY")
	for _, e := range shown {
		t.AddRow(e.Path, e.Title, e.Username, e.Password, yesNo(e.IsHistoryVariant))
	}
	return t.Render(f.writer)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
