// Package search runs a matcher over decrypted records and projects the
// matching passwords into entries.
package search

import (
	"github.com/mrz1836/kpfind/internal/keepass"
)

// Entry is one matched password. A record whose current password and one or
// more history revisions all match yields one Entry per matching value.
type Entry struct {
	Path             string `json:"path,omitempty"`
	Title            string `json:"title"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	IsHistoryVariant bool   `json:"is_history_variant"`
}

// Matcher reports whether a candidate password matches.
type Matcher interface {
	Match(candidate string) (bool, error)
}

// Run evaluates records in the order given. For each record the current
// password is tried first, then, when includeHistory is set, each history
// revision in stored order. Results are neither reordered nor deduplicated.
// A matcher error aborts the run and no entries are returned.
func Run(records []keepass.Record, m Matcher, includeHistory bool) ([]Entry, error) {
	var out []Entry
	for i := range records {
		rec := &records[i]

		ok, err := m.Match(rec.Password)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Entry{
				Path:     rec.Path,
				Title:    rec.Title,
				Username: rec.Username,
				Password: rec.Password,
			})
		}

		if !includeHistory {
			continue
		}
		for _, rev := range rec.History {
			ok, err := m.Match(rev.Password)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, Entry{
					Path:             rec.Path,
					Title:            rev.Title,
					Username:         rev.Username,
					Password:         rev.Password,
					IsHistoryVariant: true,
				})
			}
		}
	}
	return out, nil
}
