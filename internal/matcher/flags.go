package matcher

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/dlclark/regexp2"

	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Flags is the validated set of pattern options. Unrecognized names are
// rejected by ParseFlags rather than forwarded.
type Flags struct {
	IgnoreCase bool // I, IGNORECASE
	Multiline  bool // M, MULTILINE: ^ and $ match at line boundaries
	DotAll     bool // S, DOTALL: . matches newline
	Verbose    bool // X, VERBOSE: whitespace and # comments in the pattern are ignored
}

// DefaultFlags is case-insensitive matching.
//
//nolint:gochecknoglobals // Read-only default
var DefaultFlags = Flags{IgnoreCase: true}

// maxSuggestDistance bounds how different a typo may be and still get a
// "did you mean" hint.
const maxSuggestDistance = 3

type flagSetter func(*Flags)

// flagNames maps every accepted spelling to its effect. ASCII and UNICODE are
// accepted for compatibility and change nothing.
//
//nolint:gochecknoglobals // Read-only lookup table
var flagNames = map[string]flagSetter{
	"I":          func(f *Flags) { f.IgnoreCase = true },
	"IGNORECASE": func(f *Flags) { f.IgnoreCase = true },
	"M":          func(f *Flags) { f.Multiline = true },
	"MULTILINE":  func(f *Flags) { f.Multiline = true },
	"S":          func(f *Flags) { f.DotAll = true },
	"DOTALL":     func(f *Flags) { f.DotAll = true },
	"X":          func(f *Flags) { f.Verbose = true },
	"VERBOSE":    func(f *Flags) { f.Verbose = true },
	"A":          func(*Flags) {},
	"ASCII":      func(*Flags) {},
	"U":          func(*Flags) {},
	"UNICODE":    func(*Flags) {},
}

// suggestOrder keeps suggestions deterministic when distances tie.
//
//nolint:gochecknoglobals // Read-only lookup table
var suggestOrder = []string{
	"IGNORECASE", "MULTILINE", "DOTALL", "VERBOSE", "ASCII", "UNICODE",
	"I", "M", "S", "X", "A", "U",
}

// ParseFlags validates flag names. Each value may hold several names joined
// with "|" or ",", so "I|M", "I,M" and separate values are equivalent.
// Names are case-insensitive.
func ParseFlags(values []string) (Flags, error) {
	var f Flags
	for _, v := range values {
		for _, raw := range strings.FieldsFunc(v, func(r rune) bool { return r == '|' || r == ',' }) {
			name := strings.ToUpper(strings.TrimSpace(raw))
			if name == "" {
				continue
			}
			set, ok := flagNames[name]
			if !ok {
				return Flags{}, unknownFlag(raw)
			}
			set(&f)
		}
	}
	return f, nil
}

// Names returns the canonical single-letter names of the set flags, the form
// sent to the daemon.
func (f Flags) Names() []string {
	names := make([]string, 0, 4)
	if f.IgnoreCase {
		names = append(names, "I")
	}
	if f.Multiline {
		names = append(names, "M")
	}
	if f.DotAll {
		names = append(names, "S")
	}
	if f.Verbose {
		names = append(names, "X")
	}
	return names
}

// String joins the names with "|".
func (f Flags) String() string {
	return strings.Join(f.Names(), "|")
}

func (f Flags) options() regexp2.RegexOptions {
	// RE2 accepts (?P<name>...) groups
	opts := regexp2.RegexOptions(regexp2.RE2)
	if f.IgnoreCase {
		opts |= regexp2.IgnoreCase
	}
	if f.Multiline {
		opts |= regexp2.Multiline
	}
	if f.DotAll {
		opts |= regexp2.Singleline
	}
	if f.Verbose {
		opts |= regexp2.IgnorePatternWhitespace
	}
	return opts
}

// SuggestFlag returns the accepted name closest to input, or "" when nothing
// is close enough.
func SuggestFlag(input string) string {
	input = strings.ToUpper(strings.TrimSpace(input))

	minDist := math.MaxInt
	var suggestion string
	for _, name := range suggestOrder {
		dist := levenshtein.ComputeDistance(input, name)
		if dist < minDist {
			minDist = dist
			suggestion = name
		}
		if dist == 0 {
			return name
		}
	}

	if minDist <= maxSuggestDistance {
		return suggestion
	}
	return ""
}

func unknownFlag(raw string) error {
	err := kperr.WithDetails(kperr.ErrInvalidFlag, map[string]string{"flag": raw})
	if s := SuggestFlag(raw); s != "" {
		return kperr.WithSuggestion(err, "did you mean "+s+"?")
	}
	return kperr.WithSuggestion(err, "valid flags: I, M, S, X (or IGNORECASE, MULTILINE, DOTALL, VERBOSE)")
}
