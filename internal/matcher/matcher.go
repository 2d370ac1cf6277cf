// Package matcher decides whether a stored password matches the operator's
// needle, either by exact string equality or by a regular expression search.
package matcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Mode selects how a needle is compared to candidates.
type Mode string

// Match modes.
const (
	ModeExact   Mode = "exact"
	ModePattern Mode = "pattern"
)

// ParseMode validates a mode name. The empty string means pattern.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModePattern:
		return ModePattern, nil
	case ModeExact:
		return ModeExact, nil
	default:
		return "", kperr.WithDetails(kperr.ErrInvalidInput, map[string]string{"mode": s})
	}
}

// Matcher is a compiled needle. It is safe for concurrent use.
type Matcher struct {
	mode   Mode
	needle string
	re     *regexp2.Regexp
}

// New compiles needle. Flags are ignored in exact mode. A positive timeout
// bounds each individual match.
func New(needle string, mode Mode, flags Flags, timeout time.Duration) (*Matcher, error) {
	m := &Matcher{mode: mode, needle: needle}

	switch mode {
	case ModeExact:
		return m, nil
	case ModePattern:
	default:
		return nil, kperr.WithDetails(kperr.ErrInvalidInput, map[string]string{"mode": string(mode)})
	}

	re, err := regexp2.Compile(needle, flags.options())
	if err != nil {
		return nil, kperr.WithDetails(kperr.WithCause(kperr.ErrInvalidPattern, err), map[string]string{"pattern": needle})
	}
	if timeout > 0 {
		re.MatchTimeout = timeout
	}
	m.re = re
	return m, nil
}

// Mode reports the comparison mode.
func (m *Matcher) Mode() Mode {
	return m.mode
}

// Match reports whether candidate matches. In pattern mode the needle may
// match anywhere in candidate.
func (m *Matcher) Match(candidate string) (bool, error) {
	if m.re == nil {
		return candidate == m.needle, nil
	}
	ok, err := m.re.MatchString(candidate)
	if err != nil {
		return false, kperr.WithCause(kperr.ErrInvalidPattern, fmt.Errorf("matching %q: %w", m.needle, err))
	}
	return ok, nil
}
