package cli

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/mrz1836/kpfind/internal/secure"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// promptPasswordFn is swapped out in tests.
//
//nolint:gochecknoglobals // Replaced in tests
var promptPasswordFn = promptPassword

// promptPassword reads the master password from the terminal with echo off.
// The caller owns the returned value and must Destroy it.
func promptPassword(prompt string) (*secure.Bytes, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // G115: Fd() fits in int on supported platforms
	if !term.IsTerminal(fd) {
		return nil, kperr.WithSuggestion(
			kperr.Wrap(kperr.ErrInvalidInput, "cannot prompt for password"),
			"run kpfind from an interactive terminal",
		)
	}

	out(os.Stderr, "%s", prompt)
	password, err := term.ReadPassword(fd)
	outln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	return secure.New(password), nil
}
