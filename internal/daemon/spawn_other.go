//go:build !unix

package daemon

import (
	"context"

	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Spawn is unsupported on this platform.
func Spawn(_ context.Context, _ SpawnOptions) error {
	return kperr.ErrIPCUnavailable
}
