//go:build !unix

package ipc

import (
	"os"

	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Listen is unsupported without unix file locking; kpfind always searches
// directly on these platforms.
func Listen(socketPath string) (*Listener, error) {
	return nil, kperr.WithDetails(kperr.ErrIPCUnavailable, map[string]string{"socket": socketPath})
}

func unlockFile(*os.File) {}
