//go:build unix

package ipc

import (
	"errors"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// umaskMu serializes the process-wide umask change around bind.
//
//nolint:gochecknoglobals // Guards process-wide state
var umaskMu sync.Mutex

// Listen takes ownership of socketPath and listens on it. The socket is
// created with owner-only permissions. If another process owns the path,
// Listen returns ErrAddressInUse without touching the socket.
func Listen(socketPath string) (*Listener, error) {
	lockPath := LockPath(socketPath)
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: Path derives from the configured socket
	if err != nil {
		return nil, kperr.Wrap(err, "opening %s", lockPath)
	}

	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = lf.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAddressInUse
		}
		return nil, kperr.Wrap(err, "locking %s", lockPath)
	}

	ln, err := bindPrivate(socketPath)
	if err != nil {
		unlockFile(lf)
		_ = lf.Close()
		return nil, err
	}

	return &Listener{Listener: ln, path: socketPath, lock: lf}, nil
}

// bindPrivate replaces any stale socket and binds with mode 0600. Only the
// lock owner calls it.
func bindPrivate(socketPath string) (net.Listener, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, kperr.Wrap(err, "removing stale socket %s", socketPath)
	}

	umaskMu.Lock()
	old := unix.Umask(0o177)
	ln, err := net.Listen("unix", socketPath)
	unix.Umask(old)
	umaskMu.Unlock()
	if err != nil {
		return nil, kperr.Wrap(err, "listening on %s", socketPath)
	}

	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return nil, kperr.Wrap(err, "restricting %s", socketPath)
	}
	return ln, nil
}

func unlockFile(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
