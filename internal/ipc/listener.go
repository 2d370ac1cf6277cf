package ipc

import (
	"errors"
	"net"
	"os"
	"sync"
)

// ErrAddressInUse means another daemon owns the socket. The caller should
// act as a client of that daemon instead.
var ErrAddressInUse = errors.New("cache socket is owned by another daemon")

// Listener is a unix socket listener that holds exclusive ownership of its
// path through an advisory lock on "<socket>.lock". The lock file is never
// removed, so ownership is decided by the lock alone.
type Listener struct {
	net.Listener

	path      string
	lock      *os.File
	closeOnce sync.Once
	closeErr  error
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Close stops listening, removes the socket and gives up ownership.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.Listener.Close()
		unlockFile(l.lock)
		_ = l.lock.Close()
	})
	return l.closeErr
}

// LockPath returns the ownership lock path for a socket.
func LockPath(socketPath string) string {
	return socketPath + ".lock"
}
