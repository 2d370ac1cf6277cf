// Package guard decides whether the session cache may be used from a given
// directory. The cache socket lives in that directory; if anyone but its
// owner can read it, another local user could reach the daemon and read
// decrypted entries, so the caller must fall back to prompting every time.
package guard

import (
	"path/filepath"

	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Unsafe permission bits: readable by group or others.
const unsafeReadBits = 0o044

// IsCacheSafe reports whether dir is private to the invoking user.
// A directory that cannot be inspected yields an ErrStat error, never true.
func IsCacheSafe(dir string) (bool, error) {
	info, err := inspect(dir)
	if err != nil {
		return false, kperr.WithDetails(kperr.WithCause(kperr.ErrStat, err), map[string]string{"dir": dir})
	}
	if !info.isDir {
		return false, kperr.WithDetails(kperr.ErrStat, map[string]string{"dir": dir, "reason": "not a directory"})
	}
	if info.mode&unsafeReadBits != 0 {
		return false, nil
	}
	return info.ownedBySelf, nil
}

// SocketDir returns the directory that hosts the socket at socketPath.
func SocketDir(socketPath string) (string, error) {
	abs, err := filepath.Abs(socketPath)
	if err != nil {
		return "", err
	}
	return filepath.Dir(abs), nil
}

// dirInfo is the subset of stat results the guard needs.
type dirInfo struct {
	mode        uint32
	isDir       bool
	ownedBySelf bool
}
