// Package keepass is the database engine: it turns a database path plus key
// material into a decrypted handle whose records can be enumerated. The
// session cache and the direct search path both go through Engine, so tests
// can substitute a fake.
package keepass

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/mrz1836/kpfind/internal/secure"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Engine opens encrypted databases.
type Engine interface {
	// Open decrypts the database. A wrong password or key file yields an
	// error matching kperr.ErrCredentials.
	Open(req OpenRequest) (Handle, error)
}

// Handle is a decrypted database. Implementations need not be safe for
// concurrent use; callers serialize access.
type Handle interface {
	// Records enumerates entries in database order.
	Records() ([]Record, error)

	// Close releases the decrypted content.
	Close() error
}

// OpenRequest carries the key material for one unlock.
type OpenRequest struct {
	Path    string
	KeyFile string

	// Password may be nil or empty when a key file alone protects the
	// database.
	Password *secure.Bytes
}

// Record is one entry with its retained history.
type Record struct {
	Path     string // group path, "/"-separated, excluding the root group
	Title    string
	Username string
	Password string
	History  []Revision
}

// Revision is a superseded version of a record.
type Revision struct {
	Title    string
	Username string
	Password string
}

// Identity canonicalizes a database path so every spelling of the same file
// maps to one cache entry.
func Identity(path string) (string, error) {
	if path == "" {
		return "", kperr.WithSuggestion(kperr.ErrInvalidInput, "a database path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", kperr.Wrap(err, "resolving %s", path)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", kperr.WithDetails(kperr.ErrDatabaseNotFound, map[string]string{"path": path})
		}
		return "", kperr.Wrap(err, "resolving %s", path)
	}
	return resolved, nil
}

// KeyFileIdentity fingerprints a key file's contents with BLAKE2b-256.
// An empty path has the empty identity.
func KeyFileIdentity(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: Key file path is supplied by the operator
	if err != nil {
		return "", kperr.WithDetails(kperr.WithCause(kperr.ErrKeyFile, err), map[string]string{"path": path})
	}
	defer secure.Zero(data)

	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
