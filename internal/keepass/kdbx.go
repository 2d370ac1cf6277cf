package keepass

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/tobischo/gokeepasslib/v3"

	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// errHandleClosed is returned when a closed handle is enumerated.
var errHandleClosed = errors.New("database handle is closed")

// KDBX opens KeePass 2.x (.kdbx) databases.
type KDBX struct{}

// NewKDBX returns the KeePass engine.
func NewKDBX() *KDBX {
	return &KDBX{}
}

// Open decrypts a KDBX file.
func (k *KDBX) Open(req OpenRequest) (Handle, error) {
	f, err := os.Open(req.Path) //nolint:gosec // G304: Database path is supplied by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kperr.WithDetails(kperr.ErrDatabaseNotFound, map[string]string{"path": req.Path})
		}
		return nil, kperr.Wrap(err, "opening %s", req.Path)
	}
	defer func() { _ = f.Close() }()

	creds, err := credentials(req)
	if err != nil {
		return nil, err
	}

	db := gokeepasslib.NewDatabase()
	db.Credentials = creds

	// Decode fails on the header HMAC or the block integrity check when the
	// composite key is wrong; corrupted files are indistinguishable.
	if err := gokeepasslib.NewDecoder(f).Decode(db); err != nil {
		return nil, kperr.WithCause(kperr.ErrCredentials, err)
	}
	if err := db.UnlockProtectedEntries(); err != nil {
		return nil, kperr.WithCause(kperr.ErrCredentials, err)
	}

	return &kdbxHandle{db: db}, nil
}

// credentials builds the composite key from password and key file. With a
// key file, an empty password means the key file alone protects the database.
func credentials(req OpenRequest) (*gokeepasslib.DBCredentials, error) {
	var password string
	if req.Password != nil {
		password = req.Password.String()
	}

	if req.KeyFile == "" {
		return gokeepasslib.NewPasswordCredentials(password), nil
	}

	var (
		creds *gokeepasslib.DBCredentials
		err   error
	)
	if req.Password == nil || req.Password.Len() == 0 {
		creds, err = gokeepasslib.NewKeyCredentials(req.KeyFile)
	} else {
		creds, err = gokeepasslib.NewPasswordAndKeyCredentials(password, req.KeyFile)
	}
	if err != nil {
		return nil, kperr.WithDetails(kperr.WithCause(kperr.ErrKeyFile, err), map[string]string{"path": req.KeyFile})
	}
	return creds, nil
}

type kdbxHandle struct {
	mu sync.Mutex
	db *gokeepasslib.Database
}

// Records walks the group tree depth first. Within a group, its entries come
// before its subgroups, matching document order in the KDBX XML.
func (h *kdbxHandle) Records() ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.db == nil {
		return nil, errHandleClosed
	}
	if h.db.Content == nil || h.db.Content.Root == nil {
		return nil, nil
	}

	var out []Record
	for i := range h.db.Content.Root.Groups {
		// The top-level group is the database root and is not part of paths.
		out = walkGroup(out, &h.db.Content.Root.Groups[i], nil)
	}
	return out, nil
}

func (h *kdbxHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.db = nil
	return nil
}

func walkGroup(out []Record, g *gokeepasslib.Group, parents []string) []Record {
	path := strings.Join(parents, "/")
	for i := range g.Entries {
		out = append(out, toRecord(&g.Entries[i], path))
	}
	for i := range g.Groups {
		sub := &g.Groups[i]
		out = walkGroup(out, sub, append(parents[:len(parents):len(parents)], sub.Name))
	}
	return out
}

func toRecord(e *gokeepasslib.Entry, path string) Record {
	rec := Record{
		Path:     path,
		Title:    e.GetTitle(),
		Username: e.GetContent("UserName"),
		Password: e.GetPassword(),
	}
	for _, h := range e.Histories {
		for j := range h.Entries {
			old := &h.Entries[j]
			rec.History = append(rec.History, Revision{
				Title:    old.GetTitle(),
				Username: old.GetContent("UserName"),
				Password: old.GetPassword(),
			})
		}
	}
	return rec
}
