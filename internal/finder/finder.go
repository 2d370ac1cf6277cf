// Package finder decides, per invocation, whether a search goes through the
// session cache daemon or decrypts the database directly, and runs it.
package finder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mrz1836/kpfind/internal/guard"
	"github.com/mrz1836/kpfind/internal/ipc"
	"github.com/mrz1836/kpfind/internal/keepass"
	"github.com/mrz1836/kpfind/internal/matcher"
	"github.com/mrz1836/kpfind/internal/search"
	"github.com/mrz1836/kpfind/internal/secure"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Prompter asks the operator for the master password.
type Prompter func(prompt string) (*secure.Bytes, error)

// GuardFunc reports whether a directory may host the cache socket.
type GuardFunc func(dir string) (bool, error)

// Cache is the daemon side of a cached search.
type Cache interface {
	Search(ctx context.Context, req ipc.Request) ([]search.Entry, error)
}

// Logger is the interface for finder logging.
type Logger interface {
	Debug(format string, args ...any)
	Warn(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Options configures a Finder.
type Options struct {
	Engine keepass.Engine
	Cache  Cache
	Prompt Prompter

	// Guard defaults to guard.IsCacheSafe.
	Guard GuardFunc

	// Socket is the cache socket; its directory is checked by Guard.
	Socket string

	MatchTimeout time.Duration
	Logger       Logger
}

// Query is one search invocation.
type Query struct {
	Database       string
	KeyFile        string
	Needle         string
	Mode           matcher.Mode
	Flags          matcher.Flags
	IncludeHistory bool

	// TTL is the requested session lifetime; zero or less disables the cache.
	TTL time.Duration
}

// Result is the outcome of a successful search.
type Result struct {
	Entries []search.Entry
	Cached  bool
}

// Finder runs searches.
type Finder struct {
	engine       keepass.Engine
	cache        Cache
	prompt       Prompter
	guard        GuardFunc
	socket       string
	matchTimeout time.Duration
	log          Logger
}

// New creates a Finder.
func New(opts Options) *Finder {
	g := opts.Guard
	if g == nil {
		g = guard.IsCacheSafe
	}
	var log Logger = nopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	return &Finder{
		engine:       opts.Engine,
		cache:        opts.Cache,
		prompt:       opts.Prompt,
		guard:        g,
		socket:       opts.Socket,
		matchTimeout: opts.MatchTimeout,
		log:          log,
	}
}

// Find runs q. Any error means no entries: a credential failure on either
// path is returned as is and nothing partial is kept.
func (f *Finder) Find(ctx context.Context, q Query) (*Result, error) {
	identity, err := keepass.Identity(q.Database)
	if err != nil {
		return nil, err
	}
	keyFile, err := absKeyFile(q.KeyFile)
	if err != nil {
		return nil, err
	}

	// Reject bad patterns before asking for a password.
	m, err := matcher.New(q.Needle, q.Mode, q.Flags, f.matchTimeout)
	if err != nil {
		return nil, err
	}

	if q.TTL <= 0 {
		f.log.Debug("cache disabled, searching %s directly", identity)
		entries, err := f.direct(identity, keyFile, m, q.IncludeHistory)
		return result(entries, false, err)
	}

	dir, err := guard.SocketDir(f.socket)
	if err != nil {
		return nil, err
	}
	safe, err := f.guard(dir)
	if err != nil {
		return nil, err
	}
	if !safe {
		f.log.Warn("cache cannot be used safely: %s is readable by other users; searching without cache", dir)
		entries, err := f.direct(identity, keyFile, m, q.IncludeHistory)
		return result(entries, false, err)
	}

	entries, err := f.cached(ctx, identity, keyFile, q)
	return result(entries, true, err)
}

func result(entries []search.Entry, cached bool, err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	return &Result{Entries: entries, Cached: cached}, nil
}

// direct prompts, decrypts, searches and drops the handle.
func (f *Finder) direct(identity, keyFile string, m *matcher.Matcher, includeHistory bool) ([]search.Entry, error) {
	cred, err := f.prompt(promptFor(identity))
	if err != nil {
		return nil, err
	}
	defer cred.Destroy()

	h, err := f.engine.Open(keepass.OpenRequest{Path: identity, KeyFile: keyFile, Password: cred})
	if err != nil {
		return nil, err
	}
	defer func() { _ = h.Close() }()

	records, err := h.Records()
	if err != nil {
		return nil, kperr.Wrap(err, "reading %s", identity)
	}
	return search.Run(records, m, includeHistory)
}

// cached asks the daemon optimistically and prompts only when it reports no
// session for the database. The credential is never sent otherwise.
func (f *Finder) cached(ctx context.Context, identity, keyFile string, q Query) ([]search.Entry, error) {
	req := ipc.Request{
		Database:       identity,
		KeyFile:        keyFile,
		Needle:         q.Needle,
		Mode:           string(q.Mode),
		Flags:          q.Flags.Names(),
		IncludeHistory: q.IncludeHistory,
		TTLSeconds:     ttlSeconds(q.TTL),
	}

	entries, err := f.cache.Search(ctx, req)
	if err == nil || !errors.Is(err, kperr.ErrNoSession) {
		return entries, err
	}

	f.log.Debug("no cached session for %s", identity)
	cred, err := f.prompt(promptFor(identity))
	if err != nil {
		return nil, err
	}
	defer cred.Destroy()

	req.Credential = &ipc.Credential{Password: cred.Bytes()}
	return f.cache.Search(ctx, req)
}

func promptFor(identity string) string {
	return fmt.Sprintf("Password for %s: ", filepath.Base(identity))
}

func absKeyFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", kperr.WithDetails(kperr.WithCause(kperr.ErrKeyFile, err), map[string]string{"path": path})
	}
	return abs, nil
}

// ttlSeconds rounds up so a sub-second TTL still caches.
func ttlSeconds(ttl time.Duration) int64 {
	return int64((ttl + time.Second - 1) / time.Second)
}
