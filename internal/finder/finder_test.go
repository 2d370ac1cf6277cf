package finder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/kpfind/internal/daemon"
	"github.com/mrz1836/kpfind/internal/ipc"
	"github.com/mrz1836/kpfind/internal/keepass"
	"github.com/mrz1836/kpfind/internal/matcher"
	"github.com/mrz1836/kpfind/internal/search"
	"github.com/mrz1836/kpfind/internal/secure"
	"github.com/mrz1836/kpfind/internal/session"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Tests that start a daemon do not call t.Parallel: ipc.Listen changes the
// process umask while binding.

const testPassword = "correct horse"

type fakeHandle struct{}

func (fakeHandle) Records() ([]keepass.Record, error) {
	return []keepass.Record{
		{
			Title: "Gmail", Username: "alice", Password: "hunter2",
			History: []keepass.Revision{{Title: "Gmail", Username: "alice", Password: "oldpw1"}},
		},
		{Title: "Bank", Username: "carol", Password: "Secret123"},
	}, nil
}

func (fakeHandle) Close() error { return nil }

type fakeEngine struct{ opens atomic.Int32 }

func (e *fakeEngine) Open(req keepass.OpenRequest) (keepass.Handle, error) {
	e.opens.Add(1)
	if req.Password.String() != testPassword {
		return nil, kperr.ErrCredentials
	}
	return fakeHandle{}, nil
}

type prompter struct {
	password string
	calls    atomic.Int32
}

func (p *prompter) Prompt(string) (*secure.Bytes, error) {
	p.calls.Add(1)
	return secure.FromString(p.password), nil
}

// countingCache counts daemon round trips; a nil inner cache fails the test
// if it is ever used.
type countingCache struct {
	t     *testing.T
	inner Cache
	calls atomic.Int32
}

func (c *countingCache) Search(ctx context.Context, req ipc.Request) ([]search.Entry, error) {
	c.calls.Add(1)
	if c.inner == nil {
		c.t.Error("daemon contacted")
		return nil, kperr.ErrIPCUnavailable
	}
	return c.inner.Search(ctx, req)
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}

func (l *recordingLogger) Warn(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func privateDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "kpf")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func databaseIn(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "vault.kdbx")
	require.NoError(t, os.WriteFile(path, []byte("kdbx"), 0o600))
	return path
}

func query(db, needle string, ttl time.Duration) Query {
	return Query{
		Database: db,
		Needle:   needle,
		Mode:     matcher.ModePattern,
		Flags:    matcher.DefaultFlags,
		TTL:      ttl,
	}
}

// startDaemon serves a real daemon on socket and returns its registry.
func startDaemon(t *testing.T, socket string, engine keepass.Engine) *session.Registry {
	t.Helper()
	ln, err := ipc.Listen(socket)
	require.NoError(t, err)

	reg := session.NewRegistry(session.Options{Engine: engine})
	d := daemon.New(daemon.Options{Registry: reg, Socket: socket})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return reg
}

func TestFind_ZeroTTLIsDirect(t *testing.T) {
	t.Parallel()
	dir := privateDir(t)
	engine := &fakeEngine{}
	p := &prompter{password: testPassword}
	cache := &countingCache{t: t}
	var guardCalls atomic.Int32

	f := New(Options{
		Engine: engine,
		Cache:  cache,
		Prompt: p.Prompt,
		Socket: filepath.Join(dir, "kp.sock"),
		Guard: func(string) (bool, error) {
			guardCalls.Add(1)
			return true, nil
		},
	})

	res, err := f.Find(context.Background(), query(databaseIn(t, dir), "secret123", 0))
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "Secret123", res.Entries[0].Password)
	assert.False(t, res.Cached)

	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, int32(0), cache.calls.Load())
	assert.Equal(t, int32(0), guardCalls.Load())
}

func TestFind_UnsafeDirectoryPromptsEveryTime(t *testing.T) {
	t.Parallel()
	dir := privateDir(t)
	require.NoError(t, os.Chmod(dir, 0o755)) //nolint:gosec // world-readable on purpose

	engine := &fakeEngine{}
	p := &prompter{password: testPassword}
	cache := &countingCache{t: t}
	log := &recordingLogger{}

	f := New(Options{
		Engine: engine,
		Cache:  cache,
		Prompt: p.Prompt,
		Socket: filepath.Join(dir, "kp.sock"),
		Logger: log,
	})

	db := databaseIn(t, dir)
	for range 2 {
		res, err := f.Find(context.Background(), query(db, "hunter2", 30*time.Second))
		require.NoError(t, err)
		assert.Len(t, res.Entries, 1)
		assert.False(t, res.Cached)
	}

	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, int32(0), cache.calls.Load())
	warns := log.warnings()
	require.Len(t, warns, 2)
	assert.Contains(t, warns[0], "cache cannot be used safely")
}

func TestFind_StatErrorIsFatal(t *testing.T) {
	t.Parallel()
	dir := privateDir(t)
	p := &prompter{password: testPassword}

	f := New(Options{
		Engine: &fakeEngine{},
		Cache:  &countingCache{t: t},
		Prompt: p.Prompt,
		Socket: filepath.Join(dir, "missing", "kp.sock"),
	})

	res, err := f.Find(context.Background(), query(databaseIn(t, dir), "hunter2", 30*time.Second))
	require.ErrorIs(t, err, kperr.ErrStat)
	assert.Nil(t, res)
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestFind_CachedSecondCallDoesNotPrompt(t *testing.T) {
	dir := privateDir(t)
	socket := filepath.Join(dir, "kp.sock")
	engine := &fakeEngine{}
	reg := startDaemon(t, socket, engine)

	p := &prompter{password: testPassword}
	cache := &countingCache{t: t, inner: ipc.NewClient(ipc.ClientOptions{Socket: socket})}
	f := New(Options{Engine: engine, Cache: cache, Prompt: p.Prompt, Socket: socket})

	db := databaseIn(t, dir)
	q := query(db, "hunter", 30*time.Second)
	q.IncludeHistory = true

	first, err := f.Find(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, first.Cached)
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, int32(2), cache.calls.Load(), "optimistic request, then resend with credential")

	second, err := f.Find(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, int32(1), p.calls.Load(), "no prompt while the session is live")
	assert.Equal(t, int32(3), cache.calls.Load())

	assert.Equal(t, int32(1), engine.opens.Load())
	assert.Equal(t, 1, reg.Live())
}

func TestFind_WrongCredentialCached(t *testing.T) {
	dir := privateDir(t)
	socket := filepath.Join(dir, "kp.sock")
	engine := &fakeEngine{}
	reg := startDaemon(t, socket, engine)
	client := ipc.NewClient(ipc.ClientOptions{Socket: socket})
	db := databaseIn(t, dir)

	wrong := &prompter{password: "wrong"}
	f := New(Options{Engine: engine, Cache: client, Prompt: wrong.Prompt, Socket: socket})
	res, err := f.Find(context.Background(), query(db, "hunter2", 30*time.Second))
	require.ErrorIs(t, err, kperr.ErrCredentials)
	assert.Nil(t, res)
	assert.Equal(t, 0, reg.Live())

	right := &prompter{password: testPassword}
	f = New(Options{Engine: engine, Cache: client, Prompt: right.Prompt, Socket: socket})
	res, err = f.Find(context.Background(), query(db, "hunter2", 30*time.Second))
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)
	assert.Equal(t, 1, reg.Live())
}

func TestFind_WrongCredentialDirect(t *testing.T) {
	t.Parallel()
	dir := privateDir(t)
	p := &prompter{password: "wrong"}
	f := New(Options{Engine: &fakeEngine{}, Prompt: p.Prompt, Socket: filepath.Join(dir, "kp.sock")})

	res, err := f.Find(context.Background(), query(databaseIn(t, dir), "hunter2", 0))
	require.ErrorIs(t, err, kperr.ErrCredentials)
	assert.Nil(t, res)
}

func TestFind_FailsBeforePrompting(t *testing.T) {
	t.Parallel()
	dir := privateDir(t)
	p := &prompter{password: testPassword}
	f := New(Options{Engine: &fakeEngine{}, Prompt: p.Prompt, Socket: filepath.Join(dir, "kp.sock")})

	q := query(databaseIn(t, dir), "([", 0)
	_, err := f.Find(context.Background(), q)
	require.ErrorIs(t, err, kperr.ErrInvalidPattern)

	_, err = f.Find(context.Background(), query(filepath.Join(dir, "absent.kdbx"), "x", 0))
	require.ErrorIs(t, err, kperr.ErrDatabaseNotFound)

	assert.Equal(t, int32(0), p.calls.Load())
}

func TestTTLSeconds(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(30), ttlSeconds(30*time.Second))
	assert.Equal(t, int64(1), ttlSeconds(200*time.Millisecond))
	assert.Equal(t, int64(2), ttlSeconds(1500*time.Millisecond))
}
