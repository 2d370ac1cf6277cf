// Package daemon is the session cache process. It accepts connections on
// the cache socket, serves each in its own goroutine, and exits once it has
// held no live session and seen no client for its idle timeout.
package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrz1836/kpfind/internal/ipc"
	"github.com/mrz1836/kpfind/internal/keepass"
	"github.com/mrz1836/kpfind/internal/matcher"
	"github.com/mrz1836/kpfind/internal/metrics"
	"github.com/mrz1836/kpfind/internal/search"
	"github.com/mrz1836/kpfind/internal/secure"
	"github.com/mrz1836/kpfind/internal/session"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Defaults.
const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultReadTimeout  = 10 * time.Second
	DefaultMatchTimeout = 2 * time.Second
)

// Logger is the interface for daemon logging.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Daemon.
type Options struct {
	// Registry holds the sessions. Required; Serve closes it on exit.
	Registry *session.Registry

	// Socket is reported by the status operation.
	Socket string

	// IdleTimeout ends the daemon after this long with no live session and
	// no connection. Non-positive disables idle exit.
	IdleTimeout time.Duration

	// ReadTimeout bounds how long a client may take to send its request.
	ReadTimeout time.Duration

	// MatchTimeout bounds each pattern evaluation.
	MatchTimeout time.Duration

	Metrics *metrics.Metrics
	Logger  Logger
	Now     func() time.Time
}

// Daemon serves cache requests.
type Daemon struct {
	registry     *session.Registry
	socket       string
	idleTimeout  time.Duration
	readTimeout  time.Duration
	matchTimeout time.Duration
	metrics      *metrics.Metrics
	log          Logger
	now          func() time.Time
	startedAt    time.Time

	active     atomic.Int64
	lastActive atomic.Int64 // unix nanoseconds
}

// New creates a daemon.
func New(opts Options) *Daemon {
	d := &Daemon{
		registry:     opts.Registry,
		socket:       opts.Socket,
		idleTimeout:  opts.IdleTimeout,
		readTimeout:  opts.ReadTimeout,
		matchTimeout: opts.MatchTimeout,
		metrics:      opts.Metrics,
		log:          opts.Logger,
		now:          opts.Now,
	}
	if d.readTimeout <= 0 {
		d.readTimeout = DefaultReadTimeout
	}
	if d.matchTimeout <= 0 {
		d.matchTimeout = DefaultMatchTimeout
	}
	if d.metrics == nil {
		d.metrics = &metrics.Metrics{}
	}
	if d.log == nil {
		d.log = nopLogger{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.startedAt = d.now()
	return d
}

// Serve accepts connections until ctx is done, the idle timeout fires, or
// the listener fails. It waits for in-flight connections, then destroys every
// session. Idle exit and cancellation return nil.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.touch()
	go d.watchIdle(ctx, cancel)
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	d.log.Info("daemon %d listening on %s", os.Getpid(), ln.Addr())

	var (
		wg       sync.WaitGroup
		serveErr error
	)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				serveErr = kperr.Wrap(err, "accepting on %s", ln.Addr())
				cancel()
			}
			break
		}

		d.active.Add(1)
		d.touch()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				d.touch()
				d.active.Add(-1)
			}()
			d.serveConn(ctx, conn)
		}()
	}

	wg.Wait()
	if err := d.registry.Close(); err != nil && serveErr == nil {
		serveErr = err
	}
	d.log.Info("daemon %d stopped, sessions destroyed", os.Getpid())
	return serveErr
}

// touch records client activity.
func (d *Daemon) touch() {
	d.lastActive.Store(d.now().UnixNano())
}

// idle reports whether the daemon has nothing to keep alive for.
func (d *Daemon) idle() bool {
	if d.active.Load() > 0 || d.registry.Live() > 0 {
		return false
	}
	last := time.Unix(0, d.lastActive.Load())
	return d.now().Sub(last) >= d.idleTimeout
}

func (d *Daemon) watchIdle(ctx context.Context, stop context.CancelFunc) {
	if d.idleTimeout <= 0 {
		return
	}
	interval := min(d.idleTimeout/4, time.Second)
	interval = max(interval, 5*time.Millisecond)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.idle() {
				d.log.Info("no live sessions and no clients for %s, exiting", d.idleTimeout)
				stop()
				return
			}
		}
	}
}

// serveConn handles the single request a connection carries. The request is
// canceled if the client disconnects before the response is written, which
// releases any session lease it holds or waits for.
func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	d.metrics.ConnectionOpened()
	defer d.metrics.ConnectionClosed()
	defer func() { _ = conn.Close() }()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(reqCtx, func() { _ = conn.Close() })
	defer stop()

	ch := ipc.NewConn(conn)
	_ = conn.SetReadDeadline(time.Now().Add(d.readTimeout))
	req, err := ch.ReadRequest()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			d.log.Debug("reading request: %v", err)
		}
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	// Clients send nothing after the request, so any read completing means
	// the peer went away.
	go func() {
		var b [1]byte
		_, _ = conn.Read(b[:])
		cancel()
	}()

	start := time.Now()
	err = d.handle(reqCtx, req, ch)
	d.metrics.RecordRequest(time.Since(start), err)
	if err != nil {
		if reqCtx.Err() != nil {
			d.log.Debug("request %s (%s) abandoned by client", req.ID, req.Op)
			return
		}
		d.log.Debug("request %s (%s) failed: %v", req.ID, req.Op, err)
		if werr := ch.WriteFrame(&ipc.Frame{ID: req.ID, Kind: ipc.KindError, Error: ipc.NewErrorBody(err)}); werr != nil {
			d.log.Debug("writing error frame: %v", werr)
		}
	}
}

// handle dispatches one request and writes its successful response.
func (d *Daemon) handle(ctx context.Context, req *ipc.Request, ch *ipc.Conn) error {
	switch req.Op {
	case ipc.OpSearch:
		entries, err := d.search(ctx, req)
		if err != nil {
			return err
		}
		for i := range entries {
			if err := ch.WriteFrame(&ipc.Frame{ID: req.ID, Kind: ipc.KindEntry, Entry: &entries[i]}); err != nil {
				return err
			}
		}
		return ch.WriteFrame(&ipc.Frame{ID: req.ID, Kind: ipc.KindDone, Count: len(entries)})

	case ipc.OpStatus:
		return ch.WriteFrame(&ipc.Frame{ID: req.ID, Kind: ipc.KindStatus, Status: d.status()})

	case ipc.OpLock:
		n, err := d.lock(ctx, req.Database)
		if err != nil {
			return err
		}
		return ch.WriteFrame(&ipc.Frame{ID: req.ID, Kind: ipc.KindDone, Count: n})

	case ipc.OpPing:
		return ch.WriteFrame(&ipc.Frame{ID: req.ID, Kind: ipc.KindDone})

	default:
		return kperr.WithDetails(kperr.ErrInvalidInput, map[string]string{"op": string(req.Op)})
	}
}

// search resolves the session and matches its records. The lease is released
// before the caller streams results.
func (d *Daemon) search(ctx context.Context, req *ipc.Request) ([]search.Entry, error) {
	var cred *secure.Bytes
	if req.Credential != nil {
		cred = secure.New(req.Credential.Password)
		req.Credential = nil
	}
	defer cred.Destroy()

	identity, err := d.identity(req.Database)
	if err != nil {
		return nil, err
	}

	mode, err := matcher.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	flags, err := matcher.ParseFlags(req.Flags)
	if err != nil {
		return nil, err
	}
	m, err := matcher.New(req.Needle, mode, flags, d.matchTimeout)
	if err != nil {
		return nil, err
	}

	lease, err := d.registry.Resolve(ctx, session.ResolveRequest{
		Identity:   identity,
		KeyFile:    req.KeyFile,
		Credential: cred,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	d.metrics.RecordResolve(lease.Unlocked())

	records, err := lease.Session().Records()
	if err != nil {
		return nil, kperr.Wrap(err, "reading %s", identity)
	}
	return search.Run(records, m, req.IncludeHistory)
}

func (d *Daemon) lock(ctx context.Context, database string) (int, error) {
	if database == "" {
		return d.registry.EndAll(ctx)
	}
	identity, err := d.identity(database)
	if err != nil {
		// the file may be gone while its session is still cached
		identity = filepath.Clean(database)
	}
	ended, err := d.registry.End(ctx, identity)
	if err != nil {
		return 0, err
	}
	if ended {
		return 1, nil
	}
	return 0, nil
}

// identity canonicalizes a database path sent by a client. Clients resolve
// relative paths themselves since the daemon's working directory differs.
func (d *Daemon) identity(database string) (string, error) {
	if !filepath.IsAbs(database) {
		return "", kperr.WithDetails(kperr.ErrInvalidInput, map[string]string{"database": database})
	}
	return keepass.Identity(database)
}

func (d *Daemon) status() *ipc.Status {
	return &ipc.Status{
		PID:         os.Getpid(),
		Socket:      d.socket,
		StartedAt:   d.startedAt,
		IdleTimeout: d.idleTimeout,
		Sessions:    d.registry.Sessions(),
		Metrics:     d.metrics.Snapshot(),
	}
}
