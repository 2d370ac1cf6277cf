package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mrz1836/kpfind/internal/search"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 2 * time.Second

// Logger is the interface for client logging.
type Logger interface {
	Debug(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}

// SpawnFunc starts a daemon for the socket. It returns once the process has
// been started, not once it is listening.
type SpawnFunc func(ctx context.Context) error

// ClientOptions configures a Client.
type ClientOptions struct {
	Socket string

	// Retry paces dialing after a spawn (default: DefaultRetryConfig).
	Retry RetryConfig

	// Spawn is called once when the first dial fails. Nil disables spawning.
	Spawn SpawnFunc

	DialTimeout time.Duration
	Logger      Logger
}

// Client talks to the cache daemon. Each call uses its own connection.
type Client struct {
	socket      string
	retry       RetryConfig
	spawn       SpawnFunc
	dialTimeout time.Duration
	log         Logger
}

// NewClient creates a client for opts.Socket.
func NewClient(opts ClientOptions) *Client {
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	var log Logger = nopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	return &Client{
		socket:      opts.Socket,
		retry:       retry,
		spawn:       opts.Spawn,
		dialTimeout: dialTimeout,
		log:         log,
	}
}

// Search runs a search request, spawning the daemon if needed. Entries are
// returned only once the daemon has sent its done frame; an error frame
// discards everything received before it.
func (c *Client) Search(ctx context.Context, req Request) ([]search.Entry, error) {
	req.Op = OpSearch
	frames, err := c.roundTrip(ctx, &req, true)
	if err != nil {
		return nil, err
	}

	entries := make([]search.Entry, 0, len(frames))
	for _, f := range frames {
		if f.Kind == KindEntry && f.Entry != nil {
			entries = append(entries, *f.Entry)
		}
	}
	return entries, nil
}

// Status asks a running daemon for its state. It never spawns one.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	frames, err := c.roundTrip(ctx, &Request{Op: OpStatus}, false)
	if err != nil {
		return nil, err
	}
	last := frames[len(frames)-1]
	if last.Kind != KindStatus || last.Status == nil {
		return nil, kperr.WithDetails(kperr.ErrProtocol, map[string]string{"expected": string(KindStatus)})
	}
	return last.Status, nil
}

// Lock purges the session for database, or every session when database is
// empty, and returns how many were removed. It never spawns a daemon.
func (c *Client) Lock(ctx context.Context, database string) (int, error) {
	frames, err := c.roundTrip(ctx, &Request{Op: OpLock, Database: database}, false)
	if err != nil {
		return 0, err
	}
	return frames[len(frames)-1].Count, nil
}

// Ping checks that a daemon answers on the socket.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, &Request{Op: OpPing}, false)
	return err
}

// errHungUp marks a daemon that could not be reached or closed the connection
// before its first frame, as one exiting for idleness does. The request was
// not handled, so it is safe to send again.
var errHungUp = errors.New("daemon hung up before replying")

// roundTrip sends req and collects frames up to and including the terminal
// one. An error frame becomes the returned error. When spawn is set and the
// daemon cannot be reached, it is started once and the request is retried
// with backoff while it binds.
func (c *Client) roundTrip(ctx context.Context, req *Request, spawn bool) ([]*Frame, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	frames, err := c.exchange(ctx, req)
	if !errors.Is(err, errHungUp) {
		return frames, err
	}
	if !spawn || c.spawn == nil {
		return nil, c.unavailable(err)
	}

	c.log.Debug("daemon not reachable at %s (%v), starting one", c.socket, err)
	if serr := c.spawn(ctx); serr != nil {
		return nil, c.unavailable(serr)
	}

	frames, err = RetryWithConfig(ctx, c.retry, func() ([]*Frame, error) {
		frames, err := c.exchange(ctx, req)
		if errors.Is(err, errHungUp) {
			c.log.Debug("request to %s: %v", c.socket, err)
			return nil, WrapRetryable(err)
		}
		return frames, err
	})
	switch {
	case err == nil:
		return frames, nil
	case errors.Is(err, context.Canceled):
		return nil, err
	case errors.Is(err, errHungUp), errors.Is(err, context.DeadlineExceeded):
		return nil, c.unavailable(err)
	}
	return nil, err
}

// exchange runs one request on its own connection.
func (c *Client) exchange(ctx context.Context, req *Request) ([]*Frame, error) {
	conn, err := c.dialOnce(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errHungUp, err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock reads and writes when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	ch := NewConn(conn)
	if err := ch.WriteRequest(req); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", errHungUp, err)
	}

	var frames []*Frame
	for {
		f, err := ch.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if len(frames) == 0 && hungUp(err) {
				return nil, fmt.Errorf("%w: %w", errHungUp, err)
			}
			return nil, kperr.WithCause(kperr.ErrProtocol, err)
		}
		if f.ID != req.ID {
			return nil, kperr.WithDetails(kperr.ErrProtocol, map[string]string{"request": req.ID, "frame": f.ID})
		}
		if f.Kind == KindError {
			if f.Error == nil {
				return nil, kperr.ErrProtocol
			}
			return nil, f.Error.Err()
		}
		frames = append(frames, f)
		if f.terminal() {
			return frames, nil
		}
	}
}

func hungUp(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

func (c *Client) dialOnce(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	return d.DialContext(ctx, "unix", c.socket)
}

func (c *Client) unavailable(cause error) error {
	err := kperr.WithDetails(kperr.WithCause(kperr.ErrIPCUnavailable, cause), map[string]string{"socket": c.socket})
	return kperr.WithSuggestion(err, "run with -t 0 to search without the cache")
}
