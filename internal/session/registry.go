package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mrz1836/kpfind/internal/keepass"
	"github.com/mrz1836/kpfind/internal/secure"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Logger is the interface for registry logging.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}

// Options configures a Registry.
type Options struct {
	// Engine decrypts databases. Required.
	Engine keepass.Engine

	// MaxTTL caps requested lifetimes (default: DefaultMaxTTL).
	MaxTTL time.Duration

	// UnlockPerMinute and UnlockBurst throttle decryption attempts per
	// identity. A non-positive rate disables throttling.
	UnlockPerMinute float64
	UnlockBurst     int

	Logger Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// slot is the per-identity exclusive region. sem serializes all use of the
// session; session and refs are guarded by Registry.mu.
type slot struct {
	sem     *semaphore.Weighted
	refs    int
	session *Session
}

// Registry is the daemon's cache of decrypted sessions.
type Registry struct {
	mu      sync.Mutex
	slots   map[string]*slot
	closed  bool
	engine  keepass.Engine
	limiter *unlockLimiter
	maxTTL  time.Duration
	log     Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	maxTTL := opts.MaxTTL
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	var log Logger = nopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	return &Registry{
		slots:   make(map[string]*slot),
		engine:  opts.Engine,
		limiter: newUnlockLimiter(opts.UnlockPerMinute, opts.UnlockBurst),
		maxTTL:  maxTTL,
		log:     log,
		now:     now,
	}
}

// ResolveRequest identifies the database and carries optional key material.
type ResolveRequest struct {
	// Identity is the canonical database path (see keepass.Identity).
	Identity string

	// KeyFile is an absolute key file path, or empty.
	KeyFile string

	// Credential is the master password. The registry takes ownership and
	// destroys it before Resolve returns. Nil asks for a cached session only.
	Credential *secure.Bytes

	// TTL is the lifetime of a newly unlocked session.
	TTL time.Duration
}

// Lease holds the exclusive region of one identity. Release it on every
// path; Release is idempotent.
type Lease struct {
	r        *Registry
	identity string
	slot     *slot
	session  *Session
	unlocked bool
	once     sync.Once
}

// Session returns the leased session. It is valid until Release.
func (l *Lease) Session() *Session {
	return l.session
}

// Unlocked reports whether this resolve decrypted the database rather than
// reusing a cached session.
func (l *Lease) Unlocked() bool {
	return l.unlocked
}

// Release leaves the exclusive region.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.slot.sem.Release(1)
		l.r.unref(l.identity, l.slot)
	})
}

// Resolve returns a lease on the live session for req.Identity, unlocking
// the database when no usable session exists. It blocks while another
// request holds the same identity, until ctx is done.
//
// A session created with a different key file is not usable. Without a
// credential, the absence of a usable session yields kperr.ErrNoSession.
// A failed unlock leaves the registry unchanged.
func (r *Registry) Resolve(ctx context.Context, req ResolveRequest) (*Lease, error) {
	defer req.Credential.Destroy()

	keyID, err := keepass.KeyFileIdentity(req.KeyFile)
	if err != nil {
		return nil, err
	}

	sl, err := r.acquire(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	lease := &Lease{r: r, identity: req.Identity, slot: sl}

	sess, unlocked, err := r.resolveHeld(sl, req, keyID)
	if err != nil {
		lease.Release()
		return nil, err
	}
	lease.session = sess
	lease.unlocked = unlocked
	return lease, nil
}

// resolveHeld runs with sl.sem held.
func (r *Registry) resolveHeld(sl *slot, req ResolveRequest, keyID string) (*Session, bool, error) {
	now := r.now()

	r.mu.Lock()
	current := sl.session
	r.mu.Unlock()

	if current != nil && current.expired(now) {
		r.log.Debug("%v: %s (expired %s)", ErrSessionExpired, req.Identity, current.ExpiresAt().Format(time.RFC3339))
		r.purgeHeld(sl)
		current = nil
	}

	if current != nil && current.KeyFileIdentity == keyID {
		return current, false, nil
	}

	if req.Credential == nil {
		return nil, false, kperr.ErrNoSession
	}

	if !r.limiter.Allow(req.Identity) {
		return nil, false, kperr.WithDetails(kperr.ErrThrottled, map[string]string{"database": req.Identity})
	}

	h, err := r.engine.Open(keepass.OpenRequest{
		Path:     req.Identity,
		KeyFile:  req.KeyFile,
		Password: req.Credential,
	})
	if err != nil {
		return nil, false, err
	}

	sess := &Session{
		Identity:        req.Identity,
		KeyFileIdentity: keyID,
		UnlockedAt:      now,
		TTL:             clampTTL(req.TTL, r.maxTTL),
		handle:          h,
	}

	// A session under a different key file is replaced, never duplicated.
	if current != nil {
		r.purgeHeld(sl)
	}
	r.mu.Lock()
	sl.session = sess
	r.mu.Unlock()

	r.log.Info("unlocked %s until %s", req.Identity, sess.ExpiresAt().Format(time.RFC3339))
	return sess, true, nil
}

// acquire registers interest in identity and enters its exclusive region.
func (r *Registry) acquire(ctx context.Context, identity string) (*slot, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	return r.acquireAny(ctx, identity)
}

// unref drops interest in identity, forgetting the slot once it is unused.
func (r *Registry) unref(identity string, sl *slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sl.refs--
	if sl.refs == 0 && sl.session == nil {
		delete(r.slots, identity)
	}
}

// purgeHeld closes and forgets the slot's session. Runs with sl.sem held.
func (r *Registry) purgeHeld(sl *slot) {
	r.mu.Lock()
	sess := sl.session
	sl.session = nil
	r.mu.Unlock()

	if sess != nil {
		_ = sess.handle.Close()
	}
}

// Sessions lists live sessions ordered by identity.
func (r *Registry) Sessions() []Info {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.slots))
	for _, sl := range r.slots {
		s := sl.session
		if s == nil || s.expired(now) {
			continue
		}
		out = append(out, Info{
			Identity:   s.Identity,
			KeyFile:    s.KeyFileIdentity != "",
			UnlockedAt: s.UnlockedAt,
			ExpiresAt:  s.ExpiresAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Live counts unexpired sessions. Expired sessions still held count as
// absent.
func (r *Registry) Live() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, sl := range r.slots {
		if sl.session != nil && !sl.session.expired(now) {
			n++
		}
	}
	return n
}

// End purges the session for identity, waiting for any in-flight request on
// it. It reports whether a session was removed.
func (r *Registry) End(ctx context.Context, identity string) (bool, error) {
	r.mu.Lock()
	_, ok := r.slots[identity]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	sl, err := r.acquireAny(ctx, identity)
	if err != nil {
		return false, err
	}
	defer func() {
		sl.sem.Release(1)
		r.unref(identity, sl)
	}()

	r.mu.Lock()
	had := sl.session != nil
	r.mu.Unlock()
	r.purgeHeld(sl)

	if had {
		r.log.Info("locked %s", identity)
	}
	return had, nil
}

// EndAll purges every session and returns how many were removed.
func (r *Registry) EndAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		had, err := r.End(ctx, id)
		if err != nil {
			return n, err
		}
		if had {
			n++
		}
	}
	return n, nil
}

// Close refuses new requests and destroys every session once in-flight
// requests have released their leases.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	_, err := r.EndAll(context.Background())
	return err
}

// acquireAny is acquire without the closed check, used by teardown.
func (r *Registry) acquireAny(ctx context.Context, identity string) (*slot, error) {
	r.mu.Lock()
	sl, ok := r.slots[identity]
	if !ok {
		sl = &slot{sem: semaphore.NewWeighted(1)}
		r.slots[identity] = sl
	}
	sl.refs++
	r.mu.Unlock()

	if err := sl.sem.Acquire(ctx, 1); err != nil {
		r.unref(identity, sl)
		return nil, err
	}
	return sl, nil
}
