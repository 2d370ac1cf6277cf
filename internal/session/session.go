// Package session holds decrypted databases in memory for a bounded time.
// A Registry keeps at most one Session per database identity, serializes
// every use of a Session's handle, and expires sessions lazily when the next
// request for that identity arrives.
package session

import (
	"errors"
	"time"

	"github.com/mrz1836/kpfind/internal/keepass"
)

// TTL bounds.
const (
	// MinTTL is the shortest session lifetime.
	MinTTL = 1 * time.Second

	// DefaultMaxTTL caps session lifetime when no maximum is configured.
	DefaultMaxTTL = 12 * time.Hour
)

// Session errors.
var (
	// ErrSessionExpired marks a session found past its expiry. It never
	// leaves the registry: the caller sees the same outcome as no session.
	ErrSessionExpired = errors.New("session expired")

	// ErrRegistryClosed is returned once the registry has been torn down.
	ErrRegistryClosed = errors.New("session registry closed")
)

// Session is a decrypted database with its unlock time and lifetime.
// The handle never leaves the daemon process.
type Session struct {
	Identity        string
	KeyFileIdentity string
	UnlockedAt      time.Time
	TTL             time.Duration

	handle keepass.Handle
}

// ExpiresAt is the first instant at which the session is no longer usable.
func (s *Session) ExpiresAt() time.Time {
	return s.UnlockedAt.Add(s.TTL)
}

// expired reports whether the session is unusable at now.
func (s *Session) expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

// Remaining returns the time left before expiry, or 0.
func (s *Session) Remaining(now time.Time) time.Duration {
	remaining := s.ExpiresAt().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Records enumerates the decrypted database. Only call it while holding the
// Lease that returned the session.
func (s *Session) Records() ([]keepass.Record, error) {
	return s.handle.Records()
}

// Info describes a live session without exposing its handle.
type Info struct {
	Identity   string    `json:"database"`
	KeyFile    bool      `json:"key_file"`
	UnlockedAt time.Time `json:"unlocked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// clampTTL bounds ttl to [MinTTL, maxTTL].
func clampTTL(ttl, maxTTL time.Duration) time.Duration {
	if ttl < MinTTL {
		ttl = MinTTL
	}
	if maxTTL > 0 && ttl > maxTTL {
		ttl = maxTTL
	}
	return ttl
}
