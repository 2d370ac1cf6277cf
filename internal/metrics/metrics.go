// Package metrics provides daemon-level counters.
// It is a lightweight foundation using atomic counters; the daemon reports a
// Snapshot through its status operation.
package metrics

import (
	"errors"
	"sync/atomic"
	"time"

	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Metrics holds daemon counters using atomics for thread safety.
type Metrics struct {
	// Request metrics
	requestsTotal   atomic.Int64
	requestErrors   atomic.Int64
	requestLatency  atomic.Int64
	connectionsOpen atomic.Int64

	// Session metrics
	sessionHits    atomic.Int64
	unlocks        atomic.Int64
	unlockFailures atomic.Int64
	throttled      atomic.Int64
}

// RecordRequest records a completed request with its duration and outcome.
func (m *Metrics) RecordRequest(duration time.Duration, err error) {
	m.requestsTotal.Add(1)
	m.requestLatency.Add(duration.Nanoseconds())

	if err == nil {
		return
	}
	m.requestErrors.Add(1)

	switch {
	case errors.Is(err, kperr.ErrCredentials):
		m.unlockFailures.Add(1)
	case errors.Is(err, kperr.ErrThrottled):
		m.throttled.Add(1)
	}
}

// RecordResolve records whether a request was served from a cached session
// or had to decrypt the database.
func (m *Metrics) RecordResolve(unlocked bool) {
	if unlocked {
		m.unlocks.Add(1)
		return
	}
	m.sessionHits.Add(1)
}

// ConnectionOpened and ConnectionClosed track open client connections.
func (m *Metrics) ConnectionOpened() { m.connectionsOpen.Add(1) }

// ConnectionClosed decrements the open connection count.
func (m *Metrics) ConnectionClosed() { m.connectionsOpen.Add(-1) }

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	RequestsTotal   int64   `json:"requests_total"`
	RequestErrors   int64   `json:"request_errors"`
	LatencyAvgMs    float64 `json:"latency_avg_ms"`
	OpenConnections int64   `json:"open_connections"`
	SessionHits     int64   `json:"session_hits"`
	Unlocks         int64   `json:"unlocks"`
	UnlockFailures  int64   `json:"unlock_failures"`
	Throttled       int64   `json:"throttled"`
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RequestsTotal:   m.requestsTotal.Load(),
		RequestErrors:   m.requestErrors.Load(),
		LatencyAvgMs:    m.LatencyAvgMs(),
		OpenConnections: m.connectionsOpen.Load(),
		SessionHits:     m.sessionHits.Load(),
		Unlocks:         m.unlocks.Load(),
		UnlockFailures:  m.unlockFailures.Load(),
		Throttled:       m.throttled.Load(),
	}
}

// OpenConnections returns the number of connections currently being served.
func (m *Metrics) OpenConnections() int64 {
	return m.connectionsOpen.Load()
}

// LatencyAvgMs returns the average request latency in milliseconds.
// Returns 0 if no requests have completed.
func (m *Metrics) LatencyAvgMs() float64 {
	total := m.requestsTotal.Load()
	if total == 0 {
		return 0
	}
	return float64(m.requestLatency.Load()) / float64(total) / 1e6
}

// HitRate returns the share of resolved requests served from a cached
// session as a percentage (0-100).
func (m *Metrics) HitRate() float64 {
	hits := m.sessionHits.Load()
	total := hits + m.unlocks.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Reset resets all metrics to zero.
// Useful for testing.
func (m *Metrics) Reset() {
	m.requestsTotal.Store(0)
	m.requestErrors.Store(0)
	m.requestLatency.Store(0)
	m.connectionsOpen.Store(0)
	m.sessionHits.Store(0)
	m.unlocks.Store(0)
	m.unlockFailures.Store(0)
	m.throttled.Store(0)
}
