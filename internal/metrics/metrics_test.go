package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

func TestMetrics_RecordRequest(t *testing.T) {
	t.Parallel()
	m := &Metrics{}

	m.RecordRequest(100*time.Millisecond, nil)
	m.RecordRequest(50*time.Millisecond, kperr.ErrCredentials)
	m.RecordRequest(30*time.Millisecond, kperr.Wrap(kperr.ErrThrottled, "db"))
	m.RecordRequest(20*time.Millisecond, kperr.ErrNoSession)

	snap := m.Snapshot()
	assert.Equal(t, int64(4), snap.RequestsTotal)
	assert.Equal(t, int64(3), snap.RequestErrors)
	assert.Equal(t, int64(1), snap.UnlockFailures)
	assert.Equal(t, int64(1), snap.Throttled)
	assert.InDelta(t, 50.0, snap.LatencyAvgMs, 0.001)
}

func TestMetrics_HitRate(t *testing.T) {
	t.Parallel()
	m := &Metrics{}

	assert.InDelta(t, 0.0, m.HitRate(), 0.001)

	// 1 unlock then 3 cached = 75%
	m.RecordResolve(true)
	m.RecordResolve(false)
	m.RecordResolve(false)
	m.RecordResolve(false)

	assert.InDelta(t, 75.0, m.HitRate(), 0.001)
	assert.Equal(t, int64(1), m.Snapshot().Unlocks)
	assert.Equal(t, int64(3), m.Snapshot().SessionHits)
}

func TestMetrics_Connections(t *testing.T) {
	t.Parallel()
	m := &Metrics{}

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.ConnectionOpened()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), m.OpenConnections())

	for range 20 {
		m.ConnectionClosed()
	}
	assert.Equal(t, int64(30), m.OpenConnections())
}

func TestMetrics_Reset(t *testing.T) {
	t.Parallel()
	m := &Metrics{}
	m.RecordRequest(time.Millisecond, kperr.ErrCredentials)
	m.RecordResolve(true)
	m.ConnectionOpened()

	m.Reset()
	assert.Equal(t, Snapshot{}, m.Snapshot())
}
