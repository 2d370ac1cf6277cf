// Package secure holds credential material in locked, zeroable memory.
// Passwords read from the terminal or received by the cache daemon live in
// a Bytes value until the database is unlocked, then are wiped.
package secure

import (
	"runtime"
	"sync"
	"sync/atomic"
)

//nolint:gochecknoglobals // Process-wide switch set once from configuration
var memoryLock atomic.Bool

//nolint:gochecknoinits // Locking is on unless configuration turns it off
func init() {
	memoryLock.Store(true)
}

// SetMemoryLock turns mlock of new values on or off. Values already created
// keep their state.
func SetMemoryLock(enabled bool) {
	memoryLock.Store(enabled)
}

// Bytes wraps a sensitive byte slice with mlock and explicit zeroing.
type Bytes struct {
	data   []byte
	locked bool
	mu     sync.Mutex
}

// New copies data into locked memory and zeroes the source slice.
// The memory lock is best effort.
func New(data []byte) *Bytes {
	b := &Bytes{data: make([]byte, len(data))}
	copy(b.data, data)
	Zero(data)

	if memoryLock.Load() {
		b.locked = mlock(b.data)
	}

	// Clear the memory even if Destroy is never called
	runtime.SetFinalizer(b, func(s *Bytes) {
		s.Destroy()
	})

	return b
}

// FromString copies s into locked memory. The string itself cannot be wiped.
func FromString(s string) *Bytes {
	return New([]byte(s))
}

// Bytes returns the underlying slice, or nil once destroyed.
func (b *Bytes) Bytes() []byte {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// String returns a copy of the contents as a string. Libraries that only
// accept strings force this copy; keep its lifetime short.
func (b *Bytes) String() string {
	return string(b.Bytes())
}

// Len returns the length of the data.
func (b *Bytes) Len() int {
	return len(b.Bytes())
}

// IsLocked reports whether the memory is mlocked.
func (b *Bytes) IsLocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Destroy zeros and unlocks the memory. Safe to call multiple times and on nil.
func (b *Bytes) Destroy() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return
	}

	Zero(b.data)
	if b.locked {
		munlock(b.data)
		b.locked = false
	}
	b.data = nil

	runtime.SetFinalizer(b, nil)
}

// Zero overwrites b with zeros.
// runtime.KeepAlive prevents the compiler from eliding the writes as dead stores.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
