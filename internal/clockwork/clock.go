// Package clockwork provides an injectable monotonic time source. Every TTL,
// cooldown, and rate window in the runtime computes from a Clock so tests can
// advance time deterministically.
package clockwork

import (
	"sync"
	"time"
)

// Clock is the time source injected throughout the runtime.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NowMillis returns the current time in Unix milliseconds.
	NowMillis() int64
}

// System is a Clock backed by the wall clock.
type System struct{}

// NewSystem returns the wall-clock Clock.
func NewSystem() *System { return &System{} }

func (s *System) Now() time.Time   { return time.Now() }
func (s *System) NowMillis() int64 { return time.Now().UnixMilli() }

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NowMillis() int64 {
	return f.Now().UnixMilli()
}

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to an absolute time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
