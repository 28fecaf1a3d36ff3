package clock

import (
	"sync"
	"time"
)

// Manual provides a controllable clock for deterministic tests. In stepping
// mode every After call advances the clock by the requested duration and
// fires immediately, which lets polling loops run to completion without a
// driver goroutine.
type Manual struct {
	mu       sync.Mutex
	now      time.Time
	timers   []*manualTimer
	stepping bool
	waits    []time.Duration
}

type manualTimer struct {
	at time.Time
	ch chan time.Time
}

// NewManual constructs a Manual clock starting at the supplied time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// NewStepping constructs a Manual clock in stepping mode.
func NewStepping(start time.Time) *Manual {
	m := NewManual(start)
	m.stepping = true
	return m
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that fires when the manual clock advances by d.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	m.waits = append(m.waits, d)
	if m.stepping && d > 0 {
		m.now = m.now.Add(d)
	}
	if d <= 0 || m.stepping {
		now := m.now
		m.mu.Unlock()
		ch <- now
		return ch
	}
	m.timers = append(m.timers, &manualTimer{at: m.now.Add(d), ch: ch})
	m.mu.Unlock()
	return ch
}

// Advance moves time forward by d and fires any due timers.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	remaining := m.timers[:0]
	for _, timer := range m.timers {
		if timer.at.After(m.now) {
			remaining = append(remaining, timer)
			continue
		}
		timer.ch <- m.now
	}
	m.timers = remaining
	return m.now
}

// Pending returns the number of scheduled timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Waits returns every duration passed to After so far.
func (m *Manual) Waits() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.waits))
	copy(out, m.waits)
	return out
}
