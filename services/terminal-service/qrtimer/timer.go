// Package qrtimer counts down the validity window of a displayed payment
// code.
package qrtimer

import (
	"sync"
	"time"
)

// DefaultDuration is how long a QR code stays scannable.
const DefaultDuration = 300 * time.Second

// Timer runs at most one countdown at a time. Starting again replaces the
// running countdown and a stopped countdown never fires.
type Timer struct {
	mu       sync.Mutex
	duration time.Duration
	now      func() time.Time
	timer    *time.Timer
	deadline time.Time
	gen      uint64
	running  bool
	expired  bool
}

func New(d time.Duration) *Timer {
	if d <= 0 {
		d = DefaultDuration
	}
	return &Timer{duration: d, now: time.Now}
}

func (t *Timer) Duration() time.Duration { return t.duration }

// Start begins a countdown and returns its deadline. onExpire runs on its
// own goroutine when the countdown reaches zero without being stopped.
func (t *Timer) Start(onExpire func()) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.running = true
	t.expired = false
	t.deadline = t.now().Add(t.duration)

	t.timer = time.AfterFunc(t.duration, func() {
		t.mu.Lock()
		if gen != t.gen || !t.running {
			t.mu.Unlock()
			return
		}
		t.running = false
		t.expired = true
		t.mu.Unlock()

		if onExpire != nil {
			onExpire()
		}
	})
	return t.deadline
}

// Stop cancels the running countdown, if any.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.expired = false
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.running = false
}

// Remaining is the time left on the running countdown, zero otherwise.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	left := t.deadline.Sub(t.now())
	if left < 0 {
		return 0
	}
	return left
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Expired reports whether the last countdown reached zero.
func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}
