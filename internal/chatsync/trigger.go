package chatsync

import (
	"sync"
	"time"
)

// Trigger coalesces bursts of requests into one call of fn. Schedule arms a
// timer only if none is pending; Stop cancels it for good. Runs of fn never
// overlap: a Schedule during a run arms the next one for after it returns.
type Trigger struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	armed   bool
	running bool
	stopped bool
}

func NewTrigger(delay time.Duration, fn func()) *Trigger {
	return &Trigger{delay: delay, fn: fn}
}

// Schedule arms the trigger. It returns false when a run is already pending or
// the trigger was stopped.
func (t *Trigger) Schedule() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed || t.stopped {
		return false
	}
	t.armed = true
	if !t.running {
		t.timer = time.AfterFunc(t.delay, t.fire)
	}
	return true
}

// Flush runs fn now if a run is pending and none is in progress.
func (t *Trigger) Flush() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	t.fire()
}

// Pending reports whether a run is scheduled.
func (t *Trigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.armed = false
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *Trigger) fire() {
	t.mu.Lock()
	if !t.armed || t.stopped || t.running {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.running = true
	t.mu.Unlock()

	t.fn()

	t.mu.Lock()
	t.running = false
	if t.armed && !t.stopped {
		t.timer = time.AfterFunc(t.delay, t.fire)
	}
	t.mu.Unlock()
}
