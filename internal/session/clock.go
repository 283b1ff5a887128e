package session

import (
	"sync"
	"time"
)

// SessionClock measures connected duration for one session.
//
// Elapsed time is always computed from the captured start instant and
// wall-clock now, never from counting ticks, so a suspended or re-attached
// host process cannot under- or over-count. The tick stream exists purely for
// live-earnings display; billing recomputes from the instants.
type SessionClock struct {
	now func() time.Time

	mu        sync.Mutex
	startedAt time.Time
	stoppedAt time.Time
	running   bool
	started   bool
}

func NewSessionClock(now func() time.Time) *SessionClock {
	if now == nil {
		now = time.Now
	}
	return &SessionClock{now: now}
}

// Start captures the start instant. Starting twice is a no-op.
func (c *SessionClock) Start() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return c.startedAt
	}
	c.startedAt = c.now().UTC()
	c.started = true
	c.running = true
	return c.startedAt
}

// Stop freezes the clock. Stopping an unstarted or already-stopped clock is a
// no-op. Returns the final elapsed seconds.
func (c *SessionClock) Stop() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return 0
	}
	if c.running {
		c.stoppedAt = c.now().UTC()
		c.running = false
	}
	return c.elapsedLocked()
}

// ElapsedSeconds reports whole seconds since Start (up to Stop, if stopped).
func (c *SessionClock) ElapsedSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

func (c *SessionClock) elapsedLocked() int {
	if !c.started {
		return 0
	}
	end := c.stoppedAt
	if c.running {
		end = c.now().UTC()
	}
	d := end.Sub(c.startedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
