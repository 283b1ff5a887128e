package session

import (
	"sync"
	"time"
)

// EventType distinguishes the two notification streams the engine emits.
type EventType string

const (
	// EventStateChange is emitted on every state transition.
	EventStateChange EventType = "state_change"
	// EventDurationUpdate is emitted at the tick cadence while connected,
	// for live-earnings display. Billing never reads it.
	EventDurationUpdate EventType = "duration_update"
)

// Event is delivered to subscribers at least once and best-effort; consumers
// must de-duplicate by (session_id, new_state) and tolerate drops of
// duration updates.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`

	PreviousState State     `json:"previous_state,omitempty"`
	NewState      State     `json:"new_state"`
	EndReason     EndReason `json:"end_reason,omitempty"`

	ConnectedSeconds    int   `json:"connected_seconds"`
	ProvisionalNetMinor int64 `json:"provisional_net_minor"`

	At time.Time `json:"at"`
}

// Broadcaster fans events out to subscribers. Delivery is non-blocking: a
// subscriber that falls behind loses events rather than stalling the engine.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a receive channel and a cancel function. Cancel closes
// the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers e to every subscriber without blocking.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
