package settlement

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger for tests and early development.
//
// FailFirst makes the first N RecordSettlement calls fail, for exercising
// the dispatcher's retry and reconciliation paths.
type MemoryLedger struct {
	mu       sync.Mutex
	recorded map[string]Recorded
	calls    int

	FailFirst int
	clock     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		recorded: make(map[string]Recorded),
		clock:    time.Now,
	}
}

func (l *MemoryLedger) RecordSettlement(ctx context.Context, in Instruction) (Result, error) {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls <= l.FailFirst {
		return "", errors.New("ledger temporarily unavailable")
	}

	if _, ok := l.recorded[in.SessionID]; ok {
		return ResultAlreadyRecorded, nil
	}
	l.recorded[in.SessionID] = Recorded{Instruction: in, SettledAt: l.clock().UTC()}
	return ResultRecorded, nil
}

// Calls reports how many RecordSettlement attempts were made.
func (l *MemoryLedger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Get returns the recorded settlement for a session, if any.
func (l *MemoryLedger) Get(sessionID string) (Recorded, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.recorded[sessionID]
	return r, ok
}

// Count reports how many distinct sessions were settled.
func (l *MemoryLedger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recorded)
}
