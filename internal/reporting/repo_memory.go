package reporting

import (
	"context"
	"sync"
	"time"

	"call-engine/internal/session"
	"call-engine/internal/settlement"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.

type MemoryRepo struct {
	mu sync.Mutex

	Sessions    []session.CallSession
	Settlements []settlement.Recorded
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListSessions(ctx context.Context, from, to time.Time, calleeID string) ([]session.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.CallSession, 0)
	for _, s := range r.Sessions {
		if !s.CreatedAt.IsZero() {
			if s.CreatedAt.Before(from) || !s.CreatedAt.Before(to) {
				continue
			}
		}
		if calleeID != "" && s.CalleeID != calleeID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *MemoryRepo) ListSettlements(ctx context.Context, from, to time.Time, calleeID string) ([]settlement.Recorded, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]settlement.Recorded, 0)
	for _, s := range r.Settlements {
		if !s.SettledAt.IsZero() {
			if s.SettledAt.Before(from) || !s.SettledAt.Before(to) {
				continue
			}
		}
		if calleeID != "" && s.CalleeID != calleeID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
