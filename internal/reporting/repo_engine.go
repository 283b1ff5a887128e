package reporting

import (
	"context"
	"errors"
	"time"

	"call-engine/internal/session"
	"call-engine/internal/settlement"
)

// SessionLister exposes the engine's current session snapshots.
// *session.Manager implements it.
type SessionLister interface {
	Sessions() []session.CallSession
}

// SettlementLister reads recorded settlements. *settlement.PostgresLedger
// implements it.
type SettlementLister interface {
	ListSettlements(ctx context.Context, from, to time.Time, calleeID string) ([]settlement.Recorded, error)
}

// EngineRepo backs reporting with the live engine for sessions and the
// settlement ledger for earnings. Session summaries therefore only cover
// sessions this process has seen; settlements are durable.
type EngineRepo struct {
	SessionSource    SessionLister
	SettlementSource SettlementLister
}

func (r *EngineRepo) ListSessions(ctx context.Context, from, to time.Time, calleeID string) ([]session.CallSession, error) {
	if r.SessionSource == nil {
		return nil, errors.New("reporting: session source not configured")
	}
	out := make([]session.CallSession, 0)
	for _, s := range r.SessionSource.Sessions() {
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

func (r *EngineRepo) ListSettlements(ctx context.Context, from, to time.Time, calleeID string) ([]settlement.Recorded, error) {
	if r.SettlementSource == nil {
		return nil, errors.New("reporting: settlement source not configured")
	}
	return r.SettlementSource.ListSettlements(ctx, from, to, calleeID)
}
