package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
	BySession(ctx context.Context, sessionID string) ([]Event, error)
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Type == EventTypeTransition && e.SessionID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records one session state transition.
func (s *Service) LogTransition(ctx context.Context, sessionID, fromState, toState, endReason string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeTransition,
		SessionID: sessionID,
		FromState: fromState,
		ToState:   toState,
		EndReason: endReason,
	})
}

// LogAdminAction records an admin action (including hidden roles).
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, sessionID string, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		SessionID:   sessionID,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogSettlement records that a settlement reached the ledger.
func (s *Service) LogSettlement(ctx context.Context, sessionID, metadata string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeSettlement,
		SessionID: sessionID,
		Message:   "settlement recorded",
		Metadata:  metadata,
	})
}

// SessionTrail returns the audit records for one session, oldest first.
func (s *Service) SessionTrail(ctx context.Context, sessionID string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.BySession(ctx, sessionID)
}
