package reporting

import (
	"context"
	"errors"
	"time"

	"call-engine/internal/session"
	"call-engine/internal/settlement"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations should query immutable sources when possible (settlement
// records, audit, session records).

type Repository interface {
	ListSessions(ctx context.Context, from, to time.Time, calleeID string) ([]session.CallSession, error)
	ListSettlements(ctx context.Context, from, to time.Time, calleeID string) ([]settlement.Recorded, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) SessionsSummary(ctx context.Context, req SessionsSummaryRequest) (SessionsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SessionsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SessionsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSessions(ctx, req.Range.From, req.Range.To, req.CalleeID)
	if err != nil {
		return SessionsSummary{}, err
	}

	out := SessionsSummary{CalleeID: req.CalleeID}
	for _, r := range rows {
		out.TotalSessions++
		out.TotalConnectedSeconds += r.ConnectedDurationSeconds
		switch r.State {
		case session.StateEnded:
			out.CompletedSessions++
		case session.StateFailed:
			out.FailedSessions++
		default:
			out.LiveSessions++
		}
		switch r.EndReason {
		case session.EndReasonRingTimeout:
			out.RingTimeouts++
		case session.EndReasonConnectTimeout:
			out.ConnectTimeouts++
		case session.EndReasonTransportFailure:
			out.TransportFailures++
		case session.EndReasonHangupCaller, session.EndReasonHangupCallee:
			// counted under CompletedSessions
		}
	}
	if out.TotalSessions > 0 {
		out.AverageConnectedSeconds = out.TotalConnectedSeconds / out.TotalSessions
	}
	return out, nil
}

func (s *Service) EarningsSummary(ctx context.Context, req EarningsSummaryRequest) (EarningsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return EarningsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return EarningsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSettlements(ctx, req.Range.From, req.Range.To, req.CalleeID)
	if err != nil {
		return EarningsSummary{}, err
	}

	out := EarningsSummary{CalleeID: req.CalleeID, Currency: req.Currency}
	for _, r := range rows {
		// currency normalization: if request specified currency, filter; else populate from first row.
		if out.Currency == "" {
			out.Currency = r.Currency
		}
		if req.Currency != "" && r.Currency != req.Currency {
			continue
		}

		out.SettledSessions++
		out.GrossMinor += r.GrossMinor
		out.CommissionMinor += r.CommissionMinor
		out.NetMinor += r.NetMinor
	}
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}
