package booking

import (
	"context"
	"errors"
)

// CallTerms are the commercial terms of one booked call attempt.
// They are read once at session creation and fixed for the session's lifetime.
type CallTerms struct {
	SessionID string `json:"session_id" db:"session_id"`

	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`

	// MediaKind is "audio" or "video".
	MediaKind string `json:"media_kind" db:"media_kind"`

	RatePerMinuteMinor int64  `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`
	CommissionPercent  int    `json:"commission_percent" db:"commission_percent"`
	Currency           string `json:"currency" db:"currency"`
}

var (
	ErrTermsNotFound = errors.New("booking: call terms not found")
	ErrInvalidTerms  = errors.New("booking: invalid call terms")
)

// TermsSource resolves the terms for a session.
// Implementations: Postgres (bookings table), memory (tests).
type TermsSource interface {
	CallTerms(ctx context.Context, sessionID string) (CallTerms, error)
}

// Validate rejects terms the engine cannot bill against.
func (t CallTerms) Validate() error {
	if t.SessionID == "" || t.CallerID == "" || t.CalleeID == "" {
		return ErrInvalidTerms
	}
	if t.MediaKind != "audio" && t.MediaKind != "video" {
		return ErrInvalidTerms
	}
	if t.RatePerMinuteMinor < 0 {
		return ErrInvalidTerms
	}
	if t.CommissionPercent < 0 || t.CommissionPercent > 100 {
		return ErrInvalidTerms
	}
	return nil
}
