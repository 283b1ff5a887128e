package booking

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo reads call terms from the bookings table owned by the
// marketplace. The engine only ever reads; booking CRUD lives elsewhere.
//
// Assumed schema:
//   bookings(session_id PK, caller_id, callee_id, media_kind,
//            rate_per_minute_minor, commission_percent, currency)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CallTerms(ctx context.Context, sessionID string) (CallTerms, error) {
	const q = `
SELECT session_id, caller_id, callee_id, media_kind, rate_per_minute_minor, commission_percent, currency
FROM bookings
WHERE session_id = $1
`
	var t CallTerms
	if err := r.db.QueryRowContext(ctx, q, sessionID).Scan(
		&t.SessionID,
		&t.CallerID,
		&t.CalleeID,
		&t.MediaKind,
		&t.RatePerMinuteMinor,
		&t.CommissionPercent,
		&t.Currency,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallTerms{}, ErrTermsNotFound
		}
		return CallTerms{}, err
	}
	return t, nil
}
