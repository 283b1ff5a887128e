package settlement

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"call-engine/pkg/utils"

	"github.com/google/uuid"
)

// PostgresLedger records settlements against Postgres.
//
// Money invariants (same discipline as any wallet ledger):
// - No balance update without an append-only ledger entry.
// - All writes for one settlement happen in one transaction.
// - Idempotency is enforced by the settlements primary key (session_id):
//   the insert is ON CONFLICT DO NOTHING, and a conflicting insert makes the
//   whole call a no-op reported as ResultAlreadyRecorded.
//
// Assumed tables:
//   settlements(session_id PK, caller_id, callee_id, gross_minor,
//               commission_minor, net_minor, currency, end_reason, settled_at)
//   account_ledger(id PK, account_id, amount_minor, currency, external_ref, created_at)
//   account_balances(account_id PK, currency, balance_minor, updated_at)
type PostgresLedger struct {
	db    *sql.DB
	clock func() time.Time
}

// PlatformAccountID receives the commission side of every settlement.
const PlatformAccountID = "platform"

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db, clock: time.Now}
}

func (l *PostgresLedger) RecordSettlement(ctx context.Context, in Instruction) (Result, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	if in.CalleeID == "" {
		return "", ErrInvalidInstruction
	}

	now := l.clock().UTC()
	result := ResultRecorded

	err := utils.WithTx(ctx, l.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		inserted, err := insertSettlement(ctx, tx, in, now)
		if err != nil {
			return err
		}
		if !inserted {
			result = ResultAlreadyRecorded
			return nil
		}

		if in.NetMinor > 0 {
			if err := creditAccount(ctx, tx, in.CalleeID, in.NetMinor, in.Currency, in.SessionID, now); err != nil {
				return err
			}
		}
		if in.CommissionMinor > 0 {
			if err := creditAccount(ctx, tx, PlatformAccountID, in.CommissionMinor, in.Currency, in.SessionID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// GetRecorded returns a stored settlement for reconciliation tooling.
func (l *PostgresLedger) GetRecorded(ctx context.Context, sessionID string) (Recorded, error) {
	const q = `
SELECT session_id, caller_id, callee_id, gross_minor, commission_minor, net_minor, currency, end_reason, settled_at
FROM settlements
WHERE session_id = $1
`
	var r Recorded
	if err := l.db.QueryRowContext(ctx, q, sessionID).Scan(
		&r.SessionID,
		&r.CallerID,
		&r.CalleeID,
		&r.GrossMinor,
		&r.CommissionMinor,
		&r.NetMinor,
		&r.Currency,
		&r.EndReason,
		&r.SettledAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recorded{}, errors.New("settlement: not recorded")
		}
		return Recorded{}, err
	}
	return r, nil
}

// ListSettlements returns settlements in [from, to), optionally filtered by
// callee, oldest first. Reporting reads through this.
func (l *PostgresLedger) ListSettlements(ctx context.Context, from, to time.Time, calleeID string) ([]Recorded, error) {
	const q = `
SELECT session_id, caller_id, callee_id, gross_minor, commission_minor, net_minor, currency, end_reason, settled_at
FROM settlements
WHERE settled_at >= $1 AND settled_at < $2
  AND ($3 = '' OR callee_id = $3)
ORDER BY settled_at
`
	rows, err := l.db.QueryContext(ctx, q, from, to, calleeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recorded
	for rows.Next() {
		var r Recorded
		if err := rows.Scan(
			&r.SessionID,
			&r.CallerID,
			&r.CalleeID,
			&r.GrossMinor,
			&r.CommissionMinor,
			&r.NetMinor,
			&r.Currency,
			&r.EndReason,
			&r.SettledAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func insertSettlement(ctx context.Context, tx *sql.Tx, in Instruction, now time.Time) (bool, error) {
	const q = `
INSERT INTO settlements (
  session_id, caller_id, callee_id, gross_minor, commission_minor, net_minor, currency, end_reason, settled_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (session_id) DO NOTHING
`
	res, err := tx.ExecContext(ctx, q,
		in.SessionID,
		in.CallerID,
		in.CalleeID,
		in.GrossMinor,
		in.CommissionMinor,
		in.NetMinor,
		in.Currency,
		in.EndReason,
		now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func creditAccount(ctx context.Context, tx *sql.Tx, accountID string, amountMinor int64, currency, sessionID string, now time.Time) error {
	const insertEntry = `
INSERT INTO account_ledger (id, account_id, amount_minor, currency, external_ref, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	if _, err := tx.ExecContext(ctx, insertEntry,
		uuid.NewString(),
		accountID,
		amountMinor,
		currency,
		sessionID,
		now,
	); err != nil {
		return err
	}

	const upsertBalance = `
INSERT INTO account_balances (account_id, currency, balance_minor, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (account_id)
DO UPDATE SET balance_minor = account_balances.balance_minor + EXCLUDED.balance_minor,
              updated_at = EXCLUDED.updated_at
`
	_, err := tx.ExecContext(ctx, upsertBalance, accountID, currency, amountMinor, now)
	return err
}
