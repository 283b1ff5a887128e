package settlement

import (
	"context"
	"errors"
	"time"
)

// Instruction is the one-time settlement order for a terminal session.
// The dispatcher never holds money; it only delivers this instruction to the
// external ledger, which owns balance mutation.
type Instruction struct {
	SessionID string `json:"session_id"`

	GrossMinor      int64 `json:"gross_minor"`
	CommissionMinor int64 `json:"commission_minor"`
	NetMinor        int64 `json:"net_minor"`

	CallerID string `json:"caller_id"`
	CalleeID string `json:"callee_id"`
	Currency string `json:"currency"`

	EndReason string `json:"end_reason"`
}

// Result reports what the ledger did with an instruction.
type Result string

const (
	ResultRecorded        Result = "recorded"
	ResultAlreadyRecorded Result = "already_recorded"
)

// Ledger is the external settlement sink.
//
// RecordSettlement must be idempotent by session ID: a second delivery for the
// same session returns ResultAlreadyRecorded and credits nothing.
type Ledger interface {
	RecordSettlement(ctx context.Context, in Instruction) (Result, error)
}

// Recorded is a settlement as stored by a ledger, for reconciliation tooling.
type Recorded struct {
	Instruction
	SettledAt time.Time `json:"settled_at"`
}

var (
	ErrInvalidInstruction = errors.New("settlement: invalid instruction")
	ErrDeliveryFailed     = errors.New("settlement: delivery failed, queued for reconciliation")
)

func (in Instruction) validate() error {
	if in.SessionID == "" {
		return ErrInvalidInstruction
	}
	if in.GrossMinor < 0 || in.CommissionMinor < 0 || in.NetMinor < 0 {
		return ErrInvalidInstruction
	}
	if in.CommissionMinor+in.NetMinor != in.GrossMinor {
		return ErrInvalidInstruction
	}
	return nil
}
