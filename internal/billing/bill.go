package billing

import "errors"

// Bill is the authoritative breakdown for one call session.
//
// Amounts are expressed in minor units (e.g., cents) using int64.
// This is the single formula for every figure shown to either party:
// live duration updates and final settlement must both go through
// Quote, never a separate display estimate.
type Bill struct {
	ConnectedSeconds int `json:"connected_seconds"`

	// BilledMinutes is the chargeable unit count. Partial minutes round up,
	// and any session that was connected at all bills at least one minute.
	BilledMinutes int `json:"billed_minutes"`

	RatePerMinuteMinor int64 `json:"rate_per_minute_minor"`
	CommissionPercent  int   `json:"commission_percent"`

	GrossMinor      int64 `json:"gross_minor"`
	CommissionMinor int64 `json:"commission_minor"`
	NetMinor        int64 `json:"net_minor"`
}

var ErrInvalidBillInput = errors.New("billing: invalid input")

// Quote computes the bill for a session that reached the connected state.
//
// Rules:
// - billed minutes = ceil(connectedSeconds / 60), floor 1 (a connected call
//   that drops at 3s still bills one minute)
// - gross = billedMinutes * rate
// - commission = floor(gross * commissionPercent / 100), so the commission
//   never exceeds what the stated percentage implies
// - net = gross - commission
//
// Deterministic and side-effect free. commission + net == gross always holds.
func Quote(connectedSeconds int, ratePerMinuteMinor int64, commissionPercent int) (Bill, error) {
	if connectedSeconds < 0 || ratePerMinuteMinor < 0 {
		return Bill{}, ErrInvalidBillInput
	}
	if commissionPercent < 0 || commissionPercent > 100 {
		return Bill{}, ErrInvalidBillInput
	}

	minutes := billedMinutes(connectedSeconds)
	gross := int64(minutes) * ratePerMinuteMinor
	// Integer division floors for non-negative operands.
	commission := gross * int64(commissionPercent) / 100
	net := gross - commission

	return Bill{
		ConnectedSeconds:   connectedSeconds,
		BilledMinutes:      minutes,
		RatePerMinuteMinor: ratePerMinuteMinor,
		CommissionPercent:  commissionPercent,
		GrossMinor:         gross,
		CommissionMinor:    commission,
		NetMinor:           net,
	}, nil
}

// ZeroBill is the bill for a session that never reached connected.
// It carries the terms so callers can still render rate information.
func ZeroBill(ratePerMinuteMinor int64, commissionPercent int) Bill {
	return Bill{
		RatePerMinuteMinor: ratePerMinuteMinor,
		CommissionPercent:  commissionPercent,
	}
}

func billedMinutes(connectedSeconds int) int {
	if connectedSeconds <= 60 {
		return 1
	}
	m := connectedSeconds / 60
	if connectedSeconds%60 != 0 {
		m++
	}
	return m
}
