package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SessionsSummaryRequest requests aggregated session metrics.
// CalleeID narrows the summary to one provider; empty means platform-wide.

type SessionsSummaryRequest struct {
	Range    TimeRange `json:"range"`
	CalleeID string    `json:"callee_id,omitempty"`
}

type SessionsSummary struct {
	CalleeID string `json:"callee_id,omitempty"`

	TotalSessions     int `json:"total_sessions"`
	CompletedSessions int `json:"completed_sessions"`
	FailedSessions    int `json:"failed_sessions"`
	LiveSessions      int `json:"live_sessions"`

	RingTimeouts      int `json:"ring_timeouts"`
	ConnectTimeouts   int `json:"connect_timeouts"`
	TransportFailures int `json:"transport_failures"`

	TotalConnectedSeconds   int `json:"total_connected_seconds"`
	AverageConnectedSeconds int `json:"average_connected_seconds"`
}

// EarningsSummaryRequest requests aggregated settlement metrics.
// Earnings are derived from immutable settlement records, never recomputed
// from session snapshots.

type EarningsSummaryRequest struct {
	Range    TimeRange `json:"range"`
	CalleeID string    `json:"callee_id,omitempty"`
	Currency string    `json:"currency,omitempty"`
}

type EarningsSummary struct {
	CalleeID string `json:"callee_id,omitempty"`
	Currency string `json:"currency"`

	SettledSessions int `json:"settled_sessions"`

	GrossMinor      int64 `json:"gross_minor"`
	CommissionMinor int64 `json:"commission_minor"`
	NetMinor        int64 `json:"net_minor"`
}
