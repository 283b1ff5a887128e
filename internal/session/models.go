package session

import "time"

// State is the lifecycle position of one call session.
//
// The graph is monotone: ready -> ringing -> connecting -> connected -> ended,
// with failed reachable from any non-terminal state. No transition ever
// revisits ready, and the two terminal states absorb all further input.
type State string

const (
	StateReady      State = "ready"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// EndReason records why a session reached a terminal state.
// Set exactly once, at the terminal transition.
type EndReason string

const (
	EndReasonHangupCaller     EndReason = "hangup_caller"
	EndReasonHangupCallee     EndReason = "hangup_callee"
	EndReasonRingTimeout      EndReason = "ring_timeout"
	EndReasonConnectTimeout   EndReason = "connect_timeout"
	EndReasonTransportFailure EndReason = "transport_failure"
)

// Role identifies a party within a session. Roles are fixed for the
// session's lifetime.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// MediaKind is the booked media type.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Settlement captures the final amounts computed at the terminal transition.
// Written at most once per session.
type Settlement struct {
	GrossMinor      int64     `json:"gross_minor"`
	CommissionMinor int64     `json:"commission_minor"`
	NetMinor        int64     `json:"net_minor"`
	SettledAt       time.Time `json:"settled_at"`
}

// CallSession is one booked call attempt between two parties.
//
// Timestamps are set exactly once each and are monotonically non-decreasing.
// ConnectedDurationSeconds only grows while the session is connected, is
// derived from wall clock (never tick counts), and freezes at the terminal
// transition.
type CallSession struct {
	SessionID string `json:"session_id"`

	CallerID string `json:"caller_id"`
	CalleeID string `json:"callee_id"`

	MediaKind MediaKind `json:"media_kind"`

	RatePerMinuteMinor int64  `json:"rate_per_minute_minor"`
	CommissionPercent  int    `json:"commission_percent"`
	Currency           string `json:"currency"`

	State State `json:"state"`

	RingStartedAt       *time.Time `json:"ring_started_at,omitempty"`
	ConnectingStartedAt *time.Time `json:"connecting_started_at,omitempty"`
	ConnectedAt         *time.Time `json:"connected_at,omitempty"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`

	ConnectedDurationSeconds int `json:"connected_duration_seconds"`

	EndReason EndReason `json:"end_reason,omitempty"`

	Settlement *Settlement `json:"settlement,omitempty"`

	CallerAddress string `json:"caller_address,omitempty"`
	CalleeAddress string `json:"callee_address,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// clone returns a snapshot safe to hand outside the machine's lock.
func (s CallSession) clone() CallSession {
	out := s
	out.RingStartedAt = copyTime(s.RingStartedAt)
	out.ConnectingStartedAt = copyTime(s.ConnectingStartedAt)
	out.ConnectedAt = copyTime(s.ConnectedAt)
	out.EndedAt = copyTime(s.EndedAt)
	if s.Settlement != nil {
		st := *s.Settlement
		out.Settlement = &st
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
