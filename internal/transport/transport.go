package transport

import (
	"context"

	"call-engine/internal/session"
)

// SessionEvents is the engine-side sink for signaling events. The session
// manager implements it; the gateway translates wire frames into these calls.
//
// Delivery is at-least-once and unordered: implementations treat events with
// no defined transition as no-ops.
type SessionEvents interface {
	PeerReachable(ctx context.Context, sessionID string) error
	Accepted(ctx context.Context, sessionID string) error
	MediaLive(ctx context.Context, sessionID string) error
	Reconnecting(ctx context.Context, sessionID string) error
	TransportError(ctx context.Context, sessionID, cause string) error
	Hangup(ctx context.Context, sessionID string, role session.Role) error
}

// FrameType enumerates the wire messages exchanged with peers.
type FrameType string

const (
	// Peer -> engine.
	FrameAccept       FrameType = "accept"
	FrameMediaLive    FrameType = "media_live"
	FrameReconnecting FrameType = "reconnecting"
	FrameHangup       FrameType = "hangup"
	FrameError        FrameType = "error"

	// Engine -> peer.
	FrameOffer    FrameType = "offer"
	FrameTeardown FrameType = "teardown"
	FrameState    FrameType = "state"
	FrameDuration FrameType = "duration"
)

// Frame is the JSON envelope for both directions.
type Frame struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Role      string    `json:"role,omitempty"`

	// Reason carries error causes (FrameError) and end reasons (FrameState).
	Reason string `json:"reason,omitempty"`

	State               string `json:"state,omitempty"`
	ConnectedSeconds    int    `json:"connected_seconds,omitempty"`
	ProvisionalNetMinor int64  `json:"provisional_net_minor,omitempty"`
}
