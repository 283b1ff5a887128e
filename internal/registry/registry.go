package registry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Registration maps one (session, role) pair to a transport-level peer address.
//
// Registration is advisory discovery metadata: it provides the address needed
// for ring/connect to proceed but gates no state transition on its own.
type Registration struct {
	SessionID    string    `json:"session_id"`
	Role         string    `json:"role"` // "caller" or "callee"
	PeerAddress  string    `json:"peer_address"`
	RegisteredAt time.Time `json:"registered_at"`

	// Attempt records which allocation attempt produced the address
	// (0 = canonical, >0 = suffixed variant after a collision).
	Attempt int `json:"attempt"`
}

var (
	ErrAddressExhausted = errors.New("registry: peer address attempts exhausted")
	ErrNotRegistered    = errors.New("registry: peer not registered")
	ErrInvalidArgument  = errors.New("registry: invalid argument")
)

// Store is the persistence contract for peer registrations.
//
// Claim must be atomic: it either takes ownership of the address and records
// the registration as the latest for (session, role), or reports the address
// as taken. Earlier registrations for the same pair are superseded, not
// deleted; Lookup always returns the latest.
type Store interface {
	Claim(ctx context.Context, reg Registration) (bool, error)
	Lookup(ctx context.Context, sessionID, role string) (Registration, error)
}

// Allocator hides the retry-on-collision loop behind a single Register call.
type Allocator struct {
	store       Store
	maxAttempts int
	clock       func() time.Time
}

func NewAllocator(store Store, maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	return &Allocator{store: store, maxAttempts: maxAttempts, clock: time.Now}
}

// Register allocates a peer address for (sessionID, role).
//
// It tries the canonical address first, then deterministic suffixed variants,
// capped at the configured attempt count. Exhaustion is reported upward; the
// orchestrator treats it as grounds for failing the session.
func (a *Allocator) Register(ctx context.Context, sessionID, role string) (Registration, error) {
	if sessionID == "" || role == "" {
		return Registration{}, ErrInvalidArgument
	}

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		reg := Registration{
			SessionID:    sessionID,
			Role:         role,
			PeerAddress:  peerAddress(sessionID, role, attempt),
			RegisteredAt: a.clock().UTC(),
			Attempt:      attempt,
		}
		ok, err := a.store.Claim(ctx, reg)
		if err != nil {
			return Registration{}, err
		}
		if ok {
			return reg, nil
		}
	}
	return Registration{}, ErrAddressExhausted
}

// Lookup returns the latest authoritative registration for (sessionID, role).
func (a *Allocator) Lookup(ctx context.Context, sessionID, role string) (Registration, error) {
	if sessionID == "" || role == "" {
		return Registration{}, ErrInvalidArgument
	}
	return a.store.Lookup(ctx, sessionID, role)
}

func peerAddress(sessionID, role string, attempt int) string {
	if attempt == 0 {
		return fmt.Sprintf("peer:%s:%s", sessionID, role)
	}
	return fmt.Sprintf("peer:%s:%s-%d", sessionID, role, attempt)
}
