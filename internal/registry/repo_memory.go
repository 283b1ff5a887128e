package registry

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store safe for concurrent registration
// across sessions. Useful for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.Mutex
	claimed map[string]Registration // by peer address
	latest  map[string]Registration // by sessionID+"/"+role
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claimed: make(map[string]Registration),
		latest:  make(map[string]Registration),
	}
}

func (s *MemoryStore) Claim(ctx context.Context, reg Registration) (bool, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.claimed[reg.PeerAddress]; taken {
		return false, nil
	}
	s.claimed[reg.PeerAddress] = reg
	s.latest[pairKey(reg.SessionID, reg.Role)] = reg
	return true, nil
}

func (s *MemoryStore) Lookup(ctx context.Context, sessionID, role string) (Registration, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.latest[pairKey(sessionID, role)]
	if !ok {
		return Registration{}, ErrNotRegistered
	}
	return reg, nil
}

// Occupy marks an address as taken without recording it as latest.
// Test helper for forcing collisions.
func (s *MemoryStore) Occupy(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed[address] = Registration{PeerAddress: address}
}

func pairKey(sessionID, role string) string {
	return sessionID + "/" + role
}
