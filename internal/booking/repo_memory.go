package booking

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory terms source useful for tests and early development.
type MemoryRepo struct {
	mu    sync.RWMutex
	terms map[string]CallTerms
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{terms: make(map[string]CallTerms)}
}

func (r *MemoryRepo) Put(t CallTerms) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terms[t.SessionID] = t
}

func (r *MemoryRepo) CallTerms(ctx context.Context, sessionID string) (CallTerms, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.terms[sessionID]
	if !ok {
		return CallTerms{}, ErrTermsNotFound
	}
	return t, nil
}
