package registry

import (
	"context"
	"testing"
)

func TestRegister_CanonicalAddressFirst(t *testing.T) {
	store := NewMemoryStore()
	a := NewAllocator(store, 4)

	reg, err := a.Register(context.Background(), "sess-1", "caller")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.PeerAddress != "peer:sess-1:caller" {
		t.Fatalf("expected canonical address, got %q", reg.PeerAddress)
	}
	if reg.Attempt != 0 {
		t.Fatalf("expected attempt 0, got %d", reg.Attempt)
	}
}

func TestRegister_RetriesWithSuffixOnCollision(t *testing.T) {
	store := NewMemoryStore()
	store.Occupy("peer:sess-1:callee")
	store.Occupy("peer:sess-1:callee-1")

	a := NewAllocator(store, 4)
	reg, err := a.Register(context.Background(), "sess-1", "callee")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.PeerAddress != "peer:sess-1:callee-2" {
		t.Fatalf("expected second suffixed variant, got %q", reg.PeerAddress)
	}
	if reg.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", reg.Attempt)
	}
}

func TestRegister_ExhaustsAfterMaxAttempts(t *testing.T) {
	store := NewMemoryStore()
	store.Occupy("peer:sess-1:caller")
	store.Occupy("peer:sess-1:caller-1")
	store.Occupy("peer:sess-1:caller-2")

	a := NewAllocator(store, 3)
	if _, err := a.Register(context.Background(), "sess-1", "caller"); err != ErrAddressExhausted {
		t.Fatalf("expected ErrAddressExhausted, got %v", err)
	}
}

func TestLookup_ReturnsLatestRegistration(t *testing.T) {
	store := NewMemoryStore()
	a := NewAllocator(store, 4)
	ctx := context.Background()

	first, err := a.Register(ctx, "sess-9", "callee")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// A re-registration (e.g., after the callee's endpoint restarts) collides
	// with its own previous claim and lands on a suffixed variant. The latest
	// registration must win.
	second, err := a.Register(ctx, "sess-9", "callee")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.PeerAddress == first.PeerAddress {
		t.Fatalf("expected a new address, got %q twice", second.PeerAddress)
	}

	got, err := a.Lookup(ctx, "sess-9", "callee")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.PeerAddress != second.PeerAddress {
		t.Fatalf("expected latest %q, got %q", second.PeerAddress, got.PeerAddress)
	}
}

func TestLookup_NotRegistered(t *testing.T) {
	a := NewAllocator(NewMemoryStore(), 4)
	if _, err := a.Lookup(context.Background(), "missing", "caller"); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRegister_RejectsEmptyArguments(t *testing.T) {
	a := NewAllocator(NewMemoryStore(), 4)
	if _, err := a.Register(context.Background(), "", "caller"); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := a.Register(context.Background(), "s", ""); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
