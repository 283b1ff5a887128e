package session

import (
	"context"
	"testing"
	"time"

	"call-engine/internal/booking"
	"call-engine/internal/registry"
	"call-engine/internal/settlement"
)

func testManager(t *testing.T, fn *fakeNow) (*Manager, *settlement.MemoryLedger, *booking.MemoryRepo) {
	t.Helper()

	terms := booking.NewMemoryRepo()
	terms.Put(booking.CallTerms{
		SessionID:          "sess-1",
		CallerID:           "caller-1",
		CalleeID:           "callee-1",
		MediaKind:          "audio",
		RatePerMinuteMinor: 50000,
		CommissionPercent:  20,
		Currency:           "IDR",
	})

	ledger := settlement.NewMemoryLedger()
	dispatcher := settlement.NewDispatcher(ledger, settlement.DispatcherConfig{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxElapsedTime:  time.Second,
	}, nil)

	m := NewManager(ManagerOptions{
		Terms:     terms,
		Registry:  registry.NewAllocator(registry.NewMemoryStore(), 4),
		Transport: &stubTransport{},
		Settler:   dispatcher,
		Now:       fn.Now,
	})
	return m, ledger, terms
}

func waitForSettlement(t *testing.T, ledger *settlement.MemoryLedger, sessionID string) settlement.Recorded {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := ledger.Get(sessionID); ok {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for settlement of %s", sessionID)
	return settlement.Recorded{}
}

func TestManager_FullCallLifecycle(t *testing.T) {
	fn := newFakeNow()
	m, ledger, _ := testManager(t, fn)
	ctx := context.Background()

	snap, err := m.StartSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.State != StateReady {
		t.Fatalf("expected ready, got %s", snap.State)
	}
	if snap.CallerAddress == "" || snap.CalleeAddress == "" {
		t.Fatalf("expected peer addresses allocated, got %+v", snap)
	}

	if err := m.PeerReachable(ctx, "sess-1"); err != nil {
		t.Fatalf("peer reachable: %v", err)
	}
	if err := m.Accepted(ctx, "sess-1"); err != nil {
		t.Fatalf("accepted: %v", err)
	}
	if err := m.MediaLive(ctx, "sess-1"); err != nil {
		t.Fatalf("media live: %v", err)
	}

	fn.Advance(125 * time.Second)
	if err := m.Hangup(ctx, "sess-1", RoleCaller); err != nil {
		t.Fatalf("hangup: %v", err)
	}

	rec := waitForSettlement(t, ledger, "sess-1")
	if rec.NetMinor != 120000 || rec.CommissionMinor != 30000 || rec.GrossMinor != 150000 {
		t.Fatalf("unexpected settlement amounts: %+v", rec)
	}
	if rec.EndReason != string(EndReasonHangupCaller) {
		t.Fatalf("expected hangup_caller, got %s", rec.EndReason)
	}
	if rec.CalleeID != "callee-1" {
		t.Fatalf("expected callee-1 credited, got %s", rec.CalleeID)
	}
}

func TestManager_DuplicateStartRejected(t *testing.T) {
	fn := newFakeNow()
	m, _, _ := testManager(t, fn)
	ctx := context.Background()

	if _, err := m.StartSession(ctx, "sess-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.StartSession(ctx, "sess-1"); err != ErrSessionExists {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestManager_UnknownBookingRejected(t *testing.T) {
	fn := newFakeNow()
	m, _, _ := testManager(t, fn)

	if _, err := m.StartSession(context.Background(), "missing"); err != booking.ErrTermsNotFound {
		t.Fatalf("expected ErrTermsNotFound, got %v", err)
	}
}

func TestManager_UnknownSessionOperations(t *testing.T) {
	fn := newFakeNow()
	m, _, _ := testManager(t, fn)
	ctx := context.Background()

	if err := m.Hangup(ctx, "nope", RoleCaller); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := m.Snapshot("nope"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_RegistrationFailureFailsSession(t *testing.T) {
	fn := newFakeNow()

	terms := booking.NewMemoryRepo()
	terms.Put(booking.CallTerms{
		SessionID:          "sess-1",
		CallerID:           "caller-1",
		CalleeID:           "callee-1",
		MediaKind:          "audio",
		RatePerMinuteMinor: 50000,
		CommissionPercent:  20,
	})

	// Every caller address variant is taken; allocation must exhaust.
	store := registry.NewMemoryStore()
	for _, addr := range []string{
		"peer:sess-1:caller", "peer:sess-1:caller-1", "peer:sess-1:caller-2", "peer:sess-1:caller-3",
	} {
		store.Occupy(addr)
	}

	ledger := settlement.NewMemoryLedger()
	m := NewManager(ManagerOptions{
		Terms:    terms,
		Registry: registry.NewAllocator(store, 4),
		Settler: settlement.NewDispatcher(ledger, settlement.DispatcherConfig{
			MaxRetries:      1,
			InitialInterval: time.Millisecond,
			MaxElapsedTime:  time.Second,
		}, nil),
		Now: fn.Now,
	})

	snap, err := m.StartSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = snap

	rec := waitForSettlement(t, ledger, "sess-1")
	if rec.NetMinor != 0 {
		t.Fatalf("expected zero settlement, got %+v", rec)
	}

	got, err := m.Snapshot("sess-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got.State != StateFailed || got.EndReason != EndReasonTransportFailure {
		t.Fatalf("expected failed/transport_failure, got %s/%s", got.State, got.EndReason)
	}
}

func TestManager_QuoteMatchesSettlementFormula(t *testing.T) {
	fn := newFakeNow()
	m, _, _ := testManager(t, fn)
	ctx := context.Background()

	if _, err := m.StartSession(ctx, "sess-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Before connecting: zero quote.
	q, err := m.Quote("sess-1")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.NetMinor != 0 {
		t.Fatalf("expected zero quote before connect, got %+v", q)
	}

	_ = m.PeerReachable(ctx, "sess-1")
	_ = m.Accepted(ctx, "sess-1")
	_ = m.MediaLive(ctx, "sess-1")
	fn.Advance(125 * time.Second)

	q, err = m.Quote("sess-1")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.BilledMinutes != 3 || q.NetMinor != 120000 {
		t.Fatalf("expected live quote 3min/120000, got %+v", q)
	}
}

func TestManager_ShutdownFailsLiveSessions(t *testing.T) {
	fn := newFakeNow()
	m, ledger, _ := testManager(t, fn)
	ctx := context.Background()

	if _, err := m.StartSession(ctx, "sess-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = m.PeerReachable(ctx, "sess-1")
	_ = m.Accepted(ctx, "sess-1")
	_ = m.MediaLive(ctx, "sess-1")
	fn.Advance(30 * time.Second)

	m.Shutdown(ctx)

	rec := waitForSettlement(t, ledger, "sess-1")
	if rec.EndReason != string(EndReasonTransportFailure) {
		t.Fatalf("expected transport_failure on shutdown, got %s", rec.EndReason)
	}
	// 30s connected still bills the one-minute floor.
	if rec.GrossMinor != 50000 {
		t.Fatalf("expected 1-minute gross, got %+v", rec)
	}
}

// blockingTerms parks CallTerms until released, to hold a start mid-flight.
type blockingTerms struct {
	inner   booking.TermsSource
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTerms) CallTerms(ctx context.Context, sessionID string) (booking.CallTerms, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.inner.CallTerms(ctx, sessionID)
}

func TestManager_ConcurrentStartLosesBeforeClaimingAddresses(t *testing.T) {
	terms := booking.NewMemoryRepo()
	terms.Put(booking.CallTerms{
		SessionID:          "sess-1",
		CallerID:           "caller-1",
		CalleeID:           "callee-1",
		MediaKind:          "audio",
		RatePerMinuteMinor: 50000,
		CommissionPercent:  20,
		Currency:           "IDR",
	})
	bt := &blockingTerms{
		inner:   terms,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}

	m := NewManager(ManagerOptions{
		Terms:     bt,
		Registry:  registry.NewAllocator(registry.NewMemoryStore(), 4),
		Transport: &stubTransport{},
		Settler: settlement.NewDispatcher(settlement.NewMemoryLedger(), settlement.DispatcherConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxElapsedTime:  time.Second,
		}, nil),
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := m.StartSession(ctx, "sess-1")
		done <- err
	}()
	<-bt.entered

	// The first start holds the slot but has not registered peers yet; the
	// second must lose here instead of claiming addresses it never releases.
	if _, err := m.StartSession(ctx, "sess-1"); err != ErrSessionExists {
		t.Fatalf("expected ErrSessionExists while first start in flight, got %v", err)
	}

	close(bt.release)
	if err := <-done; err != nil {
		t.Fatalf("first start: %v", err)
	}

	snap, err := m.Snapshot("sess-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != StateReady {
		t.Fatalf("expected ready, got %s", snap.State)
	}
	if snap.CallerAddress == "" || snap.CalleeAddress == "" {
		t.Fatalf("expected both peer addresses allocated, got %+v", snap)
	}
}
