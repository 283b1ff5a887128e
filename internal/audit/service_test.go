package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{SessionID: "s"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeTransition}); err == nil {
		t.Fatalf("expected error for transition without session")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogAdminAction(context.Background(), "u", "admin", "1.2.3.4", "did something", "sess-1", "{}"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[0].Type != EventTypeAdminAction {
		t.Fatalf("expected admin_action")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
}

func TestService_SessionTrailOrdersByAppend(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.LogTransition(ctx, "sess-1", "ready", "ringing", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := svc.LogTransition(ctx, "sess-1", "ringing", "connecting", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := svc.LogTransition(ctx, "sess-2", "ready", "ringing", ""); err != nil {
		t.Fatalf("log: %v", err)
	}

	trail, err := svc.SessionTrail(ctx, "sess-1")
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected 2 records, got %d", len(trail))
	}
	if trail[0].ToState != "ringing" || trail[1].ToState != "connecting" {
		t.Fatalf("unexpected order: %+v", trail)
	}
}
