package reporting

import (
	"context"
	"testing"
	"time"

	"call-engine/internal/session"
	"call-engine/internal/settlement"
)

func TestSessionsSummary_CountsByOutcome(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Sessions = []session.CallSession{
		{SessionID: "s1", CalleeID: "callee-1", State: session.StateEnded, EndReason: session.EndReasonHangupCaller, ConnectedDurationSeconds: 120, CreatedAt: now},
		{SessionID: "s2", CalleeID: "callee-1", State: session.StateFailed, EndReason: session.EndReasonRingTimeout, CreatedAt: now},
		{SessionID: "s3", CalleeID: "callee-2", State: session.StateConnected, ConnectedDurationSeconds: 30, CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.SessionsSummary(context.Background(), SessionsSummaryRequest{Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalSessions != 3 || out.CompletedSessions != 1 || out.FailedSessions != 1 || out.LiveSessions != 1 {
		t.Fatalf("unexpected summary: %+v", out)
	}
	if out.RingTimeouts != 1 {
		t.Fatalf("expected 1 ring timeout, got %d", out.RingTimeouts)
	}
	if out.TotalConnectedSeconds != 150 || out.AverageConnectedSeconds != 50 {
		t.Fatalf("unexpected durations: %+v", out)
	}
}

func TestSessionsSummary_FiltersByCallee(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Sessions = []session.CallSession{
		{SessionID: "s1", CalleeID: "callee-1", State: session.StateEnded, CreatedAt: now},
		{SessionID: "s2", CalleeID: "callee-2", State: session.StateEnded, CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.SessionsSummary(context.Background(), SessionsSummaryRequest{CalleeID: "callee-1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalSessions != 1 {
		t.Fatalf("expected 1 session, got %d", out.TotalSessions)
	}
}

func TestEarningsSummary_Aggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Settlements = []settlement.Recorded{
		{Instruction: settlement.Instruction{SessionID: "s1", CalleeID: "callee-1", Currency: "IDR", GrossMinor: 150000, CommissionMinor: 30000, NetMinor: 120000}, SettledAt: now},
		{Instruction: settlement.Instruction{SessionID: "s2", CalleeID: "callee-1", Currency: "IDR", GrossMinor: 50000, CommissionMinor: 10000, NetMinor: 40000}, SettledAt: now},
		{Instruction: settlement.Instruction{SessionID: "s3", CalleeID: "callee-2", Currency: "IDR", GrossMinor: 50000, CommissionMinor: 10000, NetMinor: 40000}, SettledAt: now},
	}
	svc := NewService(repo)

	out, err := svc.EarningsSummary(context.Background(), EarningsSummaryRequest{CalleeID: "callee-1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.SettledSessions != 2 {
		t.Fatalf("expected 2 settled sessions, got %d", out.SettledSessions)
	}
	if out.GrossMinor != 200000 || out.CommissionMinor != 40000 || out.NetMinor != 160000 {
		t.Fatalf("unexpected totals: %+v", out)
	}
	if out.Currency != "IDR" {
		t.Fatalf("expected currency from rows, got %q", out.Currency)
	}
}

func TestSummaries_RejectInvalidRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if _, err := svc.SessionsSummary(context.Background(), SessionsSummaryRequest{}); err == nil {
		t.Fatalf("expected invalid range error")
	}
	if _, err := svc.EarningsSummary(context.Background(), EarningsSummaryRequest{}); err == nil {
		t.Fatalf("expected invalid range error")
	}
}
