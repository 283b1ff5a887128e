package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"call-engine/internal/auth"
	"call-engine/internal/booking"
	"call-engine/internal/registry"
	"call-engine/internal/session"
	"call-engine/internal/settlement"

	"github.com/gin-gonic/gin"
)

type nopTransport struct{}

func (nopTransport) Offer(ctx context.Context, peerAddress string) error    { return nil }
func (nopTransport) Teardown(ctx context.Context, peerAddress string) error { return nil }

func testRouter(t *testing.T) (*gin.Engine, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	terms := booking.NewMemoryRepo()
	terms.Put(booking.CallTerms{
		SessionID:          "sess-1",
		CallerID:           "user-caller",
		CalleeID:           "user-callee",
		MediaKind:          "audio",
		RatePerMinuteMinor: 50000,
		CommissionPercent:  20,
		Currency:           "IDR",
	})

	mgr := session.NewManager(session.ManagerOptions{
		Terms:     terms,
		Registry:  registry.NewAllocator(registry.NewMemoryStore(), 4),
		Transport: nopTransport{},
		Settler:   settlement.NewDispatcher(settlement.NewMemoryLedger(), settlement.DispatcherConfig{}, nil),
	})

	h := Handlers{Sessions: mgr}

	r := gin.New()
	// identity shim in place of the JWT middleware
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			ctx := auth.WithIdentity(c.Request.Context(), uid, "caller")
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	})
	r.POST("/v1/sessions", h.StartSession)
	r.GET("/v1/sessions/:session_id", h.GetSession)
	r.GET("/v1/sessions/:session_id/quote", h.GetQuote)
	r.POST("/v1/sessions/:session_id/hangup", h.Hangup)
	return r, mgr
}

func startSession(t *testing.T, r *gin.Engine) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"session_id": "sess-1"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStartSession_ReturnsSnapshotWithAddresses(t *testing.T) {
	r, _ := testRouter(t)
	body, _ := json.Marshal(map[string]string{"session_id": "sess-1"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var snap session.CallSession
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != session.StateReady {
		t.Fatalf("expected ready state, got %q", snap.State)
	}
	if snap.CallerAddress == "" || snap.CalleeAddress == "" {
		t.Fatalf("expected peer addresses in snapshot: %+v", snap)
	}
}

func TestStartSession_UnknownBookingIs404(t *testing.T) {
	r, _ := testRouter(t)
	body, _ := json.Marshal(map[string]string{"session_id": "nope"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestStartSession_DuplicateIs409(t *testing.T) {
	r, _ := testRouter(t)
	startSession(t, r)
	body, _ := json.Marshal(map[string]string{"session_id": "sess-1"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestGetQuote_BeforeConnectIsZero(t *testing.T) {
	r, _ := testRouter(t)
	startSession(t, r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-1/quote", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out struct {
		GrossMinor int64 `json:"gross_minor"`
		NetMinor   int64 `json:"net_minor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.GrossMinor != 0 || out.NetMinor != 0 {
		t.Fatalf("expected zero quote, got %+v", out)
	}
}

func TestHangup_RejectsNonParty(t *testing.T) {
	r, _ := testRouter(t)
	startSession(t, r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/sess-1/hangup", nil)
	req.Header.Set("X-Test-User", "someone-else")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestHangup_RequiresIdentity(t *testing.T) {
	r, _ := testRouter(t)
	startSession(t, r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/sess-1/hangup", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestHangup_PartyBeforeConnectIsNoOp(t *testing.T) {
	r, mgr := testRouter(t)
	startSession(t, r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/sess-1/hangup", nil)
	req.Header.Set("X-Test-User", "user-caller")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	snap, err := mgr.Snapshot("sess-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State.Terminal() {
		t.Fatalf("hangup before connect must not end the session, got %q", snap.State)
	}
}

func TestLiveSessionOwner_IsBookingCallerRegardlessOfStarter(t *testing.T) {
	terms := booking.NewMemoryRepo()
	terms.Put(booking.CallTerms{
		SessionID:          "sess-1",
		CallerID:           "user-caller",
		CalleeID:           "user-callee",
		MediaKind:          "audio",
		RatePerMinuteMinor: 50000,
		CommissionPercent:  20,
		Currency:           "IDR",
	})
	h := Handlers{Terms: terms}

	// The callee starting the session still consumes the caller's slot, so
	// the acquire key matches the terminal-transition release key.
	ctx := auth.WithIdentity(context.Background(), "user-callee", "callee")
	owner, err := h.liveSessionOwner(ctx, "sess-1")
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != "user-caller" {
		t.Fatalf("expected cap owner user-caller, got %q", owner)
	}
	if got := LiveSessionCapKey(owner); got != "livesessions:user-caller" {
		t.Fatalf("unexpected cap key %q", got)
	}

	if _, err := h.liveSessionOwner(ctx, "no-such-session"); err != booking.ErrTermsNotFound {
		t.Fatalf("expected ErrTermsNotFound, got %v", err)
	}
}
