package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"call-engine/internal/audit"
	"call-engine/internal/auth"
	"call-engine/internal/booking"
	"call-engine/internal/reporting"
	"call-engine/internal/session"
	"call-engine/internal/settlement"
	"call-engine/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Sessions *session.Manager
	Settler  *settlement.Dispatcher
	Reports  *reporting.Service
	Audit    *audit.Service
	Terms    booking.TermsSource

	// Redis plus MaxLiveSessions > 0 enables the per-caller live-session cap.
	// The TTL is a crash backstop; normal release happens on the terminal
	// transition.
	Redis           *redis.Client
	MaxLiveSessions int
}

// liveSessionOwner resolves whose cap a session start consumes. The cap is
// per caller: the booking's caller owns the slot even when the callee
// initiates the start, and the terminal-transition release is keyed the
// same way.
func (h Handlers) liveSessionOwner(ctx context.Context, sessionID string) (string, error) {
	if h.Terms == nil {
		return "", errors.New("booking terms source not configured")
	}
	terms, err := h.Terms.CallTerms(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return terms.CallerID, nil
}

// LiveSessionCapKey is the counter key for one caller's concurrent sessions.
func LiveSessionCapKey(userID string) string { return "livesessions:" + userID }

const liveSessionCapTTL = 2 * time.Hour

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Sessions ---

type startSessionRequest struct {
	SessionID string `json:"session_id"`
}

// StartSession creates the session for a booked call and returns the initial
// snapshot, including the peer addresses both parties attach with.
func (h Handlers) StartSession(c *gin.Context) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.SessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}

	capKey := ""
	if h.Redis != nil && h.MaxLiveSessions > 0 {
		if _, err := auth.UserID(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}
		owner, err := h.liveSessionOwner(c.Request.Context(), req.SessionID)
		if errors.Is(err, booking.ErrTermsNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "booking not found"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session cap check failed"})
			return
		}
		capKey = LiveSessionCapKey(owner)
		ok, err := utils.AcquireConcurrencyCap(c.Request.Context(), h.Redis, capKey, h.MaxLiveSessions, liveSessionCapTTL)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session cap check failed"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many live sessions"})
			return
		}
	}

	snap, err := h.Sessions.StartSession(c.Request.Context(), req.SessionID)
	if err != nil && capKey != "" {
		_ = utils.ReleaseConcurrencyCap(c.Request.Context(), h.Redis, capKey)
	}
	switch {
	case errors.Is(err, booking.ErrTermsNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return
	case errors.Is(err, session.ErrSessionExists):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session already exists"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session start failed"})
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h Handlers) GetSession(c *gin.Context) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	snap, err := h.Sessions.Snapshot(c.Param("session_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetQuote returns the provisional bill for the session as of now. It is a
// display aid; the settlement amounts are computed once at the terminal
// transition.
func (h Handlers) GetQuote(c *gin.Context) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	bill, err := h.Sessions.Quote(c.Param("session_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, bill)
}

// Hangup ends a connected call. The hangup role is derived from the
// authenticated user, never trusted from the request body.
func (h Handlers) Hangup(c *gin.Context) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	sessionID := c.Param("session_id")
	snap, err := h.Sessions.Snapshot(sessionID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var role session.Role
	switch userID {
	case snap.CallerID:
		role = session.RoleCaller
	case snap.CalleeID:
		role = session.RoleCallee
	default:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a party to this session"})
		return
	}

	if err := h.Sessions.Hangup(c.Request.Context(), sessionID, role); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	snap, _ = h.Sessions.Snapshot(sessionID)
	c.JSON(http.StatusOK, snap)
}

// --- Admin ---

func (h Handlers) AdminListSessions(c *gin.Context) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": h.Sessions.Sessions()})
}

func (h Handlers) AdminSessionTrail(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	trail, err := h.Audit.SessionTrail(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": trail})
}

func (h Handlers) AdminPendingSettlements(c *gin.Context) {
	if h.Settler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "settlement not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": h.Settler.Pending()})
}

// AdminReconcile re-drives queued settlement instructions into the ledger.
// RBAC: admin or reconciler.
func (h Handlers) AdminReconcile(c *gin.Context) {
	if h.Settler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "settlement not configured"})
		return
	}
	actorUserID, _ := auth.UserID(c.Request.Context())
	actorRole, _ := auth.Role(c.Request.Context())

	delivered, remaining := h.Settler.Reconcile(c.Request.Context())

	if h.Audit != nil {
		// best-effort
		_ = h.Audit.LogAdminAction(c.Request.Context(), actorUserID, actorRole, c.ClientIP(), "settlement reconcile", "", "")
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered, "remaining": remaining})
}

func (h Handlers) AdminSessionsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	rng, err := parseRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reports.SessionsSummary(c.Request.Context(), reporting.SessionsSummaryRequest{
		Range:    rng,
		CalleeID: c.Query("callee_id"),
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) AdminEarningsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	rng, err := parseRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reports.EarningsSummary(c.Request.Context(), reporting.EarningsSummaryRequest{
		Range:    rng,
		CalleeID: c.Query("callee_id"),
		Currency: c.Query("currency"),
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseRange(c *gin.Context) (reporting.TimeRange, error) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		return reporting.TimeRange{}, errors.New("from must be RFC3339")
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		return reporting.TimeRange{}, errors.New("to must be RFC3339")
	}
	return reporting.TimeRange{From: from, To: to}, nil
}
