package main

import (
	"call-engine/internal/auth"
	"call-engine/internal/httpapi"
	"call-engine/internal/rbac"
	"call-engine/internal/transport"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, gateway *transport.Gateway, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Peer signaling attach (WebSocket). The gateway checks the presented
	// peer address against the registry's latest registration before
	// upgrading.
	// NOTE: token auth on the upgrade request belongs here once clients
	// send it.
	r.GET("/ws", gateway.Serve)

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// Identity echo, useful for client debugging.
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		// SESSION routes
		sessions := v1.Group("/sessions")
		sessions.Use(rbac.RequireAnyRole(rbac.RoleCaller, rbac.RoleCallee))
		{
			sessions.POST("", h.StartSession)
			sessions.GET("/:session_id", h.GetSession)
			sessions.GET("/:session_id/quote", h.GetQuote)
			sessions.POST("/:session_id/hangup", h.Hangup)
		}

		// ADMIN routes
		// Hidden reconciler is allowed only where reconciliation needs it.
		admin := v1.Group("/admin")
		{
			admin.GET("/sessions",
				rbac.RequireAnyRole(rbac.RoleSupport, rbac.RoleAdmin), h.AdminListSessions)
			admin.GET("/sessions/:session_id/audit",
				rbac.RequireAnyRole(rbac.RoleSupport, rbac.RoleAdmin), h.AdminSessionTrail)

			admin.GET("/settlements/pending",
				rbac.RequireAnyRole(rbac.RoleReconciler, rbac.RoleAdmin), h.AdminPendingSettlements)
			admin.POST("/settlements/reconcile",
				rbac.RequireAnyRole(rbac.RoleReconciler, rbac.RoleAdmin), h.AdminReconcile)

			admin.GET("/reports/sessions",
				rbac.RequireAnyRole(rbac.RoleSupport, rbac.RoleAdmin), h.AdminSessionsSummary)
			admin.GET("/reports/earnings",
				rbac.RequireAnyRole(rbac.RoleSupport, rbac.RoleAdmin), h.AdminEarningsSummary)
		}
	}
}
