package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"convohub/internal/ws"
)

type auditEmitter interface {
	Emit(ctx context.Context, level, action, text, requestID, userID string)
}

type sessionLister interface {
	Sessions() []ws.ConnInfo
}

// DebugDeps backs the operator-only routes. Either field may be nil.
type DebugDeps struct {
	Audit    auditEmitter
	Sessions sessionLister
}

// RegisterDebugRoutes mounts /debug/audit-test, which sends one audit record
// through the pipeline, and /debug/connections, which lists live sockets on
// this node. Nothing is mounted unless enabled.
func RegisterDebugRoutes(router gin.IRouter, deps DebugDeps, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if deps.Audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		deps.Audit.Emit(c.Request.Context(), "INFO", "debug.audit_test", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/connections", func(c *gin.Context) {
		if deps.Sessions == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection registry not configured"})
			return
		}
		sessions := deps.Sessions.Sessions()
		c.JSON(http.StatusOK, gin.H{"count": len(sessions), "connections": sessions})
	})
}
