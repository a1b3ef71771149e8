package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-sync/internal/engine"
	"chat-sync/internal/telemetry"
)

// RegisterOpsRoutes wires the daemon's health and debug endpoints.
func RegisterOpsRoutes(router *gin.Engine, session *engine.Session, emitter *telemetry.AuditEmitter, debugEnabled bool) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if !debugEnabled {
		return
	}

	router.GET("/debug/state", func(c *gin.Context) {
		if session == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session not configured"})
			return
		}
		c.JSON(http.StatusOK, session.State())
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", sessionIDFromContext(c), nil)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

const sessionIDContextKey = "session_id"

func sessionIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(sessionIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	sessionID := c.GetHeader("X-Session-ID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	c.Set(sessionIDContextKey, sessionID)
	return sessionID
}
