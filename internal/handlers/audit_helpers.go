package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"convohub/internal/middleware"
	"convohub/internal/observability"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.UserIDKey); ok {
		if userID, ok := val.(string); ok {
			return userID
		}
	}
	return ""
}

// requestContext carries the request id down to the audit emitter.
func requestContext(c *gin.Context) context.Context {
	return observability.WithRequestID(c.Request.Context(), requestIDFromContext(c))
}
