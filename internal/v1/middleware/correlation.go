// Package middleware contains Gin middleware shared by the HTTP surface.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relaywire/server/internal/v1/logging"
)

// HeaderXCorrelationID carries the request correlation ID in and out.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID accepts an inbound correlation ID or generates one, echoes it
// on the response, and threads it through the request context so every log
// line emitted while handling the request (including the wire handler's,
// which logs against c.Request.Context() for the connection's whole
// lifetime) carries it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(logging.CorrelationIDKey), correlationID)

		c.Next()
	}
}
