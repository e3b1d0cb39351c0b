package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/logger"
)

// RequestID assigns each request an identifier, honouring one supplied by
// the caller, and propagates it on the response and the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(constants.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Header(constants.HeaderRequestID, requestID)
		ctx := context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// AccessLog logs one line per request with latency and outcome.
func AccessLog(log logger.Logger) gin.HandlerFunc {
	accessLog := log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		accessLog.Info(c.Request.Context(), "Request handled",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
			logger.String("client_ip", ClientIP(c)),
		)
	}
}
