// Package middleware implements the gin middleware chain: rate limit
// enforcement, admin authentication and request observability.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/searchguard/searchguard/internal/config"
	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/internal/domain/service"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/logger"
)

// RateLimit enforces the rate limit engine's decision on every request.
// Quota headers are attached to allowed and denied responses alike.
func RateLimit(engine service.RateLimitEngine, enricher service.ContextEnricher, cfg *config.RateLimitConfig, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		rlCtx := ExtractContext(c)
		rlCtx = enricher.Enrich(c.Request.Context(), rlCtx, bearerToken(c))

		decision := engine.Evaluate(c.Request.Context(), rlCtx)
		writeQuotaHeaders(c, decision.Result)

		if !decision.Allowed() {
			retryAfter := int64(decision.Result.RetryAfter.Seconds())
			c.Header(constants.HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))

			if decision.Block != nil {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":       "identity_blocked",
					"reason":      "temporarily_blocked",
					"message":     "temporarily blocked due to repeated rate limit violations",
					"block_type":  string(decision.Block.Type),
					"expires_at":  decision.Block.ExpiresAt,
					"retry_after": retryAfter,
				})
				return
			}

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "rate limit exceeded for " + decision.Result.LimitType,
				"limit_type":  decision.Result.LimitType,
				"limit":       decision.Result.LimitValue,
				"retry_after": retryAfter,
			})
			return
		}

		c.Set(string(constants.ContextKeyRateLimitContext), rlCtx)
		c.Next()
	}
}

// ExtractContext assembles the rate limit context from the raw request.
// Identity resolution (bearer token, tiers) happens later in enrichment.
func ExtractContext(c *gin.Context) models.RateLimitContext {
	return models.RateLimitContext{
		SessionID:     sessionID(c),
		IPAddress:     ClientIP(c),
		UserAgent:     c.Request.UserAgent(),
		Endpoint:      c.FullPath(),
		OperationType: OperationTypeOf(c.Request.URL.Path),
		APIKeyID:      c.GetHeader(constants.HeaderAPIKey),
	}
}

// ClientIP resolves the client address: the first X-Forwarded-For hop,
// then X-Real-IP, then the socket peer.
func ClientIP(c *gin.Context) string {
	if fwd := c.GetHeader(constants.HeaderForwardedFor); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if real := c.GetHeader(constants.HeaderRealIP); real != "" {
		return real
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// OperationTypeOf classifies a request path into an operation type.
// Unknown paths count as searches, the most conservative bucket.
func OperationTypeOf(path string) constants.OperationType {
	switch {
	case strings.Contains(path, "/suggest"):
		return constants.OperationSuggest
	case strings.Contains(path, "/analytics"):
		return constants.OperationAnalytics
	case strings.Contains(path, "/categories"):
		return constants.OperationCategory
	case strings.Contains(path, "/multi"):
		return constants.OperationMultiType
	default:
		return constants.OperationSearch
	}
}

func sessionID(c *gin.Context) string {
	if sid := c.GetHeader(constants.HeaderSessionID); sid != "" {
		return sid
	}
	return c.Query("session_id")
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if token, found := strings.CutPrefix(auth, "Bearer "); found {
		return token
	}
	return ""
}

func writeQuotaHeaders(c *gin.Context, result models.RateLimitResult) {
	c.Header(constants.HeaderRateLimitLimit, strconv.Itoa(result.LimitValue))
	c.Header(constants.HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
	c.Header(constants.HeaderRateLimitReset, strconv.FormatInt(result.ResetTime.Unix(), 10))
	c.Header(constants.HeaderRateLimitType, result.LimitType)
}
