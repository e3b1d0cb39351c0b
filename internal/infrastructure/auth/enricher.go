// Package auth resolves bearer credentials into identity and tier for
// rate limit evaluation. Enrichment is additive context, never a security
// boundary: every failure leaves the request anonymous.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/internal/domain/service"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/logger"
)

// Enricher implements service.ContextEnricher.
type Enricher struct {
	secret []byte
	tiers  service.TierLookup
	cache  *gocache.Cache
	logger logger.Logger
}

// NewEnricher creates a context enricher. Tier lookups are cached for
// cacheTTL so hot identities do not hit the collaborator on every request.
func NewEnricher(jwtSecret string, tiers service.TierLookup, cacheTTL time.Duration, log logger.Logger) *Enricher {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Enricher{
		secret: []byte(jwtSecret),
		tiers:  tiers,
		cache:  gocache.New(cacheTTL, 2*cacheTTL),
		logger: log.WithComponent("Enricher"),
	}
}

// Enrich resolves the bearer token to a user identity and tier, and the
// API credential (when present on the context) to its tier. The input
// context is returned unchanged on any failure.
func (e *Enricher) Enrich(ctx context.Context, rlCtx models.RateLimitContext, bearerToken string) models.RateLimitContext {
	if bearerToken != "" && rlCtx.UserID == "" {
		if userID, ok := e.subject(ctx, bearerToken); ok {
			rlCtx.UserID = userID
			rlCtx.IsAuthenticated = true
			rlCtx.UserTier = e.userTier(ctx, userID)
		}
	}

	if rlCtx.APIKeyID != "" && rlCtx.APIKeyTier == "" {
		rlCtx.APIKeyTier = e.apiKeyTier(ctx, rlCtx.APIKeyID)
	}

	return rlCtx
}

// subject validates the token signature and expiry and extracts the
// subject claim.
func (e *Enricher) subject(ctx context.Context, token string) (string, bool) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return e.secret, nil
	})
	if err != nil || !parsed.Valid {
		e.logger.Debug(ctx, "Bearer token rejected during enrichment", logger.Error(err))
		return "", false
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}

func (e *Enricher) userTier(ctx context.Context, userID string) constants.Tier {
	cacheKey := "user:" + userID
	if cached, ok := e.cache.Get(cacheKey); ok {
		return cached.(constants.Tier)
	}

	tier, err := e.tiers.TierForUser(ctx, userID)
	if err != nil {
		e.logger.Debug(ctx, "Tier lookup failed, defaulting to free",
			logger.String("user_id", userID),
			logger.Error(err),
		)
		return constants.TierFree
	}

	e.cache.SetDefault(cacheKey, tier)
	return tier
}

func (e *Enricher) apiKeyTier(ctx context.Context, apiKeyID string) constants.Tier {
	cacheKey := "api_key:" + apiKeyID
	if cached, ok := e.cache.Get(cacheKey); ok {
		return cached.(constants.Tier)
	}

	tier, err := e.tiers.TierForAPIKey(ctx, apiKeyID)
	if err != nil {
		e.logger.Debug(ctx, "API key tier lookup failed, defaulting to free",
			logger.String("api_key_id", apiKeyID),
			logger.Error(err),
		)
		return constants.TierFree
	}

	e.cache.SetDefault(cacheKey, tier)
	return tier
}
