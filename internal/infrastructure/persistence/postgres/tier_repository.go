// Package postgres implements the subscription tier lookup against the
// user database. This is the engine's only database dependency; business
// entity persistence belongs to the upstream search service.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/searchguard/searchguard/internal/config"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/errors"
	"github.com/searchguard/searchguard/pkg/logger"
)

// TierRepository implements service.TierLookup against PostgreSQL.
type TierRepository struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewTierRepository creates a tier repository with its own connection pool.
func NewTierRepository(ctx context.Context, cfg *config.PostgresConfig, log logger.Logger) (*TierRepository, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool creation failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	log.Info(ctx, "Postgres connection established",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database),
	)

	return &TierRepository{pool: pool, logger: log.WithComponent("TierRepository")}, nil
}

// TierForUser resolves a user's subscription tier from their plan.
func (r *TierRepository) TierForUser(ctx context.Context, userID string) (constants.Tier, error) {
	var plan *string
	var isPremium bool

	err := r.pool.QueryRow(ctx,
		`SELECT s.plan, u.is_premium
		   FROM users u
		   LEFT JOIN subscriptions s ON s.user_id = u.id AND s.status = 'active'
		  WHERE u.id = $1`,
		userID,
	).Scan(&plan, &isPremium)
	if err == pgx.ErrNoRows {
		return "", errors.ErrNotFound("user not found")
	}
	if err != nil {
		return "", errors.ErrInternal("user tier query failed").WithCause(err)
	}

	return deriveTier(plan, isPremium), nil
}

// TierForAPIKey resolves an API credential's tier.
func (r *TierRepository) TierForAPIKey(ctx context.Context, apiKeyID string) (constants.Tier, error) {
	var tier string

	err := r.pool.QueryRow(ctx,
		`SELECT tier FROM api_keys WHERE id = $1 AND revoked_at IS NULL`,
		apiKeyID,
	).Scan(&tier)
	if err == pgx.ErrNoRows {
		return "", errors.ErrNotFound("api key not found")
	}
	if err != nil {
		return "", errors.ErrInternal("api key tier query failed").WithCause(err)
	}

	switch constants.Tier(tier) {
	case constants.TierPremium, constants.TierEnterprise:
		return constants.Tier(tier), nil
	default:
		return constants.TierFree, nil
	}
}

// deriveTier maps a subscription plan to a tier: enterprise over premium
// over free, with the legacy is_premium flag honoured.
func deriveTier(plan *string, isPremium bool) constants.Tier {
	if plan != nil {
		switch constants.Tier(*plan) {
		case constants.TierEnterprise:
			return constants.TierEnterprise
		case constants.TierPremium:
			return constants.TierPremium
		}
	}
	if isPremium {
		return constants.TierPremium
	}
	return constants.TierFree
}

// Close releases the connection pool.
func (r *TierRepository) Close() {
	r.pool.Close()
}
