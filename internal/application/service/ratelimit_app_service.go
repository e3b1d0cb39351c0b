// Package service implements the application-layer rate limit engine: the
// single decision surface that combines block checks, load governing,
// policy resolution, concurrent window checks and abuse escalation.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/searchguard/searchguard/internal/domain/models"
	domainservice "github.com/searchguard/searchguard/internal/domain/service"
	"github.com/searchguard/searchguard/internal/infrastructure/monitoring"
	"github.com/searchguard/searchguard/internal/infrastructure/ratelimit"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/errors"
	"github.com/searchguard/searchguard/pkg/logger"
)

// RateLimitAppService implements service.RateLimitEngine.
//
// An evaluation proceeds in phases: active blocks short-circuit quota
// evaluation entirely; the load governor scales the ceiling table for this
// evaluation only; the resolver produces the applicable policies; every
// policy is checked concurrently; and results reconcile with denial
// winning over store failure winning over allowance. Store failures are
// absorbed into an allowing fallback decision so the engine itself never
// takes the search API down.
type RateLimitAppService struct {
	limiter  domainservice.WindowLimiter
	blocks   domainservice.BlockStore
	governor domainservice.LoadGovernor
	resolver *domainservice.PolicyResolver
	audit    domainservice.AuditService
	usageLog *ratelimit.APIKeyUsageLog
	fallback *ratelimit.TokenBucketPool
	metrics  *monitoring.Metrics
	logger   logger.Logger

	table         atomic.Pointer[models.LimitTable]
	fallbackLimit int
}

// AppServiceOptions carries the engine's collaborators. UsageLog, Fallback
// and Metrics are optional.
type AppServiceOptions struct {
	Limiter       domainservice.WindowLimiter
	Blocks        domainservice.BlockStore
	Governor      domainservice.LoadGovernor
	Audit         domainservice.AuditService
	UsageLog      *ratelimit.APIKeyUsageLog
	Fallback      *ratelimit.TokenBucketPool
	Metrics       *monitoring.Metrics
	Logger        logger.Logger
	Table         *models.LimitTable
	FallbackLimit int
}

// NewRateLimitAppService creates the engine.
func NewRateLimitAppService(opts AppServiceOptions) *RateLimitAppService {
	if opts.FallbackLimit <= 0 {
		opts.FallbackLimit = constants.DefaultFallbackLimit
	}

	s := &RateLimitAppService{
		limiter:       opts.Limiter,
		blocks:        opts.Blocks,
		governor:      opts.Governor,
		resolver:      domainservice.NewPolicyResolver(),
		audit:         opts.Audit,
		usageLog:      opts.UsageLog,
		fallback:      opts.Fallback,
		metrics:       opts.Metrics,
		logger:        opts.Logger.WithComponent("RateLimitAppService"),
		fallbackLimit: opts.FallbackLimit,
	}
	s.table.Store(opts.Table)
	return s
}

// ================================================================================
// Evaluation
// ================================================================================

// Evaluate runs one full rate limit evaluation. It never returns an error:
// infrastructure failures degrade into an allowing fallback decision.
func (s *RateLimitAppService) Evaluate(ctx context.Context, rlCtx models.RateLimitContext) models.Decision {
	start := time.Now()
	rlCtx = rlCtx.Normalize()

	ctx, span := otel.Tracer(constants.ServiceName).Start(ctx, "ratelimit.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("operation_type", string(rlCtx.OperationType)),
		attribute.Bool("authenticated", rlCtx.IsAuthenticated),
	)

	decision := s.evaluate(ctx, rlCtx)
	span.SetAttributes(
		attribute.Bool("allowed", decision.Allowed()),
		attribute.String("limit_type", decision.Result.LimitType),
	)

	if s.metrics != nil {
		s.metrics.RecordEvaluation(time.Since(start))
	}
	s.recordAPIKeyUsage(ctx, rlCtx, decision)

	return decision
}

func (s *RateLimitAppService) evaluate(ctx context.Context, rlCtx models.RateLimitContext) models.Decision {
	if block := s.activeBlock(ctx, rlCtx); block != nil {
		if s.metrics != nil {
			s.metrics.RecordBlocked(string(block.Type))
		}
		s.logger.Info(ctx, "Request rejected by temporary block",
			logger.String("block_type", string(block.Type)),
			logger.String("identifier", block.Identifier),
			logger.Time("expires_at", block.ExpiresAt),
		)
		return models.BlockedDecision(*block)
	}

	table := s.table.Load()
	factor := s.governor.Factor(ctx)
	if s.metrics != nil {
		s.metrics.SetLoadShed(factor < 1)
	}
	if factor < 1 {
		table = table.Scaled(factor)
	}

	policies := s.resolver.Resolve(table, rlCtx)
	if len(policies) == 0 {
		// No configured dimension applies; admit with the fallback ceiling
		// as the advertised limit.
		return models.AllowedDecision(models.RateLimitResult{
			Allowed:    true,
			Remaining:  s.fallbackLimit,
			ResetTime:  time.Now().Add(time.Hour),
			LimitType:  "none",
			LimitValue: s.fallbackLimit,
		})
	}

	results, checkErrs := s.checkAll(ctx, policies)

	// Denial wins over store failure: a definitive rejection from any
	// dimension stands even when another dimension's check failed.
	for i, policy := range policies {
		if checkErrs[i] == nil && !results[i].Allowed {
			return s.deny(ctx, rlCtx, policy, results[i])
		}
	}

	for i, policy := range policies {
		if checkErrs[i] != nil {
			s.logger.Error(ctx, "Rate limit check failed, failing open", checkErrs[i],
				logger.String("limit_type", policy.LimitType),
				logger.String("key", policy.Key),
			)
			if s.metrics != nil {
				s.metrics.RecordFailOpen()
			}
			return s.failOpen(rlCtx)
		}
	}

	// All dimensions allowed; advertise the tightest one.
	tightest := results[0]
	for _, r := range results[1:] {
		if r.Remaining < tightest.Remaining {
			tightest = r
		}
	}
	return models.AllowedDecision(tightest)
}

// checkAll runs every policy check concurrently and collects per-policy
// results and errors. All checks run to completion; reconciliation happens
// in the caller.
func (s *RateLimitAppService) checkAll(ctx context.Context, policies []models.LimitPolicy) ([]models.RateLimitResult, []error) {
	results := make([]models.RateLimitResult, len(policies))
	checkErrs := make([]error, len(policies))

	// Checks run to completion even if the caller aborts: a recorded
	// attempt must not be half-applied across dimensions.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for i, policy := range policies {
		i, policy := i, policy
		g.Go(func() error {
			result, err := s.limiter.Check(gctx, policy)
			results[i] = result
			checkErrs[i] = err
			if s.metrics != nil {
				s.metrics.RecordCheck(string(policy.Dimension), checkResultLabel(result, err))
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	return results, checkErrs
}

func checkResultLabel(result models.RateLimitResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case result.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}

// deny finalizes a denial: records the violation against the most specific
// identity and escalates to a temporary block at the threshold.
func (s *RateLimitAppService) deny(ctx context.Context, rlCtx models.RateLimitContext, policy models.LimitPolicy, result models.RateLimitResult) models.Decision {
	if s.metrics != nil {
		s.metrics.RecordDenial(result.LimitType)
	}
	s.logger.Info(ctx, "Rate limit exceeded",
		logger.String("limit_type", result.LimitType),
		logger.String("key", policy.Key),
		logger.Int("limit", result.LimitValue),
	)

	s.escalate(ctx, rlCtx, result.LimitType)

	return models.DeniedDecision(result)
}

// escalate counts the violation and creates a block once the identity
// crosses the threshold. Escalation is best-effort: a store failure here
// must not change the denial already decided.
func (s *RateLimitAppService) escalate(ctx context.Context, rlCtx models.RateLimitContext, limitType string) {
	id := rlCtx.PrimaryIdentifier()

	violations, err := s.blocks.RecordViolation(ctx, id)
	if err != nil {
		s.logger.Warn(ctx, "Failed to record violation",
			logger.String("identifier", id.Value),
			logger.Error(err),
		)
		return
	}
	if violations < constants.ViolationThreshold {
		return
	}

	now := time.Now()
	duration := models.EscalationDuration(violations)
	block := models.BlockRecord{
		Identifier: id.Value,
		Type:       id.Type,
		Reason:     fmt.Sprintf("exceeded %s rate limit %d times within the violation window", limitType, violations),
		BlockedAt:  now,
		Duration:   duration,
		ExpiresAt:  now.Add(duration),
	}

	if err := s.blocks.Put(ctx, block); err != nil {
		s.logger.Error(ctx, "Failed to apply escalation block", err,
			logger.String("identifier", id.Value),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordBlockCreated(string(id.Type))
	}

	s.publishAudit(ctx, models.AbuseEvent{
		EventType:  models.AbuseEventBlockCreated,
		Identifier: block.Identifier,
		Type:       block.Type,
		Reason:     block.Reason,
		Violations: violations,
		Duration:   duration,
		OccurredAt: now,
	})
}

// failOpen admits the request on store failure. With the local fallback
// pool enabled the advertised remaining count comes from an in-process
// token bucket keyed by the primary identity, so repeated fail-open
// responses still count down credibly.
func (s *RateLimitAppService) failOpen(rlCtx models.RateLimitContext) models.Decision {
	decision := models.FallbackDecision(s.fallbackLimit, time.Hour)

	if s.fallback != nil {
		id := rlCtx.PrimaryIdentifier()
		_, left := s.fallback.Take(string(id.Type) + ":" + id.Value)
		decision.Result.Remaining = int(left)
	}
	return decision
}

// activeBlock returns the first active block across the request's
// identities. Lookup failures are logged and treated as no block: a store
// outage must not reject traffic, and quota checks still apply.
func (s *RateLimitAppService) activeBlock(ctx context.Context, rlCtx models.RateLimitContext) *models.BlockRecord {
	now := time.Now()
	for _, id := range rlCtx.Identifiers() {
		block, err := s.blocks.Get(ctx, id)
		if err != nil {
			s.logger.Warn(ctx, "Block lookup failed",
				logger.String("type", string(id.Type)),
				logger.String("identifier", id.Value),
				logger.Error(err),
			)
			continue
		}
		if block != nil && block.Active(now) {
			return block
		}
	}
	return nil
}

func (s *RateLimitAppService) recordAPIKeyUsage(ctx context.Context, rlCtx models.RateLimitContext, decision models.Decision) {
	if s.usageLog == nil || rlCtx.APIKeyID == "" {
		return
	}
	s.usageLog.Record(ctx, rlCtx.APIKeyID, ratelimit.APIKeyUsageEntry{
		Timestamp:     time.Now(),
		OperationType: rlCtx.OperationType,
		Endpoint:      rlCtx.Endpoint,
		IPAddress:     rlCtx.IPAddress,
		Allowed:       decision.Allowed(),
		Remaining:     decision.Result.Remaining,
	})
}

// EvaluateAndReject wraps Evaluate with rejection semantics: denied
// decisions come back as typed errors carrying retry metadata.
func (s *RateLimitAppService) EvaluateAndReject(ctx context.Context, rlCtx models.RateLimitContext) (models.RateLimitResult, error) {
	decision := s.Evaluate(ctx, rlCtx)
	if decision.Allowed() {
		return decision.Result, nil
	}

	retryAfter := int64(decision.Result.RetryAfter.Seconds())

	if decision.Block != nil {
		err := errors.ErrIdentityBlocked("temporarily blocked due to repeated rate limit violations").
			WithMetadata("block_type", string(decision.Block.Type)).
			WithMetadata("reason", decision.Block.Reason).
			WithMetadata("expires_at", decision.Block.ExpiresAt).
			WithMetadata("retry_after", retryAfter)
		return decision.Result, err
	}

	err := errors.ErrRateLimitExceeded(fmt.Sprintf("rate limit exceeded for %s", decision.Result.LimitType)).
		WithMetadata("limit_type", decision.Result.LimitType).
		WithMetadata("limit", decision.Result.LimitValue).
		WithMetadata("retry_after", retryAfter)
	return decision.Result, err
}

// ================================================================================
// Administrative Operations
// ================================================================================

// ResetLimits deletes the quota counters for the supplied identifiers.
// Empty values are skipped.
func (s *RateLimitAppService) ResetLimits(ctx context.Context, userID, sessionID, ipAddress string) error {
	type target struct {
		dimension  constants.RateLimitDimension
		identifier string
	}
	targets := []target{
		{constants.DimensionUser, userID},
		{constants.DimensionSession, sessionID},
		{constants.DimensionIP, ipAddress},
	}

	var errs []error
	for _, t := range targets {
		if t.identifier == "" {
			continue
		}
		if err := s.limiter.Reset(ctx, t.dimension, t.identifier); err != nil {
			errs = append(errs, err)
			continue
		}
		s.publishAudit(ctx, models.AbuseEvent{
			EventType:  models.AbuseEventLimitsReset,
			Identifier: t.identifier,
			Type:       constants.BlockType(t.dimension),
			Reason:     "administrative reset",
			OccurredAt: time.Now(),
		})
	}
	return stderrors.Join(errs...)
}

// Usage reports current counter values for the supplied identifiers, keyed
// "dimension:bucket".
func (s *RateLimitAppService) Usage(ctx context.Context, userID, sessionID, ipAddress string) (map[string]int64, error) {
	type target struct {
		dimension  constants.RateLimitDimension
		identifier string
	}
	targets := []target{
		{constants.DimensionUser, userID},
		{constants.DimensionSession, sessionID},
		{constants.DimensionIP, ipAddress},
	}

	usage := make(map[string]int64)
	for _, t := range targets {
		if t.identifier == "" {
			continue
		}
		counts, err := s.limiter.Usage(ctx, t.dimension, t.identifier)
		if err != nil {
			return nil, err
		}
		for bucket, count := range counts {
			usage[fmt.Sprintf("%s:%s", t.dimension, bucket)] = count
		}
	}
	return usage, nil
}

// Block applies a temporary block outside the escalation path.
func (s *RateLimitAppService) Block(ctx context.Context, id models.Identifier, duration time.Duration, reason string) error {
	if id.Value == "" {
		return errors.ErrInvalidRequest("block identifier must not be empty")
	}
	if duration <= 0 {
		return errors.ErrInvalidRequest("block duration must be positive")
	}

	now := time.Now()
	block := models.BlockRecord{
		Identifier: id.Value,
		Type:       id.Type,
		Reason:     reason,
		BlockedAt:  now,
		Duration:   duration,
		ExpiresAt:  now.Add(duration),
	}
	if err := s.blocks.Put(ctx, block); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordBlockCreated(string(id.Type))
	}

	s.publishAudit(ctx, models.AbuseEvent{
		EventType:  models.AbuseEventBlockCreated,
		Identifier: id.Value,
		Type:       id.Type,
		Reason:     reason,
		Duration:   duration,
		OccurredAt: now,
	})
	return nil
}

// Unblock releases a temporary block early.
func (s *RateLimitAppService) Unblock(ctx context.Context, id models.Identifier) error {
	if err := s.blocks.Remove(ctx, id); err != nil {
		return err
	}
	s.publishAudit(ctx, models.AbuseEvent{
		EventType:  models.AbuseEventBlockRemoved,
		Identifier: id.Value,
		Type:       id.Type,
		Reason:     "administrative release",
		OccurredAt: time.Now(),
	})
	return nil
}

// BlockInfo returns the active block for an identifier, or nil.
func (s *RateLimitAppService) BlockInfo(ctx context.Context, id models.Identifier) (*models.BlockRecord, error) {
	block, err := s.blocks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if block == nil || !block.Active(time.Now()) {
		return nil, nil
	}
	return block, nil
}

// UpdateLimits atomically replaces the policy table. In-flight evaluations
// keep the snapshot they loaded.
func (s *RateLimitAppService) UpdateLimits(table *models.LimitTable) {
	s.table.Store(table)
	s.logger.Info(context.Background(), "Rate limit policy table replaced")
}

// Limits returns the current policy table snapshot.
func (s *RateLimitAppService) Limits() *models.LimitTable {
	return s.table.Load()
}

func (s *RateLimitAppService) publishAudit(ctx context.Context, event models.AbuseEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(ctx, event); err != nil {
		s.logger.Warn(ctx, "Failed to publish audit event",
			logger.String("event_type", string(event.EventType)),
			logger.Error(err),
		)
	}
}
