package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/errors"
	"github.com/searchguard/searchguard/pkg/logger"
)

// RedisBlockStore implements service.BlockStore. Block records are stored
// with a TTL equal to their duration, so expiry is self-cleaning; explicit
// deletion exists only for early administrative release.
type RedisBlockStore struct {
	client redis.UniversalClient
	logger logger.Logger
}

// NewRedisBlockStore creates a block store.
func NewRedisBlockStore(client redis.UniversalClient, log logger.Logger) *RedisBlockStore {
	return &RedisBlockStore{
		client: client,
		logger: log.WithComponent("RedisBlockStore"),
	}
}

// Get returns the active block for an identifier, or nil when none exists.
func (s *RedisBlockStore) Get(ctx context.Context, id models.Identifier) (*models.BlockRecord, error) {
	data, err := s.client.Get(ctx, blockKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ErrStoreUnavailable("block lookup failed").WithCause(err)
	}

	var block models.BlockRecord
	if err := json.Unmarshal([]byte(data), &block); err != nil {
		// A corrupt record must not grant a free pass; surface it as a
		// store failure and let the caller decide.
		return nil, errors.ErrStoreUnavailable("block record corrupt").WithCause(err)
	}
	return &block, nil
}

// Put stores a block with a store-native TTL equal to its duration.
func (s *RedisBlockStore) Put(ctx context.Context, block models.BlockRecord) error {
	data, err := json.Marshal(block)
	if err != nil {
		return errors.ErrInternal("failed to marshal block record").WithCause(err)
	}

	id := models.Identifier{Type: block.Type, Value: block.Identifier}
	if err := s.client.Set(ctx, blockKey(id), data, block.Duration).Err(); err != nil {
		return errors.ErrStoreUnavailable("block write failed").WithCause(err)
	}

	s.logger.Warn(ctx, "Temporary block applied",
		logger.String("type", string(block.Type)),
		logger.String("identifier", block.Identifier),
		logger.Duration("duration", block.Duration),
		logger.String("reason", block.Reason),
	)
	return nil
}

// Remove releases a block before its natural expiry.
func (s *RedisBlockStore) Remove(ctx context.Context, id models.Identifier) error {
	if err := s.client.Del(ctx, blockKey(id)).Err(); err != nil {
		return errors.ErrStoreUnavailable("block removal failed").WithCause(err)
	}
	s.logger.Info(ctx, "Temporary block removed",
		logger.String("type", string(id.Type)),
		logger.String("identifier", id.Value),
	)
	return nil
}

// RecordViolation increments the violation counter for an identifier and
// returns the new count. The TTL is set only when the counter is created:
// the exposure window runs from the first violation, and an hour of good
// behaviour clears it.
func (s *RedisBlockStore) RecordViolation(ctx context.Context, id models.Identifier) (int64, error) {
	key := violationKey(id)

	pipe := s.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, constants.ViolationWindow)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.ErrStoreUnavailable("violation count failed").WithCause(err)
	}
	return incrCmd.Val(), nil
}

func blockKey(id models.Identifier) string {
	return fmt.Sprintf("%s:%s:%s", constants.KeyPrefixBlocked, id.Type, id.Value)
}

func violationKey(id models.Identifier) string {
	return fmt.Sprintf("%s:%s", constants.KeyPrefixViolations, id.Value)
}
