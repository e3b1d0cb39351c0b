package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/errors"
	"github.com/searchguard/searchguard/pkg/logger"
)

// APIKeyUsageEntry is one logged API credential request.
type APIKeyUsageEntry struct {
	Timestamp     time.Time               `json:"timestamp"`
	OperationType constants.OperationType `json:"operation_type"`
	Endpoint      string                  `json:"endpoint"`
	IPAddress     string                  `json:"ip_address"`
	Allowed       bool                    `json:"allowed"`
	Remaining     int                     `json:"remaining"`
}

// APIKeyDayStats aggregates one day of API credential usage.
type APIKeyDayStats struct {
	Date            string                            `json:"date"`
	TotalRequests   int                               `json:"total_requests"`
	AllowedRequests int                               `json:"allowed_requests"`
	DeniedRequests  int                               `json:"denied_requests"`
	OperationTypes  map[constants.OperationType]int64 `json:"operation_types"`
}

// APIKeyUsageLog records per-credential request logs in daily lists with a
// retention TTL. Logging is best-effort: a failed write is logged and
// dropped, never surfaced to the request path.
type APIKeyUsageLog struct {
	client redis.UniversalClient
	logger logger.Logger
}

// NewAPIKeyUsageLog creates a usage log.
func NewAPIKeyUsageLog(client redis.UniversalClient, log logger.Logger) *APIKeyUsageLog {
	return &APIKeyUsageLog{
		client: client,
		logger: log.WithComponent("APIKeyUsageLog"),
	}
}

// Record appends a usage entry to today's list for the credential.
func (u *APIKeyUsageLog) Record(ctx context.Context, apiKeyID string, entry APIKeyUsageEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		u.logger.Warn(ctx, "Failed to marshal API key usage entry", logger.Error(err))
		return
	}

	key := usageKey(apiKeyID, entry.Timestamp)
	pipe := u.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.Expire(ctx, key, constants.APIKeyUsageRetention)

	if _, err := pipe.Exec(ctx); err != nil {
		u.logger.Warn(ctx, "Failed to record API key usage",
			logger.String("api_key_id", apiKeyID),
			logger.Error(err),
		)
	}
}

// Stats aggregates usage for the last days days, most recent first.
func (u *APIKeyUsageLog) Stats(ctx context.Context, apiKeyID string, days int) ([]APIKeyDayStats, error) {
	if days <= 0 {
		days = 7
	}

	stats := make([]APIKeyDayStats, 0, days)
	now := time.Now()
	for i := 0; i < days; i++ {
		day := now.AddDate(0, 0, -i)
		entries, err := u.client.LRange(ctx, usageKey(apiKeyID, day), 0, -1).Result()
		if err != nil {
			return nil, errors.ErrStoreUnavailable("usage stats lookup failed").WithCause(err)
		}

		dayStats := APIKeyDayStats{
			Date:           day.Format("2006-01-02"),
			TotalRequests:  len(entries),
			OperationTypes: make(map[constants.OperationType]int64),
		}
		for _, raw := range entries {
			var entry APIKeyUsageEntry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				continue // skip malformed entries
			}
			if entry.Allowed {
				dayStats.AllowedRequests++
			} else {
				dayStats.DeniedRequests++
			}
			dayStats.OperationTypes[entry.OperationType]++
		}
		stats = append(stats, dayStats)
	}
	return stats, nil
}

func usageKey(apiKeyID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", constants.KeyPrefixAPIKeyUsage, apiKeyID, day.Format("2006-01-02"))
}
