// Package audit publishes abuse mitigation events to the audit stream so
// downstream systems (SOC tooling, analytics) see every block decision.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/searchguard/searchguard/internal/config"
	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/internal/domain/service"
	"github.com/searchguard/searchguard/pkg/logger"
)

// KafkaAuditService implements service.AuditService on top of kafka-go.
type KafkaAuditService struct {
	writer *kafka.Writer
	logger logger.Logger
}

// NewKafkaAuditService creates the audit publisher. Messages are keyed by
// identifier so all events for one identity land on the same partition.
func NewKafkaAuditService(cfg *config.KafkaConfig, log logger.Logger) *KafkaAuditService {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AbuseTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: batchTimeout,
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Async:        true,
	}

	return &KafkaAuditService{
		writer: writer,
		logger: log.WithComponent("KafkaAuditService"),
	}
}

// Publish sends one abuse event to the audit topic.
func (s *KafkaAuditService) Publish(ctx context.Context, event models.AbuseEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal abuse event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Identifier),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error(ctx, "Failed to publish abuse event", err,
			logger.String("event_type", string(event.EventType)),
			logger.String("identifier", event.Identifier),
		)
		return fmt.Errorf("failed to publish abuse event: %w", err)
	}

	return nil
}

// Close flushes and closes the writer.
func (s *KafkaAuditService) Close() error {
	return s.writer.Close()
}

// ================================================================================
// No-op fallback
// ================================================================================

type noopAuditService struct{}

// NewNoopAuditService returns an audit service that discards every event.
// Used when Kafka is disabled and in tests.
func NewNoopAuditService() service.AuditService {
	return noopAuditService{}
}

func (noopAuditService) Publish(context.Context, models.AbuseEvent) error { return nil }
func (noopAuditService) Close() error                                     { return nil }
