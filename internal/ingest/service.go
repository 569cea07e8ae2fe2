// Package ingest provides the event ingestion service.
// It validates inbound monitoring messages, computes routing keys and
// publishes them to the input queue for asynchronous correlation.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"correlator/internal/domain"
	"correlator/internal/metrics"
	"correlator/internal/queue"
)

// Service handles message ingestion.
// It is responsible for:
// - Validating inbound messages
// - Computing partition keys so one host is always processed in order
// - Publishing messages to the input queue
type Service struct {
	producer queue.Producer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new ingest service.
func NewService(producer queue.Producer, logger *slog.Logger) *Service {
	return &Service{
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// Errors returned by the ingest service.
var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrPublishFailed  = errors.New("failed to publish message to queue")
)

// Ingest validates msg and publishes it to the input queue.
func (s *Service) Ingest(ctx context.Context, msg *domain.Message) error {
	ingestStart := time.Now()

	if err := msg.Validate(); err != nil {
		metrics.EventsReceivedTotal.WithLabelValues("invalid").Inc()
		s.logger.Warn("rejected invalid message", "error", err, "host", msg.Host)
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	metrics.EventsReceivedTotal.WithLabelValues("accepted").Inc()

	// Every message of a host shares a partition so observations of an
	// item reach the correlator in order.
	partitionKey := computePartitionKey(msg.Host)

	internal := &domain.InternalMessage{
		Message:      *msg,
		PartitionKey: partitionKey,
		ReceivedAt:   s.now().UTC(),
	}

	payload, err := json.Marshal(internal)
	if err != nil {
		s.logger.Error("failed to serialize message", "error", err)
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	out := &queue.Message{
		Key:   []byte(partitionKey),
		Value: payload,
		Headers: map[string]string{
			queue.HeaderType:    string(msg.Type),
			queue.HeaderHost:    msg.Host,
			queue.HeaderService: msg.Service,
		},
	}

	publishStart := time.Now()
	if err := s.producer.Publish(ctx, out); err != nil {
		s.logger.Error("failed to publish message", "error", err, "host", msg.Host, "service", msg.Service)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	metrics.QueuePublishLatency.Observe(time.Since(publishStart).Seconds())

	metrics.EventsPublishedTotal.Inc()
	metrics.EventIngestLatency.Observe(time.Since(ingestStart).Seconds())

	s.logger.Debug("message published to queue",
		"type", msg.Type,
		"item", domain.ItemName(msg.Host, msg.Service),
		"partitionKey", partitionKey,
	)
	return nil
}

// computePartitionKey generates a deterministic partition key for a host.
func computePartitionKey(host string) string {
	hash := sha256.Sum256([]byte(host))
	return hex.EncodeToString(hash[:8]) // first 8 bytes (16 hex chars)
}
