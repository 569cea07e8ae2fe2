// Package publish sends incident changes downstream on the output bus.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"correlator/internal/domain"
	"correlator/internal/metrics"
	"correlator/internal/queue"
)

// Payload kinds, also sent as the "kind" header.
const (
	KindIncident = "incident"
	KindDelta    = "delta"
	KindRemoved  = "removed"
	KindRule     = "rule"
)

// Change tells whether an incident was just created.
type Change string

const (
	ChangeNew    Change = "NEW"
	ChangeUpdate Change = "CHANGE"
)

// IncidentPayload is the full state of a created or updated incident.
type IncidentPayload struct {
	Kind        string          `json:"kind"`
	Change      Change          `json:"change"`
	ID          int64           `json:"id"`
	CauseID     int64           `json:"cause_id"`
	Host        string          `json:"host"`
	Service     string          `json:"service,omitempty"`
	State       domain.State    `json:"state"`
	Priority    int             `json:"priority"`
	Occurrence  int             `json:"occurrence"`
	Ack         domain.AckState `json:"ack"`
	Active      time.Time       `json:"timestamp_active"`
	ImpactedHLS []string        `json:"impacted_hls,omitempty"`
	Members     []int64         `json:"members"`
	PublishedAt time.Time       `json:"published_at"`
}

// DeltaPayload lists raw events added to or removed from incidents.
type DeltaPayload struct {
	Kind        string    `json:"kind"`
	Added       []int64   `json:"added"`
	Removed     []int64   `json:"removed"`
	Incidents   []int64   `json:"incidents"`
	PublishedAt time.Time `json:"published_at"`
}

// RemovedPayload lists incidents that no longer exist.
type RemovedPayload struct {
	Kind        string    `json:"kind"`
	Incidents   []int64   `json:"incidents"`
	PublishedAt time.Time `json:"published_at"`
}

// Incident describes an incident for PublishIncident.
type Incident struct {
	CorrEvent *domain.CorrEvent
	Cause     *domain.Event
	Item      *domain.SupItem
	Members   []int64
	Change    Change
}

// Publisher is the downstream publish interface of the aggregation engine.
type Publisher interface {
	// PublishIncident sends the state of a created or updated incident.
	PublishIncident(ctx context.Context, inc *Incident) error

	// PublishDelta sends membership changes of incidents.
	PublishDelta(ctx context.Context, added, removed, incidentIDs []int64) error

	// PublishRemoved announces deleted incidents.
	PublishRemoved(ctx context.Context, incidentIDs []int64) error

	// PublishRaw forwards a payload produced by a rule.
	PublishRaw(ctx context.Context, payload []byte) error
}

// QueuePublisher implements Publisher on top of a queue.Producer.
type QueuePublisher struct {
	producer queue.Producer
	logger   *slog.Logger
}

// NewQueuePublisher creates a publisher writing to producer.
func NewQueuePublisher(producer queue.Producer, logger *slog.Logger) *QueuePublisher {
	return &QueuePublisher{
		producer: producer,
		logger:   logger,
	}
}

// PublishIncident implements Publisher.
func (p *QueuePublisher) PublishIncident(ctx context.Context, inc *Incident) error {
	ce := inc.CorrEvent
	payload := IncidentPayload{
		Kind:        KindIncident,
		Change:      inc.Change,
		ID:          ce.ID,
		CauseID:     ce.CauseID,
		Priority:    ce.Priority,
		Occurrence:  ce.Occurrence,
		Ack:         ce.Ack,
		Active:      ce.Timestamp,
		ImpactedHLS: ce.ImpactedHLS,
		Members:     inc.Members,
		PublishedAt: time.Now().UTC(),
	}
	if inc.Cause != nil {
		payload.State = inc.Cause.CurrentState
	}
	if inc.Item != nil {
		payload.Host = inc.Item.Host
		payload.Service = inc.Item.Service
	}
	return p.send(ctx, KindIncident, strconv.FormatInt(ce.ID, 10), payload)
}

// PublishDelta implements Publisher.
func (p *QueuePublisher) PublishDelta(ctx context.Context, added, removed, incidentIDs []int64) error {
	return p.send(ctx, KindDelta, "", DeltaPayload{
		Kind:        KindDelta,
		Added:       nonNil(added),
		Removed:     nonNil(removed),
		Incidents:   nonNil(incidentIDs),
		PublishedAt: time.Now().UTC(),
	})
}

// PublishRemoved implements Publisher.
func (p *QueuePublisher) PublishRemoved(ctx context.Context, incidentIDs []int64) error {
	return p.send(ctx, KindRemoved, "", RemovedPayload{
		Kind:        KindRemoved,
		Incidents:   nonNil(incidentIDs),
		PublishedAt: time.Now().UTC(),
	})
}

// PublishRaw implements Publisher.
func (p *QueuePublisher) PublishRaw(ctx context.Context, payload []byte) error {
	return p.publish(ctx, KindRule, "", payload)
}

func (p *QueuePublisher) send(ctx context.Context, kind, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return p.publish(ctx, kind, key, data)
}

func (p *QueuePublisher) publish(ctx context.Context, kind, key string, data []byte) error {
	start := time.Now()
	msg := &queue.Message{
		Value: data,
		Headers: map[string]string{
			queue.HeaderKind:      kind,
			queue.HeaderMessageID: uuid.New().String(),
		},
	}
	if key != "" {
		msg.Key = []byte(key)
	}

	if err := p.producer.Publish(ctx, msg); err != nil {
		metrics.PublicationsTotal.WithLabelValues(kind, "failure").Inc()
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	metrics.PublicationsTotal.WithLabelValues(kind, "success").Inc()
	metrics.QueuePublishLatency.Observe(time.Since(start).Seconds())

	p.logger.Debug("published", "kind", kind, "key", key)
	return nil
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
