// Package processor is the correlation coordinator. It consumes inbound
// messages, persists raw events, runs the rules of each alert and hands
// the result to the aggregation engine.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"correlator/internal/correlator"
	"correlator/internal/ctxstore"
	"correlator/internal/domain"
	"correlator/internal/metrics"
	"correlator/internal/publish"
	"correlator/internal/queue"
	"correlator/internal/store"
)

// RuleRunner runs the rules of one alert.
type RuleRunner interface {
	Run(ctx context.Context, link RuleLink, alertID string) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Consumer   queue.Consumer
	Context    *ctxstore.Store
	Items      store.SupItemRepository
	Events     store.EventRepository
	CorrEvents store.CorrEventRepository
	Locker     store.Locker
	Rules      RuleRunner
	Builder    *correlator.Builder
	Publisher  publish.Publisher
}

// Service processes messages from the queue.
// It is responsible for:
// - Persisting the raw event of each observation
// - Seeding the per-alert Context
// - Running the rules, then the aggregation engine
// - Running post-correlation callbacks registered by rules
type Service struct {
	Deps
	logger *slog.Logger
}

// NewService creates a new processor service.
func NewService(deps Deps, logger *slog.Logger) *Service {
	return &Service{
		Deps:   deps,
		logger: logger,
	}
}

// Start begins consuming messages from the queue and processing them.
// This is a blocking call that runs until the context is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting processor service")
	return s.Consumer.Start(ctx, s.handleMessage)
}

// handleMessage is the callback for processing each message from the queue.
func (s *Service) handleMessage(ctx context.Context, msg *queue.Message) error {
	var m domain.InternalMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		s.logger.Error("failed to deserialize message", "error", err)
		metrics.EventsProcessedTotal.WithLabelValues("unknown", "invalid").Inc()
		// Return nil to avoid reprocessing malformed messages
		return nil
	}
	if err := m.Validate(); err != nil {
		s.logger.Warn("invalid message", "error", err, "type", m.Type, "host", m.Host)
		metrics.EventsProcessedTotal.WithLabelValues(string(m.Type), "invalid").Inc()
		return nil
	}

	if m.Type != domain.MessageTypeEvent {
		s.logger.Info("message type not correlated, acknowledging", "type", m.Type, "host", m.Host)
		metrics.EventsProcessedTotal.WithLabelValues(string(m.Type), "ignored").Inc()
		return nil
	}

	res, err := s.Process(ctx, &m.Message)
	if err != nil {
		metrics.EventsProcessedTotal.WithLabelValues(string(m.Type), "error").Inc()
		s.logger.Error("failed to process event", "error", err, "host", m.Host, "service", m.Service)
		return err
	}
	metrics.EventsProcessedTotal.WithLabelValues(string(m.Type), string(res.Outcome)).Inc()
	return nil
}

// Process correlates one event message end to end.
//
// Rule failures do not stop aggregation: the engine works with whatever
// the Context holds. An unavailable context store aborts the alert so the
// message is delivered again.
func (s *Service) Process(ctx context.Context, msg *domain.Message) (correlator.Result, error) {
	start := time.Now()

	event, item, err := s.persistEvent(ctx, msg)
	if err != nil {
		return correlator.Result{}, err
	}
	if event == nil {
		return correlator.Result{Outcome: correlator.OutcomeStale}, nil
	}

	alertID := uuid.New().String()
	c := s.Context.For(alertID)
	defer func() {
		if err := c.Clear(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to clear alert context", "alertID", alertID, "error", err)
		}
	}()

	if err := s.seedContext(ctx, c, event, item, msg); err != nil {
		return correlator.Result{}, err
	}

	link := newLink(s.Publisher)
	if err := s.Rules.Run(ctx, link, alertID); err != nil {
		if errors.Is(err, ctxstore.ErrUnavailable) {
			return correlator.Result{}, err
		}
		s.logger.Warn("rules failed, correlating with partial context",
			"alertID", alertID,
			"error", err,
		)
	}

	res, err := s.Builder.MakeCorrelatedEvent(ctx, alertID)
	if err != nil {
		return correlator.Result{}, fmt.Errorf("failed to correlate alert %s: %w", alertID, err)
	}

	if err := link.runCallbacks(ctx, res.CorrEventID); err != nil {
		s.logger.Error("post-correlation callback failed", "alertID", alertID, "error", err)
	}

	metrics.EventProcessingLatency.Observe(time.Since(start).Seconds())
	s.logger.Debug("alert correlated",
		"alertID", alertID,
		"rawEventID", event.ID,
		"outcome", res.Outcome,
		"corrEventID", res.CorrEventID,
	)
	return res, nil
}

// persistEvent stores the observation. The latest event of the item is
// reused unless it caused an incident that is resolved and closed. A nil
// event means the message predates the stored one and was dropped.
func (s *Service) persistEvent(ctx context.Context, msg *domain.Message) (*domain.Event, *domain.SupItem, error) {
	unlock, err := s.Locker.Lock(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire correlation lock: %w", err)
	}
	defer unlock()

	item, err := s.Items.Resolve(ctx, msg.Host, msg.Service)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve supervised item: %w", err)
	}

	latest, err := s.Events.GetLatestForItem(ctx, item.ID)
	if err != nil && !errors.Is(err, domain.ErrEventNotFound) {
		return nil, nil, fmt.Errorf("failed to get latest event: %w", err)
	}

	if latest != nil {
		reuse, err := s.reusable(ctx, latest)
		if err != nil {
			return nil, nil, err
		}
		if reuse {
			if msg.Timestamp.Before(latest.Timestamp) {
				s.logger.Info("dropping out-of-order observation",
					"supItemID", item.ID,
					"eventID", latest.ID,
					"timestamp", msg.Timestamp,
					"latest", latest.Timestamp,
				)
				return nil, item, nil
			}
			latest.Observe(msg)
			if err := s.Events.Update(ctx, latest); err != nil {
				return nil, nil, fmt.Errorf("failed to update event: %w", err)
			}
			return latest, item, nil
		}
	}

	event := domain.NewEvent(item.ID, msg)
	if err := s.Events.Create(ctx, event); err != nil {
		return nil, nil, fmt.Errorf("failed to create event: %w", err)
	}
	return event, item, nil
}

// reusable reports whether new observations may update event in place.
func (s *Service) reusable(ctx context.Context, event *domain.Event) (bool, error) {
	ce, err := s.CorrEvents.GetByCause(ctx, event.ID)
	if errors.Is(err, domain.ErrCorrEventNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get incident of event %d: %w", event.ID, err)
	}
	return !(event.IsResolved() && ce.Ack == domain.AckClosed), nil
}

func (s *Service) seedContext(ctx context.Context, c *ctxstore.Context, event *domain.Event, item *domain.SupItem, msg *domain.Message) error {
	if err := c.SetRawEventID(ctx, event.ID); err != nil {
		return err
	}
	if err := c.SetSupItemID(ctx, item.ID); err != nil {
		return err
	}
	return c.SetMessage(ctx, msg)
}

// Stop closes the consumer, ending Start.
func (s *Service) Stop() error {
	s.logger.Info("stopping processor service")
	return s.Consumer.Close()
}
