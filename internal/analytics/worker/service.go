// Package worker consumes order events from Pub/Sub and hands the ones that
// produce sales facts to the analytics router.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/retail-backoffice/internal/analytics/router"
	"github.com/angelmondragon/retail-backoffice/internal/analytics/types"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/metrics"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
)

// ConsumerName scopes this worker's idempotency keys.
const ConsumerName = "analytics"

type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// eventFilter is optional. Handlers that implement it let untracked events
// skip the idempotency store.
type eventFilter interface {
	Supports(eventType enums.OutboxEventType) bool
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type Params struct {
	Subscription *gcppubsub.Subscriber
	Handler      Handler
	Idempotency  idempotencyChecker
	Logger       *logger.Logger
	Metrics      *metrics.ConsumerMetrics
	// MaxOutstanding caps unacked messages held by this process. Zero keeps
	// the client default.
	MaxOutstanding int
}

// Service acks every message it has either handled or decided to drop and
// nacks only failures that a redelivery can fix.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	seen         idempotencyChecker
	logg         *logger.Logger
	metrics      *metrics.ConsumerMetrics
}

func NewService(p Params) (*Service, error) {
	switch {
	case p.Subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case p.Handler == nil:
		return nil, errors.New("analytics handler is required")
	case p.Idempotency == nil:
		return nil, errors.New("idempotency manager is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	}
	if p.MaxOutstanding > 0 {
		p.Subscription.ReceiveSettings.MaxOutstandingMessages = p.MaxOutstanding
	}
	return &Service{
		subscription: p.Subscription,
		handler:      p.Handler,
		seen:         p.Idempotency,
		logg:         p.Logger,
		metrics:      p.Metrics,
	}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		outcome := s.process(msgCtx, msg)
		s.metrics.Observe(outcome)
		if outcome == metrics.OutcomeRetry {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process returns one of the metrics.Outcome values. Only OutcomeRetry
// leads to a nack.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) string {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := envelopeFromMessage(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping malformed analytics message")
		return metrics.OutcomeInvalid
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"occurred_at":    envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	if filter, ok := s.handler.(eventFilter); ok && !filter.Supports(envelope.EventType) {
		s.logg.Debug(ctx, "event not tracked by analytics")
		return metrics.OutcomeSkipped
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(ctx, "event id is not a uuid")
		return metrics.OutcomeInvalid
	}

	duplicate, err := s.seen.CheckAndMarkProcessed(ctx, ConsumerName, eventID)
	if err != nil {
		s.logg.Error(ctx, "idempotency check failed", err)
		return metrics.OutcomeRetry
	}
	if duplicate {
		s.logg.Info(ctx, "duplicate analytics event ignored")
		return metrics.OutcomeDuplicate
	}

	err = s.handler.Handle(ctx, envelope)
	switch {
	case err == nil:
		s.logg.Info(ctx, "analytics event handled")
		return metrics.OutcomeHandled
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Debug(ctx, "event not tracked by analytics")
		return metrics.OutcomeSkipped
	}

	s.logg.Error(ctx, "analytics handler failed", err)
	// Release the marker so the redelivery is not mistaken for a duplicate.
	if delErr := s.seen.Delete(ctx, ConsumerName, eventID); delErr != nil {
		s.logg.Error(ctx, "failed to release idempotency marker", delErr)
	}
	return metrics.OutcomeRetry
}

// envelopeFromMessage combines the stored outbox envelope with the routing
// attributes the publisher set. The envelope wins for event id and time.
func envelopeFromMessage(msg *gcppubsub.Message) (types.Envelope, error) {
	stored, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return types.Envelope{}, err
	}
	attr := func(key string) string {
		return strings.TrimSpace(msg.Attributes[key])
	}

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return types.Envelope{}, errors.New("aggregate_id missing")
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = attr("event_id")
	}
	if eventID == "" {
		return types.Envelope{}, errors.New("event_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			occurredAt = parsed
		}
	}

	return types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}
