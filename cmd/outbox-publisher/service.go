package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/metrics"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/registry"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 10
	publishTimeout      = 15 * time.Second
	maxBackoff          = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(topic string) *gcppubsub.Publisher
}

// outboxRepository is the slice of outbox.Repository the relay needs. Every
// call runs inside the batch transaction that locked the rows.
type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
	PublisherFactory publisherFactory
}

// Service relays committed outbox rows to their Pub/Sub topics.
type Service struct {
	logg    *logger.Logger
	db      dbClient
	pubsub  pubSubClient
	rows    outboxRepository
	dead    dlqRepository
	events  registryResolver
	metrics *metrics.OutboxMetrics

	publisherFactory publisherFactory
	stopPublishers   func()

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	missing := []struct {
		absent bool
		name   string
	}{
		{params.Config == nil, "config"},
		{params.Logger == nil, "logger"},
		{params.DB == nil, "database client"},
		{params.PubSub == nil, "pubsub client"},
		{params.Repository == nil, "outbox repository"},
		{params.Registry == nil, "event registry"},
		{params.DLQRepository == nil, "dlq repository"},
	}
	for _, dep := range missing {
		if dep.absent {
			return nil, fmt.Errorf("%s is required", dep.name)
		}
	}

	tuning := params.Config.Outbox
	svc := &Service{
		logg:             params.Logger,
		db:               params.DB,
		pubsub:           params.PubSub,
		rows:             params.Repository,
		dead:             params.DLQRepository,
		events:           params.Registry,
		metrics:          params.Metrics,
		publisherFactory: params.PublisherFactory,
		batchSize:        orDefault(tuning.BatchSize, defaultBatchSize),
		maxAttempts:      orDefault(tuning.MaxAttempts, defaultMaxAttempts),
		pollInterval:     defaultPollInterval,
	}
	if tuning.PollIntervalMS > 0 {
		svc.pollInterval = time.Duration(tuning.PollIntervalMS) * time.Millisecond
	}
	if svc.publisherFactory == nil {
		svc.publisherFactory, svc.stopPublishers = cachedPublishers(params.PubSub)
	}
	return svc, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	checks := []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"pubsub", s.pubsub.Ping},
	}
	for _, check := range checks {
		if err := check.ping(ctx); err != nil {
			return fmt.Errorf("%s unavailable: %w", check.name, err)
		}
	}
	return nil
}

// Run drains the outbox until ctx ends. A non-empty batch polls again at
// once; an empty one waits a jittered interval and a failed one backs off.
func (s *Service) Run(ctx context.Context) error {
	if s.stopPublishers != nil {
		defer s.stopPublishers()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	var wait time.Duration
	for {
		if err := s.pause(ctx, wait); err != nil {
			return err
		}
		processed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait = backoffAfter(wait, s.pollInterval, maxBackoff)
		case processed:
			wait = 0
		default:
			wait = s.pollInterval
		}
	}
}

// pause sleeps d plus jitter. A zero d only checks for cancellation.
func (s *Service) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d + rand.N(jitterWindow))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoffAfter doubles prev, starting from base and never above ceiling.
func backoffAfter(prev, base, ceiling time.Duration) time.Duration {
	return min(max(prev, base)*2, ceiling)
}

// processBatch locks up to batchSize rows and settles each one inside the
// same transaction. It reports whether any row was fetched.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	fetched := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		batch, err := s.rows.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		fetched = len(batch) > 0

		// Rows arrive oldest first. Once an aggregate fails, its later rows
		// wait for the next batch so subscribers never see them early.
		blocked := make(map[uuid.UUID]bool)
		for _, row := range batch {
			if blocked[row.AggregateID] {
				s.metrics.IncDeferred(string(row.EventType))
				s.logg.Debug(s.rowContext(ctx, row, "", ""), "outbox event deferred behind failed aggregate")
				continue
			}
			delivered, err := s.settle(ctx, tx, row)
			if err != nil {
				return err
			}
			if !delivered {
				blocked[row.AggregateID] = true
			}
		}
		return nil
	})
	return fetched, err
}

// settle publishes one row and records the outcome. It reports whether the
// row left the queue as published.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (bool, error) {
	resolved, err := s.events.Resolve(row)
	if err != nil {
		return false, s.deadLetter(s.rowContext(ctx, row, "", ""), tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}

	topic := resolved.Descriptor.Topic
	ctx = s.rowContext(ctx, row, resolved.Envelope.EventID, topic)
	err = s.publish(ctx, row, resolved)
	if err == nil {
		if err := s.rows.MarkPublishedTx(tx, row.ID); err != nil {
			return false, fmt.Errorf("mark %s published: %w", row.ID, err)
		}
		s.metrics.IncPublished(string(row.EventType))
		s.logg.Info(ctx, "outbox event published")
		return true, nil
	}

	var permanent registry.NonRetryableError
	if errors.As(err, &permanent) {
		return false, s.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}

	attempt := row.AttemptCount + 1
	ctx = s.logg.WithField(ctx, "attempt_count", attempt)
	if attempt >= s.maxAttempts {
		exhausted := fmt.Errorf("gave up after %d publish attempts: %w", attempt, err)
		return false, s.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, exhausted)
	}

	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "outbox publish failed, will retry")
	s.metrics.IncFailed(string(row.EventType))
	if err := s.rows.MarkFailedTx(tx, row.ID, err); err != nil {
		return false, fmt.Errorf("mark %s failed: %w", row.ID, err)
	}
	return false, nil
}

// deadLetter parks the row in the DLQ table and takes it out of the queue.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event moved to dlq")

	if err := s.dead.InsertTx(tx, dlqEntry(row, reason, cause, time.Now().UTC())); err != nil {
		return fmt.Errorf("dead-letter %s: %w", row.ID, err)
	}
	if err := s.rows.MarkTerminalTx(tx, row.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark %s terminal: %w", row.ID, err)
	}
	s.metrics.IncDeadLettered(string(row.EventType), string(reason))
	return nil
}

func dlqEntry(row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, at time.Time) models.OutboxDLQ {
	msg := cause.Error()
	return models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      at,
	}
}

func (s *Service) rowContext(ctx context.Context, row models.OutboxEvent, eventID, topic string) context.Context {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
	if eventID != "" {
		fields["event_id"] = eventID
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return s.logg.WithFields(ctx, fields)
}
