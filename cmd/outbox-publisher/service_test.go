package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/metrics"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/payloads"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/registry"
)

type harness struct {
	repo     *fakeRepo
	pub      *fakePublisher
	dlq      *fakeDLQRepo
	registry *fakeRegistry
	svc      *Service
}

func newHarness(t *testing.T, outboxCfg config.OutboxConfig, rows ...models.OutboxEvent) *harness {
	t.Helper()
	h := &harness{
		repo: &fakeRepo{events: rows},
		pub:  &fakePublisher{},
		dlq:  &fakeDLQRepo{},
		registry: &fakeRegistry{resolved: &registry.ResolvedEvent{
			Descriptor: registry.EventDescriptor{Topic: "orders-topic"},
			Payload:    &payloads.OrderStatusEvent{},
		}},
	}
	if outboxCfg.BatchSize == 0 {
		outboxCfg.BatchSize = len(rows)
	}
	if outboxCfg.MaxAttempts == 0 {
		outboxCfg.MaxAttempts = 5
	}
	svc, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.Nop(),
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       h.repo,
		Registry:         h.registry,
		PublisherFactory: func(string) publisher { return h.pub },
		DLQRepository:    h.dlq,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) failNext(errs ...error) {
	for _, err := range errs {
		h.pub.results = append(h.pub.results, fakePublishResult{err: err})
	}
}

func outboxRow(t *testing.T, eventType enums.OutboxEventType, aggregateID uuid.UUID) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   aggregateID,
		Payload:       envelopeJSON(t, id.String()),
	}
}

func envelopeJSON(t *testing.T, eventID string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return raw
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{Config: &config.Config{}, Logger: logger.Nop()})
	require.EqualError(t, err, "database client is required")
}

func TestProcessBatchReportsEmptyQueue(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{BatchSize: 10})

	processed, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
	require.Empty(t, h.pub.messages)
}

func TestProcessBatchKeepsGoingAfterRetryableFailure(t *testing.T) {
	first := outboxRow(t, enums.EventOrderCreated, uuid.New())
	second := outboxRow(t, enums.EventOrderCreated, uuid.New())
	h := newHarness(t, config.OutboxConfig{}, first, second)
	h.failNext(errors.New("transient"), nil)

	processed, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, []uuid.UUID{first.ID}, h.repo.failed)
	require.Equal(t, []uuid.UUID{second.ID}, h.repo.published)
	require.Empty(t, h.repo.terminal)
	require.Empty(t, h.dlq.entries)
}

func TestProcessBatchHoldsBackLaterEventsOfFailedAggregate(t *testing.T) {
	orderID, otherID := uuid.New(), uuid.New()
	confirmed := outboxRow(t, enums.EventOrderConfirmed, orderID)
	paid := outboxRow(t, enums.EventOrderPaid, orderID)
	other := outboxRow(t, enums.EventOrderConfirmed, otherID)
	h := newHarness(t, config.OutboxConfig{}, confirmed, paid, other)
	h.failNext(errors.New("unavailable"), nil)
	reg := prometheus.NewRegistry()
	h.svc.metrics = metrics.NewOutboxMetrics(reg)

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, h.pub.messages, 2, "paid must not be published ahead of confirmed")
	require.Equal(t, otherID.String(), h.pub.messages[1].OrderingKey)
	require.Equal(t, []string{orderID.String()}, h.pub.resumed)
	require.Equal(t, []uuid.UUID{confirmed.ID}, h.repo.failed)
	require.Equal(t, []uuid.UUID{other.ID}, h.repo.published)

	const want = `
# HELP outbox_events_deferred_total Rows held back because an earlier event of the same aggregate failed.
# TYPE outbox_events_deferred_total counter
outbox_events_deferred_total{event_type="order_paid"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "outbox_events_deferred_total"))
}

func TestPublishCarriesTopicOrderingKeyAndAttributes(t *testing.T) {
	row := outboxRow(t, enums.EventInventoryReceived, uuid.New())
	row.AggregateType = enums.AggregateInventory
	h := newHarness(t, config.OutboxConfig{}, row)
	h.registry.resolved.Descriptor.Topic = "inventory-topic"
	h.registry.resolved.Payload = &payloads.InventoryChangedEvent{}
	var topics []string
	h.svc.publisherFactory = func(topic string) publisher {
		topics = append(topics, topic)
		return h.pub
	}

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"inventory-topic"}, topics)
	require.Len(t, h.pub.messages, 1)

	msg := h.pub.messages[0]
	require.Equal(t, row.AggregateID.String(), msg.OrderingKey)
	require.Equal(t, string(enums.EventInventoryReceived), msg.Attributes["event_type"])
	require.Equal(t, string(enums.AggregateInventory), msg.Attributes["aggregate_type"])
	require.Equal(t, row.ID.String(), msg.Attributes["event_id"])
	require.JSONEq(t, string(row.Payload), string(msg.Data))
	require.Equal(t, []uuid.UUID{row.ID}, h.repo.published)
}

func TestProcessBatchDeadLetters(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(h *harness, row *models.OutboxEvent)
		reason  enums.OutboxDLQErrorReason
	}{
		{
			name: "unresolvable event",
			prepare: func(h *harness, _ *models.OutboxEvent) {
				h.registry.resolved = nil
				h.registry.err = registry.NewNonRetryableError(errors.New("invalid payload"))
			},
			reason: enums.OutboxDLQReasonNonRetryable,
		},
		{
			name: "missing publisher",
			prepare: func(h *harness, _ *models.OutboxEvent) {
				h.svc.publisherFactory = func(string) publisher { return nil }
			},
			reason: enums.OutboxDLQReasonNonRetryable,
		},
		{
			name: "attempts exhausted",
			prepare: func(h *harness, row *models.OutboxEvent) {
				row.AttemptCount = 1
				h.failNext(errors.New("transient"))
			},
			reason: enums.OutboxDLQReasonMaxAttempts,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := outboxRow(t, enums.EventOrderCreated, uuid.New())
			h := newHarness(t, config.OutboxConfig{MaxAttempts: 2}, row)
			tc.prepare(h, &h.repo.events[0])

			processed, err := h.svc.processBatch(context.Background())
			require.NoError(t, err)
			require.True(t, processed)

			require.Len(t, h.dlq.entries, 1)
			entry := h.dlq.entries[0]
			require.Equal(t, row.ID, entry.EventID)
			require.Equal(t, tc.reason, entry.ErrorReason)
			require.Equal(t, []byte(row.Payload), []byte(entry.Payload))
			require.NotNil(t, entry.ErrorMessage)
			require.Equal(t, []uuid.UUID{row.ID}, h.repo.terminal)
			require.Empty(t, h.repo.published)
		})
	}
}

func TestBackoffAfterDoublesUpToCeiling(t *testing.T) {
	base, ceiling := time.Second, 5*time.Second
	require.Equal(t, 2*time.Second, backoffAfter(0, base, ceiling))
	require.Equal(t, 4*time.Second, backoffAfter(2*time.Second, base, ceiling))
	require.Equal(t, ceiling, backoffAfter(4*time.Second, base, ceiling))
	require.Equal(t, ceiling, backoffAfter(ceiling, base, ceiling))
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	return f.events[:min(limit, len(f.events))], nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
	resumed  []string
}

func (f *fakePublisher) ResumePublish(orderingKey string) {
	f.resumed = append(f.resumed, orderingKey)
}

// Publish pops the next scripted result; an empty script means success.
func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return fakePublishResult{}
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "server-id", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.resolved
	out.Descriptor.AggregateType = event.AggregateType
	out.Envelope = outbox.PayloadEnvelope{EventID: event.ID.String(), OccurredAt: time.Now()}
	return &out, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
