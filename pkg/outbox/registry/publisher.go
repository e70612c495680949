// Package registry maps outbox event types to their Pub/Sub topic and typed
// payload, and rejects rows the publisher can never deliver.
package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is a validated outbox row with its payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will fail the same way on every
// attempt. The publisher moves such rows straight to the DLQ.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func payloadOf[T any]() func() any {
	return func() any { return new(T) }
}

// route sends a group of event types of one aggregate to one topic.
type route struct {
	aggregate  enums.OutboxAggregateType
	topic      string
	newPayload func() any
	events     []enums.OutboxEventType
}

// NewEventRegistry routes order, payment and coupon events to the orders
// topic and stock movements to the inventory topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.OrdersTopic == "":
		return nil, errors.New("orders topic is required")
	case cfg.InventoryTopic == "":
		return nil, errors.New("inventory topic is required")
	}
	orders, inventory := cfg.OrdersTopic, cfg.InventoryTopic

	routes := []route{
		{enums.AggregateOrder, orders, payloadOf[payloads.OrderCreatedEvent](), []enums.OutboxEventType{enums.EventOrderCreated}},
		{enums.AggregateOrder, orders, payloadOf[payloads.OrderLineEvent](), []enums.OutboxEventType{enums.EventOrderLineAdded, enums.EventOrderLineRemoved}},
		{enums.AggregateOrder, orders, payloadOf[payloads.OrderChargesSetEvent](), []enums.OutboxEventType{enums.EventOrderChargesSet}},
		{enums.AggregateOrder, orders, payloadOf[payloads.CouponAppliedEvent](), []enums.OutboxEventType{enums.EventCouponApplied}},
		{enums.AggregatePayment, orders, payloadOf[payloads.PaymentRecordedEvent](), []enums.OutboxEventType{enums.EventPaymentRecorded}},
		{enums.AggregateOrder, orders, payloadOf[payloads.OrderPaidEvent](), []enums.OutboxEventType{enums.EventOrderPaid}},
		{enums.AggregateOrder, orders, payloadOf[payloads.OrderStatusEvent](), []enums.OutboxEventType{
			enums.EventOrderConfirmed,
			enums.EventOrderCancelled,
			enums.EventOrderExpired,
			enums.EventOrderFulfilled,
			enums.EventOrderCompleted,
		}},
		{enums.AggregateInventory, inventory, payloadOf[payloads.InventoryChangedEvent](), []enums.OutboxEventType{
			enums.EventInventoryReceived,
			enums.EventInventoryAdjusted,
		}},
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, rt := range routes {
		for _, eventType := range rt.events {
			if _, dup := reg.entries[eventType]; dup {
				return nil, fmt.Errorf("event type %s routed twice", eventType)
			}
			reg.entries[eventType] = EventDescriptor{
				EventType:     eventType,
				AggregateType: rt.aggregate,
				Topic:         rt.topic,
				newPayload:    rt.newPayload,
			}
		}
	}
	return reg, nil
}

// Lookup returns the descriptor for eventType.
func (r *EventRegistry) Lookup(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable: the row itself is wrong.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	payload := desc.newPayload()
	if err := envelope.DecodeData(payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
