package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregateInventory OutboxAggregateType = "inventory"
	AggregateCoupon    OutboxAggregateType = "coupon"
	AggregatePayment   OutboxAggregateType = "payment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateInventory,
	AggregateCoupon,
	AggregatePayment,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event.
type OutboxEventType string

const (
	EventOrderCreated      OutboxEventType = "order_created"
	EventOrderLineAdded    OutboxEventType = "order_line_added"
	EventOrderLineRemoved  OutboxEventType = "order_line_removed"
	EventOrderChargesSet   OutboxEventType = "order_charges_set"
	EventCouponApplied     OutboxEventType = "coupon_applied"
	EventOrderConfirmed    OutboxEventType = "order_confirmed"
	EventOrderCancelled    OutboxEventType = "order_cancelled"
	EventOrderExpired      OutboxEventType = "order_expired"
	EventPaymentRecorded   OutboxEventType = "payment_recorded"
	EventOrderPaid         OutboxEventType = "order_paid"
	EventOrderFulfilled    OutboxEventType = "order_fulfilled"
	EventOrderCompleted    OutboxEventType = "order_completed"
	EventInventoryReceived OutboxEventType = "inventory_received"
	EventInventoryAdjusted OutboxEventType = "inventory_adjusted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderLineAdded,
	EventOrderLineRemoved,
	EventOrderChargesSet,
	EventCouponApplied,
	EventOrderConfirmed,
	EventOrderCancelled,
	EventOrderExpired,
	EventPaymentRecorded,
	EventOrderPaid,
	EventOrderFulfilled,
	EventOrderCompleted,
	EventInventoryReceived,
	EventInventoryAdjusted,
}

// OutboxEventTypes lists every known event type.
func OutboxEventTypes() []OutboxEventType {
	return slices.Clone(validOutboxEventTypes)
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
