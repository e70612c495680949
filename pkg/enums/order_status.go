package enums

import "fmt"

// OrderStatus is the order lifecycle state. Values match order_statuses.status_code.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "DRAFT"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusFulfilled OrderStatus = "FULFILLED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// cancelledRank sits outside the forward chain so rank comparisons never
// treat a cancelled order as progressed.
const cancelledRank = 99

var orderStatusRanks = map[OrderStatus]int{
	OrderStatusDraft:     0,
	OrderStatusConfirmed: 1,
	OrderStatusPaid:      2,
	OrderStatusFulfilled: 3,
	OrderStatusCompleted: 4,
	OrderStatusCancelled: cancelledRank,
}

var validOrderStatuses = []OrderStatus{
	OrderStatusDraft,
	OrderStatusConfirmed,
	OrderStatusPaid,
	OrderStatusFulfilled,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// allowedOrderTransitions lists the only edges of the state machine.
var allowedOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:     {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusFulfilled},
	OrderStatusFulfilled: {OrderStatusCompleted},
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	_, ok := orderStatusRanks[s]
	return ok
}

// Rank returns the ordinal of the status; -1 for unknown values.
func (s OrderStatus) Rank() int {
	if rank, ok := orderStatusRanks[s]; ok {
		return rank
	}
	return -1
}

// IsTerminal reports whether no transition leaves the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusCompleted
}

// AtLeast reports whether s has progressed to other on the forward chain.
// Cancelled orders never satisfy it.
func (s OrderStatus) AtLeast(other OrderStatus) bool {
	if s == OrderStatusCancelled || !s.IsValid() {
		return false
	}
	return s.Rank() >= other.Rank()
}

// CanTransitionTo reports whether next is a permitted successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range allowedOrderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// OrderStatusRanks lists every status with its rank, in rank order. Used to
// seed the reference table.
func OrderStatusRanks() []OrderStatus {
	out := make([]OrderStatus, len(validOrderStatuses))
	copy(out, validOrderStatuses)
	return out
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
