package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics counts order lifecycle activity and the rejections the
// order core returns.
type OrderMetrics struct {
	transitions *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	stock       *prometheus.CounterVec
	coupons     *prometheus.CounterVec
	payments    *prometheus.CounterVec
}

// NewOrderMetrics registers the order metrics on reg. A nil registerer
// yields a no-op recorder.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order status transitions.",
	}, []string{"from", "to"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_concurrency_conflicts_total",
		Help: "Order mutations rejected because of a stale version.",
	}, []string{"operation"})
	stock := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_insufficient_stock_total",
		Help: "Reservations rejected for insufficient stock.",
	}, []string{"operation"})
	coupons := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_redemptions_total",
		Help: "Coupon redemption attempts by result.",
	}, []string{"result"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Payments recorded by method.",
	}, []string{"method"})
	reg.MustRegister(transitions, conflicts, stock, coupons, payments)
	return &OrderMetrics{
		transitions: transitions,
		conflicts:   conflicts,
		stock:       stock,
		coupons:     coupons,
		payments:    payments,
	}
}

// ObserveTransition counts a status change.
func (m *OrderMetrics) ObserveTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *OrderMetrics) IncConflict(operation string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *OrderMetrics) IncInsufficientStock(operation string) {
	if m == nil || m.stock == nil {
		return
	}
	m.stock.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncCoupon counts a redemption attempt. result is "redeemed" or the
// ineligibility reason code.
func (m *OrderMetrics) IncCoupon(result string) {
	if m == nil || m.coupons == nil {
		return
	}
	m.coupons.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *OrderMetrics) IncPayment(method string) {
	if m == nil || m.payments == nil {
		return
	}
	m.payments.WithLabelValues(normalizeLabel(method)).Inc()
}
