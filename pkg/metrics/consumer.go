package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes a Pub/Sub consumer records per message.
const (
	OutcomeHandled   = "handled"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeInvalid   = "invalid"
	OutcomeRetry     = "retry"
)

// ConsumerMetrics counts messages by what a consumer did with them.
type ConsumerMetrics struct {
	consumer string
	messages *prometheus.CounterVec
}

// NewConsumerMetrics registers the message counter for consumer on reg. A
// nil registerer yields a no-op recorder.
func NewConsumerMetrics(reg prometheus.Registerer, consumer string) *ConsumerMetrics {
	m := &ConsumerMetrics{consumer: normalizeLabel(consumer)}
	if reg == nil {
		return m
	}
	m.messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_total",
		Help: "Pub/Sub messages seen by a consumer, by outcome.",
	}, []string{"consumer", "outcome"})
	reg.MustRegister(m.messages)
	return m
}

func (m *ConsumerMetrics) Observe(outcome string) {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.WithLabelValues(m.consumer, normalizeLabel(outcome)).Inc()
}
