package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes a subscriber can reach for one message.
const (
	OutcomeHandled   = "handled"
	OutcomeDuplicate = "duplicate"
	OutcomeDropped   = "dropped"
	OutcomeRetried   = "retried"
)

// ConsumerMetrics counts pubsub deliveries per consumer and how each ended.
type ConsumerMetrics struct {
	messages *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	m := &ConsumerMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_messages_total",
			Help:      "Pubsub messages processed by consumer and outcome.",
		}, []string{"consumer", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consumer_message_duration_seconds",
			Help:      "Time spent handling one pubsub message.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"consumer"}),
	}
	reg.MustRegister(m.messages, m.duration)
	return m
}

func (m *ConsumerMetrics) Observe(consumer, outcome string, elapsed time.Duration) {
	if m == nil || m.messages == nil {
		return
	}
	consumer = normalizeLabel(consumer)
	m.messages.WithLabelValues(consumer, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(consumer).Observe(elapsed.Seconds())
}
