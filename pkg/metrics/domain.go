package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics tracks partnership transitions and outbox delivery.
type DomainMetrics struct {
	transitions *prometheus.CounterVec
	published   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	lag         prometheus.Histogram
}

func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return &DomainMetrics{}
	}
	m := &DomainMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partnership_transitions_total",
			Help:      "Partnership status transitions by source and target status.",
		}, []string{"from", "to", "applied"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events published to pubsub.",
		}, []string{"event_type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_failed_total",
			Help:      "Outbox publish failures by terminal flag.",
		}, []string{"event_type", "terminal"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_publish_lag_seconds",
			Help:      "Delay between an outbox row being written and published.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}),
	}
	reg.MustRegister(m.transitions, m.published, m.failed, m.lag)
	return m
}

// ObserveTransition counts a transition attempt. Idempotent repeats are recorded with applied=false.
func (m *DomainMetrics) ObserveTransition(from, to string, applied bool) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), strconv.FormatBool(applied)).Inc()
}

func (m *DomainMetrics) ObservePublished(eventType string, createdAt time.Time) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
	if !createdAt.IsZero() {
		m.lag.Observe(time.Since(createdAt).Seconds())
	}
}

func (m *DomainMetrics) ObserveFailed(eventType string, terminal bool) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType), strconv.FormatBool(terminal)).Inc()
}
