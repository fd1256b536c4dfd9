// Package metrics defines the Prometheus instruments for the subscription
// engine and serves them over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eventbot"

// Metrics is nil-safe: every method is a no-op on a nil receiver.
type Metrics struct {
	SubscriptionsActive prometheus.Gauge
	Announcements       *prometheus.CounterVec
	Reschedules         *prometheus.CounterVec
	Replay              *prometheus.CounterVec
	DispatchPolls       prometheus.Counter
}

// New registers every instrument on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SubscriptionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Channels with a live daily announcement job",
		}),
		Announcements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_total",
			Help:      "Announcement deliveries by result",
		}, []string{"result"}),
		Reschedules: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reschedules_total",
			Help:      "Post-fire reschedule attempts by outcome",
		}, []string{"outcome"}),
		Replay: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_total",
			Help:      "Startup replay results per channel",
		}, []string{"result"}),
		DispatchPolls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_polls_total",
			Help:      "Scheduler polls performed by the dispatch loop",
		}),
	}
}

func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.SubscriptionsActive.Set(float64(n))
}

func (m *Metrics) Announced(result string) {
	if m == nil {
		return
	}
	m.Announcements.WithLabelValues(result).Inc()
}

func (m *Metrics) Rescheduled(outcome string) {
	if m == nil {
		return
	}
	m.Reschedules.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Replayed(result string) {
	if m == nil {
		return
	}
	m.Replay.WithLabelValues(result).Inc()
}

func (m *Metrics) Polled() {
	if m == nil {
		return
	}
	m.DispatchPolls.Inc()
}
