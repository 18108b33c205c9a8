package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeRouted   = "routed"
	OutcomeUnrouted = "unrouted"
	OutcomeTerminal = "terminal"
	OutcomeFailed   = "failed"
)

// Metrics tracks routing passes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Passes         *prometheus.CounterVec
	PassDuration   prometheus.Histogram
	StatusAdvances prometheus.Counter
	QueueAdditions prometheus.Counter
	BulkApprovals  *prometheus.CounterVec
	AmendmentRaces prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Passes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caseroute_routing_passes_total",
			Help: "Routing passes by outcome",
		}, []string{"outcome"}),
		PassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "caseroute_routing_pass_duration_seconds",
			Help:    "Duration of a routing pass inside its transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		StatusAdvances: f.NewCounter(prometheus.CounterOpts{
			Name: "caseroute_status_advances_total",
			Help: "Automatic status advances made when no rule fired",
		}),
		QueueAdditions: f.NewCounter(prometheus.CounterOpts{
			Name: "caseroute_queue_additions_total",
			Help: "Cases added to queues by routing rules",
		}),
		BulkApprovals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caseroute_bulk_approval_cases_total",
			Help: "Cases processed by bulk approval by result",
		}, []string{"result"}),
		AmendmentRaces: f.NewCounter(prometheus.CounterOpts{
			Name: "caseroute_amendment_conflicts_total",
			Help: "Amendment creations resolved to an amendment created concurrently",
		}),
	}
}

func (m *Metrics) ObservePass(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(outcome).Inc()
	m.PassDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncStatusAdvance() {
	if m == nil {
		return
	}
	m.StatusAdvances.Inc()
}

func (m *Metrics) IncQueueAddition() {
	if m == nil {
		return
	}
	m.QueueAdditions.Inc()
}

func (m *Metrics) AddBulkApproval(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.BulkApprovals.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) IncAmendmentRace() {
	if m == nil {
		return
	}
	m.AmendmentRaces.Inc()
}
