// Package metrics exposes the run loop's operational counters and
// histograms via a Prometheus registry: cache build duration and drop
// reasons, driver outcomes, and competition results.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every metric the auction coordination core emits.
type Metrics struct {
	BuildDuration   prometheus.Histogram
	OrdersDropped   *prometheus.CounterVec
	DriverOutcomes  *prometheus.CounterVec
	AuctionsBuilt   prometheus.Counter
	CompetitionRuns prometheus.Counter
	Winners         prometheus.Histogram
}

// New registers every metric against reg and returns the handle used to
// record observations.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autopilot",
			Subsystem: "cache",
			Name:      "build_duration_seconds",
			Help:      "Time to build one solvable-orders snapshot.",
			Buckets:   prometheus.DefBuckets,
		}),
		OrdersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "cache",
			Name:      "orders_dropped_total",
			Help:      "Orders excluded from a solvable-orders snapshot, by reason.",
		}, []string{"reason"}),
		DriverOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Subsystem: "driver",
			Name:      "outcomes_total",
			Help:      "Driver call outcomes, by driver and outcome.",
		}, []string{"driver", "outcome"}),
		AuctionsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopilot",
			Name:      "auctions_built_total",
			Help:      "Solvable-orders snapshot builds attempted, successful or not.",
		}),
		CompetitionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopilot",
			Name:      "competition_runs_total",
			Help:      "Completed competition rounds.",
		}),
		Winners: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autopilot",
			Name:      "winners_per_auction",
			Help:      "Number of winning solvers per auction.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
	}

	reg.MustRegister(
		m.BuildDuration,
		m.OrdersDropped,
		m.DriverOutcomes,
		m.AuctionsBuilt,
		m.CompetitionRuns,
		m.Winners,
	)
	return m
}

// ObserveBuildDuration implements cache.Metrics.
func (m *Metrics) ObserveBuildDuration(d time.Duration) {
	m.BuildDuration.Observe(d.Seconds())
	m.AuctionsBuilt.Inc()
}

// IncDropped implements cache.Metrics.
func (m *Metrics) IncDropped(reason string, n int) {
	m.OrdersDropped.WithLabelValues(reason).Add(float64(n))
}
