// Package observability provides Prometheus metrics for the purchase engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "autobuy"

// Metrics holds all Prometheus metrics of the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Race metrics
	RacesTotal    *prometheus.CounterVec
	RaceDuration  *prometheus.HistogramVec
	SubAttempts   *prometheus.CounterVec
	LateSuccesses *prometheus.CounterVec

	// Orchestration metrics
	Rejections       *prometheus.CounterVec
	FallbackResults  *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	PreloadsTotal    *prometheus.CounterVec
	ContextCacheHits *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
}

// NewMetrics registers every metric on registerer. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		RacesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "race",
			Name:      "races_total",
			Help:      "Total number of races by kind and result",
		}, []string{"kind", "result"}),
		RaceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "race",
			Name:      "duration_seconds",
			Help:      "Race wall time by kind",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"kind"}),
		SubAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "race",
			Name:      "sub_attempts_total",
			Help:      "Total number of sub-attempts by source and terminal status",
		}, []string{"source", "status"}),
		LateSuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "race",
			Name:      "late_successes_discarded_total",
			Help:      "Successes reported after the race was decided; each needs manual reconciliation",
		}, []string{"source"}),

		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rejections_total",
			Help:      "Total number of purchases not attempted by reason",
		}, []string{"reason"}),
		FallbackResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "fallback_results_total",
			Help:      "Fallback strategy results by strategy and status",
		}, []string{"strategy", "status"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "outcomes_total",
			Help:      "Terminal outcomes by event type",
		}, []string{"type"}),
		PreloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preload",
			Name:      "runs_total",
			Help:      "Context preloads by result",
		}, []string{"result"}),
		ContextCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preload",
			Name:      "cache_lookups_total",
			Help:      "Context cache lookups on the race path by result",
		}, []string{"result"}),
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "snapshots_total",
			Help:      "Inventory snapshots by dispatch result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveRace(kind string, won bool, elapsed time.Duration) {
	if m == nil {
		return
	}

	result := "no_winner"
	if won {
		result = "winner"
	}

	m.RacesTotal.WithLabelValues(kind, result).Inc()
	m.RaceDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSubAttempt(source, status string) {
	if m == nil {
		return
	}
	m.SubAttempts.WithLabelValues(source, status).Inc()
}

func (m *Metrics) ObserveLateSuccess(source string) {
	if m == nil {
		return
	}
	m.LateSuccesses.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveFallback(strategy, status string) {
	if m == nil {
		return
	}
	m.FallbackResults.WithLabelValues(strategy, status).Inc()
}

func (m *Metrics) ObserveOutcome(eventType string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObservePreload(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.PreloadsTotal.WithLabelValues("ok").Inc()
		return
	}
	m.PreloadsTotal.WithLabelValues("error").Inc()
}

func (m *Metrics) ObserveContextLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ContextCacheHits.WithLabelValues("hit").Inc()
		return
	}
	m.ContextCacheHits.WithLabelValues("miss").Inc()
}

// ObserveDispatch counts a snapshot as started, busy or failed.
func (m *Metrics) ObserveDispatch(result string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(result).Inc()
}
