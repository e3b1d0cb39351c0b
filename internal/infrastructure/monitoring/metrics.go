package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics manages the Prometheus metrics for the rate limit engine.
type Metrics struct {
	ChecksTotal      *prometheus.CounterVec
	DenialsTotal     *prometheus.CounterVec
	BlockedTotal     *prometheus.CounterVec
	FailOpenTotal    prometheus.Counter
	BlocksCreated    *prometheus.CounterVec
	EvaluateLatency  prometheus.Histogram
	StoreLatency     prometheus.Histogram
	LoadShedEngaged  prometheus.Gauge
}

// NewMetrics creates and registers the Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchguard_checks_total",
				Help: "Total number of dimension checks.",
			},
			[]string{"dimension", "result"},
		),
		DenialsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchguard_denials_total",
				Help: "Total number of denied evaluations.",
			},
			[]string{"limit_type"},
		),
		BlockedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchguard_blocked_total",
				Help: "Total number of requests rejected by a temporary block.",
			},
			[]string{"block_type"},
		),
		FailOpenTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "searchguard_fail_open_total",
				Help: "Total number of evaluations that failed open on store failure.",
			},
		),
		BlocksCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchguard_blocks_created_total",
				Help: "Total number of temporary blocks created by escalation.",
			},
			[]string{"block_type"},
		),
		EvaluateLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "searchguard_evaluate_latency_seconds",
				Help:    "Latency of full rate limit evaluations.",
				Buckets: prometheus.DefBuckets,
			},
		),
		StoreLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "searchguard_store_latency_seconds",
				Help:    "Latency of counter store round-trips.",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		LoadShedEngaged: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "searchguard_load_shed_engaged",
				Help: "Whether load shedding is currently scaling ceilings (0 or 1).",
			},
		),
	}
}

// RecordCheck records the outcome of one dimension check.
func (m *Metrics) RecordCheck(dimension, result string) {
	m.ChecksTotal.WithLabelValues(dimension, result).Inc()
}

// RecordDenial records a denied evaluation by binding limit type.
func (m *Metrics) RecordDenial(limitType string) {
	m.DenialsTotal.WithLabelValues(limitType).Inc()
}

// RecordBlocked records a request rejected by a temporary block.
func (m *Metrics) RecordBlocked(blockType string) {
	m.BlockedTotal.WithLabelValues(blockType).Inc()
}

// RecordFailOpen records an evaluation that failed open.
func (m *Metrics) RecordFailOpen() {
	m.FailOpenTotal.Inc()
}

// RecordBlockCreated records an escalation block creation.
func (m *Metrics) RecordBlockCreated(blockType string) {
	m.BlocksCreated.WithLabelValues(blockType).Inc()
}

// RecordEvaluation records the latency of one full evaluation.
func (m *Metrics) RecordEvaluation(d time.Duration) {
	m.EvaluateLatency.Observe(d.Seconds())
}

// SetLoadShed flags whether shedding is engaged.
func (m *Metrics) SetLoadShed(engaged bool) {
	if engaged {
		m.LoadShedEngaged.Set(1)
	} else {
		m.LoadShedEngaged.Set(0)
	}
}
