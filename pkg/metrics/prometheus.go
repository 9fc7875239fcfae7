package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain market.Metrics using Prometheus.
type Recorder struct {
	providerAttempts *prometheus.CounterVec
	cacheTier        *prometheus.CounterVec
	staleServed      *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	snapshotAge      prometheus.Gauge
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		providerAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_provider_attempts_total",
				Help: "Provider attempts by capability and outcome",
			},
			[]string{"provider", "capability", "outcome"},
		),
		cacheTier: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_cache_lookups_total",
				Help: "Cache lookups by freshness tier",
			},
			[]string{"tier"},
		),
		staleServed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_stale_served_total",
				Help: "Responses served from the widened stale window",
			},
			[]string{"capability"},
		),
		refreshDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_refresh_duration_seconds",
				Help:    "Duration of composite refresh passes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		snapshotAge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_snapshot_age_seconds",
				Help: "Age of the last served composite snapshot",
			},
		),
	}
}

// RecordAttempt records one provider attempt outcome.
func (r *Recorder) RecordAttempt(provider, capability, outcome string) {
	r.providerAttempts.WithLabelValues(provider, capability, outcome).Inc()
}

// RecordCacheTier records a cache lookup outcome tier.
func (r *Recorder) RecordCacheTier(tier string) {
	r.cacheTier.WithLabelValues(tier).Inc()
}

// RecordStaleServed records a last-resort stale response.
func (r *Recorder) RecordStaleServed(capability string) {
	r.staleServed.WithLabelValues(capability).Inc()
}

// RecordRefreshDuration records a full or incremental refresh pass.
func (r *Recorder) RecordRefreshDuration(kind string, seconds float64) {
	r.refreshDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordSnapshotAge records the age of the last composite.
func (r *Recorder) RecordSnapshotAge(seconds float64) {
	r.snapshotAge.Set(seconds)
}
