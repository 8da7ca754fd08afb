// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "seopatch"

// Metrics holds the pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Patches      *prometheus.CounterVec
	Rollbacks    prometheus.Counter
	Reconciled   *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	Chunks       *prometheus.CounterVec
	BreakerTrips prometheus.Counter
}

// New creates the counters and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patches_total",
			Help:      "Patch attempts by outcome.",
		}, []string{"outcome"}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Issues rolled back on request.",
		}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_transitions_total",
			Help:      "Status transitions made by reconciliation.",
		}, []string{"status"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_dropped_total",
			Help:      "AI proposals dropped during normalization.",
		}, []string{"reason"}),
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_analyzed_total",
			Help:      "Chunks sent to the analyzer by outcome.",
		}, []string{"outcome"}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Jobs whose patch circuit breaker tripped.",
		}),
	}
	m.registry.MustRegister(m.Patches, m.Rollbacks, m.Reconciled, m.Dropped, m.Chunks, m.BreakerTrips)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Patch counts one apply attempt: "applied", "failed", "backup_failed" or "skipped".
func (m *Metrics) Patch(outcome string) {
	if m != nil {
		m.Patches.WithLabelValues(outcome).Inc()
	}
}

// Rollback counts one rollback.
func (m *Metrics) Rollback() {
	if m != nil {
		m.Rollbacks.Inc()
	}
}

// Reconcile counts reconciliation transitions into status.
func (m *Metrics) Reconcile(status string, n int) {
	if m != nil && n > 0 {
		m.Reconciled.WithLabelValues(status).Add(float64(n))
	}
}

// Drop counts one dropped proposal.
func (m *Metrics) Drop(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

// Chunk counts one analyzed chunk: "ok" or "error".
func (m *Metrics) Chunk(outcome string) {
	if m != nil {
		m.Chunks.WithLabelValues(outcome).Inc()
	}
}

// Trip counts one breaker trip.
func (m *Metrics) Trip() {
	if m != nil {
		m.BreakerTrips.Inc()
	}
}
