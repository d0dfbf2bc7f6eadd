// Package metrics exposes the control plane's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agenthub/aicp/internal/breaker"
)

// Registry wraps the collectors the request pipeline and delegation
// orchestrator publish to.
type Registry struct {
	Registerer *prometheus.Registry

	delegationsTotal   *prometheus.CounterVec
	delegationRatio    prometheus.Histogram
	delegationLatency  prometheus.Histogram
	breakerState       prometheus.Gauge
	idempotencyReplays *prometheus.CounterVec
	idempotencyConflicts *prometheus.CounterVec
}

// New builds and registers a fresh Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Registerer: reg,
		delegationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aicp_delegations_total",
			Help: "Delegations processed, labeled by budget state.",
		}, []string{"budget_state"}),
		delegationRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aicp_delegation_cost_ratio",
			Help:    "Distribution of actual/estimated cost ratio.",
			Buckets: []float64{0.2, 0.4, 0.6, 0.8, 1.0, 1.2, 1.5, 2.0},
		}),
		delegationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aicp_delegation_delivery_latency_seconds",
			Help:    "Delegation delivery-stage latency.",
			Buckets: prometheus.DefBuckets,
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aicp_breaker_state",
			Help: "Breaker state: 0=closed, 1=half_open, 2=open.",
		}),
		idempotencyReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aicp_idempotency_replays_total",
			Help: "Idempotent requests served from cache, by route.",
		}, []string{"route"}),
		idempotencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aicp_idempotency_conflicts_total",
			Help: "Idempotency key reuse/in-progress conflicts, by route and reason.",
		}, []string{"route", "reason"}),
	}

	reg.MustRegister(
		r.delegationsTotal, r.delegationRatio, r.delegationLatency,
		r.breakerState, r.idempotencyReplays, r.idempotencyConflicts,
	)
	return r
}

// RecordDelegation implements delegation.MetricsRecorder.
func (r *Registry) RecordDelegation(state string, ratio float64, latency time.Duration) {
	r.delegationsTotal.WithLabelValues(state).Inc()
	r.delegationRatio.Observe(ratio)
	r.delegationLatency.Observe(latency.Seconds())
}

// RecordBreakerState publishes the current breaker state as a gauge.
func (r *Registry) RecordBreakerState(state breaker.State) {
	switch state {
	case breaker.StateClosed:
		r.breakerState.Set(0)
	case breaker.StateHalfOpen:
		r.breakerState.Set(1)
	case breaker.StateOpen:
		r.breakerState.Set(2)
	}
}

// RecordIdempotencyReplay increments the replay counter for a route.
func (r *Registry) RecordIdempotencyReplay(route string) {
	r.idempotencyReplays.WithLabelValues(route).Inc()
}

// RecordIdempotencyConflict increments the conflict counter for a route
// and reason (in_progress or key_reused_with_different_payload).
func (r *Registry) RecordIdempotencyConflict(route, reason string) {
	r.idempotencyConflicts.WithLabelValues(route, reason).Inc()
}
