// internal/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operation metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperdrive_operations_total",
			Help: "Total number of dispatched operations",
		},
		[]string{"operation", "provider", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hyperdrive_operation_duration_seconds",
			Help:    "Operation duration in seconds, including failover",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "provider"},
	)

	// Failover metrics
	failoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperdrive_failovers_total",
			Help: "Total number of failover walks",
		},
		[]string{"from", "outcome"},
	)

	failoverHops = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyperdrive_failover_hops",
			Help:    "Hops walked before a failover resolved or exhausted",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 13},
		},
	)

	// Replication metrics
	replicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperdrive_replications_total",
			Help: "Total number of replication fan-outs",
		},
		[]string{"status"},
	)

	replicationTargets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperdrive_replication_targets_total",
			Help: "Per-target replication outcomes",
		},
		[]string{"provider", "outcome"},
	)

	// Provider state
	providerScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperdrive_provider_score",
			Help: "Current weighted fitness score per provider",
		},
		[]string{"provider"},
	)

	providerHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperdrive_provider_health",
			Help: "Provider health state (0=Active 1=Degraded 2=Unreachable 3=Deactivated)",
		},
		[]string{"provider"},
	)

	quotaRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperdrive_quota_remaining",
			Help: "Remaining monthly quota per orchestrator",
		},
		[]string{"kind"},
	)
)

// Collector is the recording surface the orchestrators write through.
type Collector struct {
	startTime time.Time
}

// NewCollector creates a metrics collector.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// RecordOperation records one dispatched operation.
func (c *Collector) RecordOperation(operation, provider, outcome string, duration time.Duration) {
	operationsTotal.WithLabelValues(operation, provider, outcome).Inc()
	operationDuration.WithLabelValues(operation, provider).Observe(duration.Seconds())
}

// RecordFailover records a finished failover walk.
func (c *Collector) RecordFailover(from, outcome string, hops int) {
	failoversTotal.WithLabelValues(from, outcome).Inc()
	failoverHops.Observe(float64(hops))
}

// RecordReplication records a finished replication fan-out.
func (c *Collector) RecordReplication(status string) {
	replicationsTotal.WithLabelValues(status).Inc()
}

// RecordReplicationTarget records one target's outcome within a fan-out.
func (c *Collector) RecordReplicationTarget(provider, outcome string) {
	replicationTargets.WithLabelValues(provider, outcome).Inc()
}

// SetProviderScore publishes a provider's current score.
func (c *Collector) SetProviderScore(provider string, score float64) {
	providerScore.WithLabelValues(provider).Set(score)
}

// SetProviderHealth publishes a provider's health state.
func (c *Collector) SetProviderHealth(provider string, health int) {
	providerHealth.WithLabelValues(provider).Set(float64(health))
}

// SetQuotaRemaining publishes how much monthly quota is left.
func (c *Collector) SetQuotaRemaining(kind string, remaining int) {
	quotaRemaining.WithLabelValues(kind).Set(float64(remaining))
}

// Uptime returns time since the collector was created.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}
