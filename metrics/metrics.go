// Package metrics holds the coordinator's prometheus collectors.
//
// Collectors are package-level like any prometheus client; RegisterMetrics
// attaches them to a registry once at startup. The record helpers keep label
// values in one place so call sites cannot drift.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coachale"

var (
	// Lease metrics
	leaseAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "acquire_total",
			Help:      "Lease acquisition attempts by job and result",
		},
		[]string{"job", "result"},
	)

	leaseHeartbeatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "heartbeat_total",
			Help:      "Lease heartbeats by job and result",
		},
		[]string{"job", "result"},
	)

	leaseHeld = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "held",
			Help:      "Whether this process currently holds the lease (1) or not (0)",
		},
		[]string{"job"},
	)

	leaseSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "swept_total",
			Help:      "Expired lease rows deleted by the sweeper",
		},
	)

	// Provider API metrics
	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Provider API calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider API call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6s
		},
		[]string{"operation"},
	)

	credentialLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "credential_loads_total",
			Help:      "Credential cache loads from the config source by result",
		},
		[]string{"result"},
	)

	// Poller metrics
	pollerTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "ticks_total",
			Help:      "Reconciliation ticks by outcome",
		},
		[]string{"outcome"},
	)

	pollerChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "checks_total",
			Help:      "Per-request status checks by pass and result",
		},
		[]string{"pass", "result"},
	)

	pollerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a reconciliation pass that held the lease",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 11), // 100ms to ~100s
		},
	)

	// Workflow metrics
	workflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Provisioning status transitions by target status",
		},
		[]string{"to"},
	)
)

// Result label values
const (
	ResultAcquired  = "acquired"
	ResultContended = "contended"
	ResultOK        = "ok"
	ResultLost      = "lost"
	ResultError     = "error"
	ResultHit       = "hit"
	ResultMissing   = "missing"

	ResultSkipped      = "skipped"
	ResultTransitioned = "transitioned"
	ResultUnchanged    = "unchanged"
)

// Collectors returns every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		leaseAcquireTotal,
		leaseHeartbeatTotal,
		leaseHeld,
		leaseSweptTotal,
		providerRequestsTotal,
		providerLatency,
		credentialLoadsTotal,
		pollerTicksTotal,
		pollerChecksTotal,
		pollerTickDuration,
		workflowTransitionsTotal,
	}
}

// RegisterMetrics registers all collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordLeaseAcquire counts one acquire attempt and updates the held gauge.
func RecordLeaseAcquire(job, result string) {
	leaseAcquireTotal.WithLabelValues(job, result).Inc()
	if result == ResultAcquired {
		leaseHeld.WithLabelValues(job).Set(1)
	}
}

// RecordLeaseRelease marks the lease as no longer held by this process.
func RecordLeaseRelease(job string) {
	leaseHeld.WithLabelValues(job).Set(0)
}

// RecordLeaseHeartbeat counts one heartbeat. A lost heartbeat also clears the held gauge.
func RecordLeaseHeartbeat(job, result string) {
	leaseHeartbeatTotal.WithLabelValues(job, result).Inc()
	if result == ResultLost {
		leaseHeld.WithLabelValues(job).Set(0)
	}
}

// RecordLeaseSwept adds n deleted rows.
func RecordLeaseSwept(n int64) {
	if n > 0 {
		leaseSweptTotal.Add(float64(n))
	}
}

// RecordProviderRequest counts one provider call and its latency.
func RecordProviderRequest(operation, result string, elapsed time.Duration) {
	providerRequestsTotal.WithLabelValues(operation, result).Inc()
	providerLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordCredentialLoad counts one credential load from the backing source.
func RecordCredentialLoad(result string) {
	credentialLoadsTotal.WithLabelValues(result).Inc()
}

// RecordPollerTick counts one tick by outcome.
func RecordPollerTick(outcome string) {
	pollerTicksTotal.WithLabelValues(outcome).Inc()
}

// ObservePollerPass records how long a locked pass took.
func ObservePollerPass(elapsed time.Duration) {
	pollerTickDuration.Observe(elapsed.Seconds())
}

// RecordPollerCheck counts one per-request check.
func RecordPollerCheck(pass, result string) {
	pollerChecksTotal.WithLabelValues(pass, result).Inc()
}

// RecordTransition counts one committed workflow transition.
func RecordTransition(to string) {
	workflowTransitionsTotal.WithLabelValues(to).Inc()
}
