// Package monitoring exposes Prometheus metrics for the session layer:
// heartbeat delivery, persistence flushes, and dedup lookup outcomes.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all session-layer Prometheus metrics.
type Metrics struct {
	HeartbeatsSent   prometheus.Counter
	HeartbeatsFailed prometheus.Counter

	StateSaves        prometheus.Counter
	StateSaveFailures prometheus.Counter
	StateLoads        prometheus.Counter
	BackupFallbacks   prometheus.Counter

	DedupHits   prometheus.Counter
	DedupMisses prometheus.Counter
	DedupErrors prometheus.Counter

	SessionsActive prometheus.Gauge
	SubThreads     prometheus.Gauge
}

// New creates a metrics collector registered against reg. Tests pass a
// fresh registry to keep collectors isolated.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_heartbeats_sent_total",
			Help: "Heartbeats delivered to the backend",
		}),
		HeartbeatsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_heartbeats_failed_total",
			Help: "Heartbeats that failed delivery (retried next interval)",
		}),
		StateSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_state_saves_total",
			Help: "Successful persistence flushes (either tier)",
		}),
		StateSaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_state_save_failures_total",
			Help: "Persistence flushes where a storage tier failed",
		}),
		StateLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_state_loads_total",
			Help: "Successful state loads",
		}),
		BackupFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_backup_fallbacks_total",
			Help: "Loads served from the backup tier because primary was empty",
		}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_dedup_hits_total",
			Help: "Dedup lookups that found an existing instance",
		}),
		DedupMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_dedup_misses_total",
			Help: "Dedup lookups that found no existing instance",
		}),
		DedupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_dedup_errors_total",
			Help: "Dedup lookups degraded to exists=false by an error",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessionkit_sessions_active",
			Help: "Sessions currently installed (0 or 1 per process)",
		}),
		SubThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessionkit_sub_threads",
			Help: "Sub-threads in the current session tree",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.HeartbeatsSent, m.HeartbeatsFailed,
			m.StateSaves, m.StateSaveFailures, m.StateLoads, m.BackupFallbacks,
			m.DedupHits, m.DedupMisses, m.DedupErrors,
			m.SessionsActive, m.SubThreads,
		)
	}
	return m
}

// NewNop creates an unregistered collector. Constructors use it as the
// default so components never nil-check metrics.
func NewNop() *Metrics {
	return New(nil)
}
