package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cafe_pos"

// TenancyMetrics covers the tenant registry, the connection pool and the scoping guard.
type TenancyMetrics struct {
	RegistryLookups  *prometheus.CounterVec
	PoolHandles      prometheus.Gauge
	PoolDials        *prometheus.CounterVec
	PoolAcquireWait  prometheus.Histogram
	GuardViolations  *prometheus.CounterVec
	RateLimitRejects prometheus.Counter
}

// SessionMetrics covers the session authority.
type SessionMetrics struct {
	Logins          *prometheus.CounterVec
	StaleRecoveries prometheus.Counter
	Logouts         prometheus.Counter
	EventsDropped   prometheus.Counter
}

// Tenancy and Session are registered once per process with the default registerer.
var (
	Tenancy = newTenancyMetrics()
	Session = newSessionMetrics()
)

func newTenancyMetrics() *TenancyMetrics {
	return &TenancyMetrics{
		RegistryLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "lookups_total",
			Help:      "Tenant slug lookups by source.",
		}, []string{"source"}), // source: cache, store, miss
		PoolHandles: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "handles",
			Help:      "Number of cached per-tenant data store handles.",
		}),
		PoolDials: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "dials_total",
			Help:      "Data store dials by result.",
		}, []string{"result"}), // result: ok, error, circuit_open
		PoolAcquireWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a cold data store handle.",
			Buckets:   prometheus.DefBuckets,
		}),
		GuardViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "violations_total",
			Help:      "Tenant-owned statements rejected by the scoping guard.",
		}, []string{"reason"}), // reason: no_context, cross_tenant
		RateLimitRejects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the login rate limiter.",
		}),
	}
}

func newSessionMetrics() *SessionMetrics {
	return &SessionMetrics{
		Logins: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}), // outcome: ok, conflict, invalid_credentials, not_found, unverified, error
		StaleRecoveries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "stale_recoveries_total",
			Help:      "Shared-device sessions cleared because no shift was open.",
		}),
		Logouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logouts_total",
			Help:      "Sessions ended by logout.",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_dropped_total",
			Help:      "Session events dropped because the publish queue was full.",
		}),
	}
}
