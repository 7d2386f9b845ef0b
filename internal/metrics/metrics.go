// Package metrics defines the prometheus collectors dbcore exposes for
// its storage and execution core. Grounded on cuemby/warren's
// pkg/metrics, but instantiated per-engine (a *Registry value) rather
// than as package-level vars, matching spec §9's "explicit engine
// context" design note.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector dbcore's subsystems record into. One
// Registry is created per engine.Engine and handed to each subsystem's
// constructor.
type Registry struct {
	reg *prometheus.Registry

	// Buffer pool (spec §4.2)
	BufferPoolHits     prometheus.Counter
	BufferPoolMisses   prometheus.Counter
	BufferPoolEvictions *prometheus.CounterVec // label: segment=lru|lfu
	BufferPoolPinned   prometheus.Gauge

	// WAL (spec §4.3)
	WALAppends   prometheus.Counter
	WALBytes     prometheus.Counter
	WALFlushes   prometheus.Counter
	WALFlushSecs prometheus.Histogram

	// Lock manager (spec §4.4)
	LockWaitSecs   prometheus.Histogram
	DeadlocksTotal prometheus.Counter
	LockTimeouts   prometheus.Counter

	// Planner / executor caches (spec §4.7, §4.8)
	PlanCacheHits    prometheus.Counter
	PlanCacheMisses  prometheus.Counter
	ResultCacheHits  prometheus.Counter
	ResultCacheMiss  prometheus.Counter
	StatementsTotal  *prometheus.CounterVec // label: kind=select|insert|update|delete|ddl
}

// NewRegistry constructs and registers every collector against reg. Tests
// typically pass prometheus.NewRegistry() to get isolated metrics.
func NewRegistry(reg *prometheus.Registry) *Registry {
	m := &Registry{
		reg: reg,
		BufferPoolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_buffer_pool_hits_total",
			Help: "Buffer pool pin() calls served from cache.",
		}),
		BufferPoolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_buffer_pool_misses_total",
			Help: "Buffer pool pin() calls that required a disk read.",
		}),
		BufferPoolEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbcore_buffer_pool_evictions_total",
			Help: "Pages evicted from the buffer pool by segment.",
		}, []string{"segment"}),
		BufferPoolPinned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbcore_buffer_pool_pinned_frames",
			Help: "Frames currently pinned.",
		}),
		WALAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_wal_appends_total",
			Help: "WAL records appended.",
		}),
		WALBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_wal_bytes_total",
			Help: "Bytes written to the WAL.",
		}),
		WALFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_wal_flushes_total",
			Help: "fsync calls issued against the WAL file.",
		}),
		WALFlushSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbcore_wal_flush_seconds",
			Help:    "Latency of WAL fsync calls.",
			Buckets: prometheus.DefBuckets,
		}),
		LockWaitSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbcore_lock_wait_seconds",
			Help:    "Time spent blocked acquiring a lock.",
			Buckets: prometheus.DefBuckets,
		}),
		DeadlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_deadlocks_total",
			Help: "Deadlock cycles detected and broken.",
		}),
		LockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_lock_timeouts_total",
			Help: "Lock requests that exceeded their timeout.",
		}),
		PlanCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_plan_cache_hits_total",
			Help: "Plan cache lookups that found a usable plan.",
		}),
		PlanCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_plan_cache_misses_total",
			Help: "Plan cache lookups that required planning.",
		}),
		ResultCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_result_cache_hits_total",
			Help: "Result cache lookups that found a cached result.",
		}),
		ResultCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_result_cache_misses_total",
			Help: "Result cache lookups that required execution.",
		}),
		StatementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbcore_statements_total",
			Help: "Statements executed, by kind.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BufferPoolHits, m.BufferPoolMisses, m.BufferPoolEvictions, m.BufferPoolPinned,
			m.WALAppends, m.WALBytes, m.WALFlushes, m.WALFlushSecs,
			m.LockWaitSecs, m.DeadlocksTotal, m.LockTimeouts,
			m.PlanCacheHits, m.PlanCacheMisses, m.ResultCacheHits, m.ResultCacheMiss,
			m.StatementsTotal,
		)
	}
	return m
}

// Noop returns a Registry backed by a private, unreachable prometheus
// registry — for subsystem unit tests that don't want to share global
// metric state.
func Noop() *Registry {
	return NewRegistry(prometheus.NewRegistry())
}
