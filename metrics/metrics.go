// Package metrics exposes the Prometheus instrumentation shared by
// MetaSvc and LocalSvc: allocator usage gauges, eviction counters and RPC
// latency histograms. Grounded in the retrieval pack's
// buildbarn/bb-storage local blobstore allocators, which instrument their
// block allocators with exactly this shape of counters/gauges.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric this repository emits behind one struct
// so a daemon can construct and register them once at startup and pass
// the struct down to the components that populate it.
type Registry struct {
	AllocatorCapacityBytes *prometheus.GaugeVec
	AllocatorUsedBytes     *prometheus.GaugeVec
	AllocAttemptsTotal     *prometheus.CounterVec
	AllocFailuresTotal     *prometheus.CounterVec
	ReleaseTotal           *prometheus.CounterVec

	ObjectsTotal prometheus.Gauge
	BlobsTotal   prometheus.Gauge

	EvictionRunsTotal     prometheus.Counter
	EvictionDemotedTotal  prometheus.Counter
	EvictionRemovedTotal  prometheus.Counter

	RPCLatencySeconds *prometheus.HistogramVec
	RPCErrorsTotal    *prometheus.CounterVec
}

// NewRegistry builds and registers a fresh metric set against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		AllocatorCapacityBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mmc", Subsystem: "allocator", Name: "capacity_bytes",
			Help: "Segment capacity per (rank, media).",
		}, []string{"rank", "media"}),
		AllocatorUsedBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mmc", Subsystem: "allocator", Name: "used_bytes",
			Help: "Segment bytes currently allocated per (rank, media).",
		}, []string{"rank", "media"}),
		AllocAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mmc", Subsystem: "allocator", Name: "alloc_attempts_total",
			Help: "Alloc() calls per (rank, media).",
		}, []string{"rank", "media"}),
		AllocFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mmc", Subsystem: "allocator", Name: "alloc_failures_total",
			Help: "Alloc() calls that returned OUT_OF_SPACE.",
		}, []string{"rank", "media"}),
		ReleaseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mmc", Subsystem: "allocator", Name: "release_total",
			Help: "Release() calls per (rank, media).",
		}, []string{"rank", "media"}),
		ObjectsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mmc", Subsystem: "container", Name: "objects_total",
			Help: "Live objects in the meta container.",
		}),
		BlobsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mmc", Subsystem: "container", Name: "blobs_total",
			Help: "Live blobs across all objects.",
		}),
		EvictionRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mmc", Subsystem: "eviction", Name: "runs_total",
			Help: "CheckAndEvict invocations.",
		}),
		EvictionDemotedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mmc", Subsystem: "eviction", Name: "demoted_total",
			Help: "Blobs copy-then-demoted to a lower tier.",
		}),
		EvictionRemovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mmc", Subsystem: "eviction", Name: "removed_total",
			Help: "Objects removed by the eviction path (no lower tier).",
		}),
		RPCLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mmc", Subsystem: "rpc", Name: "latency_seconds",
			Help:    "RPC call latency by opcode.",
			Buckets: prometheus.DefBuckets,
		}, []string{"opcode"}),
		RPCErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mmc", Subsystem: "rpc", Name: "errors_total",
			Help: "RPC calls that returned a non-OK status, by opcode and code.",
		}, []string{"opcode", "code"}),
	}

	collectors := []prometheus.Collector{
		r.AllocatorCapacityBytes, r.AllocatorUsedBytes, r.AllocAttemptsTotal,
		r.AllocFailuresTotal, r.ReleaseTotal, r.ObjectsTotal, r.BlobsTotal,
		r.EvictionRunsTotal, r.EvictionDemotedTotal, r.EvictionRemovedTotal,
		r.RPCLatencySeconds, r.RPCErrorsTotal,
	}
	for _, c := range collectors {
		if reg != nil {
			reg.MustRegister(c)
		}
	}
	return r
}

// Noop returns a Registry that is never registered against a Prometheus
// registerer; its metrics are safe to update (they simply accumulate
// unobserved) and are used by tests and standalone examples.
func Noop() *Registry {
	return NewRegistry(nil)
}
