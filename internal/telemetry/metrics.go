package telemetry

import "github.com/prometheus/client_golang/prometheus"

// HTTPRequestDuration records request latency by method, route pattern, and status.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "idbuilder",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	},
	[]string{"method", "route", "status"},
)

// IDsIssuedTotal is the counter for IDs handed out per key and id_type. It is
// registered by All but not incremented anywhere in this module.
var IDsIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "idbuilder",
		Subsystem: "ids",
		Name:      "issued_total",
		Help:      "Total number of IDs issued, by key and id type.",
	},
	[]string{"key", "id_type"},
)

// SequenceExhaustedTotal counts exhaustion events per key.
var SequenceExhaustedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "idbuilder",
		Subsystem: "sequence",
		Name:      "exhausted_total",
		Help:      "Total number of times a key's sequence was exhausted.",
	},
	[]string{"key"},
)

// ChunkPrefetchTotal counts prefetch reservations per key.
var ChunkPrefetchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "idbuilder",
		Subsystem: "sequence",
		Name:      "chunk_prefetch_total",
		Help:      "Total number of asynchronous chunk prefetch reservations.",
	},
	[]string{"key"},
)

// ReserveRangeDuration is the histogram for storage reserve_range latency per
// backend. It is registered by All but not observed anywhere in this module.
var ReserveRangeDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "idbuilder",
		Subsystem: "storage",
		Name:      "reserve_range_duration_seconds",
		Help:      "Latency of the storage backend's reserve_range call.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	},
	[]string{"backend"},
)

// WorkerLeasesActive is the gauge for currently leased snowflake worker ids per
// key. It is registered by All but not set anywhere in this module.
var WorkerLeasesActive = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "idbuilder",
		Subsystem: "snowflake",
		Name:      "worker_leases_active",
		Help:      "Number of currently leased snowflake worker ids, by key.",
	},
	[]string{"key"},
)

// All returns every idbuilder-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		IDsIssuedTotal,
		SequenceExhaustedTotal,
		ChunkPrefetchTotal,
		ReserveRangeDuration,
		WorkerLeasesActive,
	}
}

// NewRegistry builds a Prometheus registry with the Go/process collectors
// plus the given idbuilder collectors.
func NewRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return reg
}
