// Package metrics provides Prometheus metrics for the pool core: worker
// lifecycle, dispatch outcomes, queue depth, memory pressure, and circuit
// breaker state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Workers ────────────────────────────────────────────────────────────────

// WorkersSpawned counts worker spawn attempts by model.
var WorkersSpawned = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "modelcore",
	Name:      "workers_spawned_total",
	Help:      "Total worker spawn attempts per model.",
}, []string{"model"})

// WorkersEvicted counts worker evictions by model and reason.
var WorkersEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "modelcore",
	Name:      "workers_evicted_total",
	Help:      "Total worker evictions per model and reason.",
}, []string{"model", "reason"})

// WorkersLive tracks the current live worker count per model.
var WorkersLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "modelcore",
	Name:      "workers_live",
	Help:      "Current live worker count per model.",
}, []string{"model"})

// WorkerLoadFailures counts workers that failed to load by model.
var WorkerLoadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "modelcore",
	Name:      "worker_load_failures_total",
	Help:      "Total worker load failures per model.",
}, []string{"model"})

// ─── Requests ───────────────────────────────────────────────────────────────

// RequestsDispatched counts requests handed to a worker by model.
var RequestsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "modelcore",
	Name:      "requests_dispatched_total",
	Help:      "Total requests dispatched per model.",
}, []string{"model"})

// RequestsFailed counts requests that ended in error by model and reason.
var RequestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "modelcore",
	Name:      "requests_failed_total",
	Help:      "Total requests that failed per model and reason.",
}, []string{"model", "reason"})

// DispatchLatency tracks end-to-end request latency from submit to reply.
var DispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "modelcore",
	Name:      "dispatch_latency_seconds",
	Help:      "Request latency from submit to reply, per model.",
	Buckets:   prometheus.DefBuckets,
}, []string{"model"})

// QueueDepth tracks the current combined queue depth per model.
var QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "modelcore",
	Name:      "queue_depth",
	Help:      "Current combined priority+normal queue depth per model.",
}, []string{"model"})

// ─── Memory governor ────────────────────────────────────────────────────────

// MemoryAllocatedMB tracks megabytes currently allocated across all models.
var MemoryAllocatedMB = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "modelcore",
	Name:      "memory_allocated_mb",
	Help:      "Megabytes currently allocated across all worker pools.",
})

// MemoryLimitMB tracks the configured memory budget.
var MemoryLimitMB = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "modelcore",
	Name:      "memory_limit_mb",
	Help:      "Configured memory budget in megabytes.",
})

// MemoryPressure tracks the derived pressure level (0=normal .. 3=critical).
var MemoryPressure = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "modelcore",
	Name:      "memory_pressure_level",
	Help:      "Derived memory pressure level (0=normal, 1=elevated, 2=high, 3=critical).",
})

// ─── Circuit breaker ────────────────────────────────────────────────────────

// CircuitBreakerState tracks per-model breaker state (0=closed, 1=open, 2=half_open).
var CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "modelcore",
	Name:      "circuit_breaker_state",
	Help:      "Circuit breaker state per model (0=closed, 1=open, 2=half_open).",
}, []string{"model"})

// ─── Host resources (ambient — carried from the system resource governor) ──

// CPUUsage tracks host CPU usage percentage.
var CPUUsage = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "modelcore",
	Name:      "host_cpu_usage_percent",
	Help:      "Current host CPU usage percentage.",
})

// MemoryUsage tracks host memory usage in bytes.
var MemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "modelcore",
	Name:      "host_memory_usage_bytes",
	Help:      "Current host memory usage in bytes.",
})

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "modelcore",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
