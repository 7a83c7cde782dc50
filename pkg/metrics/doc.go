/*
Package metrics provides Prometheus metrics collection and exposition for EdgeMesh.

The metrics package defines and registers all EdgeMesh metrics using the
Prometheus client library, providing observability into fleet health, job and
task progress, dispatch latency, and stream backpressure. It also owns the
component health checker behind /health and /ready. Metrics are exposed via
HTTP endpoint for scraping by Prometheus servers.

# Architecture

EdgeMesh's metrics system combines event-driven counters with a polling
collector for gauges:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Metric Definitions                 │          │
	│  │  - Package vars, registered in init()       │          │
	│  │  - Gauges, counters, histograms             │          │
	│  │  - edgemesh_ name prefix                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │             Collector                       │          │
	│  │  - Polls repository every 15s               │          │
	│  │  - Node counts by status                    │          │
	│  │  - Job/task counts by status                │          │
	│  │  - Effective capacity totals                │          │
	│  │  - SSE subscriber counts                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Inline Instrumentation             │          │
	│  │  - API middleware: requests + latency       │          │
	│  │  - Dispatch: pulls, results, pull latency   │          │
	│  │  - Monitors: ticks, touched rows, duration  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │       Health Checker (/health, /ready)      │          │
	│  │  - Components: storage, monitors, api       │          │
	│  │  - Ready only when all critical healthy     │          │
	│  │  - Version and uptime reporting             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│              GET /metrics (promhttp)                       │
	└────────────────────────────────────────────────────────┘

# Metric Catalog

Fleet Gauges (set by the Collector):

  - edgemesh_nodes_total{status}: Registered nodes by ONLINE/STALE/
    OFFLINE/UNKNOWN
  - edgemesh_jobs_total{status}: Jobs by lifecycle status
  - edgemesh_tasks_total{status}: Tasks by lifecycle status
  - edgemesh_cluster_effective_cpu_threads: Policy-capped CPU across
    online nodes
  - edgemesh_cluster_effective_ram_gb: Policy-capped RAM (GB)
  - edgemesh_cluster_effective_vram_gb: Policy-capped VRAM (GB)
  - edgemesh_reported_running_jobs: Sum of self-reported inflight
    counts from online nodes

Dispatch Counters and Histograms:

  - edgemesh_tasks_pulled_total: Tasks leased through the pull endpoint
  - edgemesh_results_recorded_total{outcome}: Results by
    success/failure/stale
  - edgemesh_pull_latency_seconds: Time deciding one pull

API Instrumentation:

  - edgemesh_api_requests_total{method,status}: Request counts
  - edgemesh_api_request_duration_seconds{method}: Latency histogram

Stream Backpressure:

  - edgemesh_stream_subscribers{topic}: Open SSE subscriptions
  - edgemesh_stream_events_dropped_total{topic}: Events shed by slow consumers

Monitor Loops:

  - edgemesh_monitor_ticks_total{monitor}: Completed sweeps
  - edgemesh_monitor_touched_total{monitor}: Rows changed by sweeps
  - edgemesh_monitor_tick_duration_seconds{monitor}: Sweep duration

# Core Components

Metric Definitions:
  - Package-level vars created with prometheus.New*
  - Registered once in init() via MustRegister
  - Shared by api, repository, and monitor packages

Collector:
  - Polls the repository every 15 seconds
  - Writes absent statuses as zero so a drained cluster reads as such
  - First collection runs immediately on Start()

HealthChecker:
  - Tracks named component health with timestamps
  - Critical set: storage, monitors, api
  - GetReadiness() flips ready only when all critical components are up

Timer:
  - Small helper for observing durations into histograms
  - NewTimer() at entry, ObserveDuration(histogram) at exit

# Usage

Exposing Metrics:

	import "github.com/edgemesh/edgemesh/pkg/metrics"

	mux.Handle("/metrics", metrics.Handler())

Starting the Collector:

	collector := metrics.NewCollector(repo, broker)
	collector.Start()
	defer collector.Stop()

Instrumenting an Operation:

	timer := metrics.NewTimer()
	task, err := repo.PullTask(ctx, nodeID)
	timer.ObserveDuration(metrics.PullLatency)
	if task != nil {
		metrics.TasksPulled.Inc()
	}

Recording Outcomes:

	if accepted {
		metrics.ResultsRecorded.WithLabelValues("success").Inc()
	} else {
		metrics.ResultsRecorded.WithLabelValues("stale").Inc()
	}

Component Health:

	metrics.SetVersion("1.2.0")
	metrics.RegisterComponent("storage", true, "")
	metrics.UpdateComponent("api", true, "")

	// Readiness endpoint
	mux.HandleFunc("/ready", metrics.ReadyHandler())

# Readiness Semantics

/ready returns 200 only when storage, monitors, and api have all
registered healthy. Until then it returns 503 with a body naming the
component still initializing:

	{
	  "status": "not_ready",
	  "message": "waiting for api initialization",
	  "components": {
	    "storage": "ready",
	    "monitors": "ready",
	    "api": "not registered"
	  }
	}

Load balancers and systemd readiness probes should point at /ready;
/health stays cheap and unconditional for liveness.

# Integration Points

This package integrates with:

  - pkg/api: Middleware feeds request metrics; mounts /metrics and /ready
  - pkg/repository: Dispatch paths increment pull/result counters
  - pkg/monitor: Sweep loops record ticks, touched rows, duration
  - pkg/coordinator: Registers component health at startup
  - pkg/events: Collector samples subscriber counts from the broker

# Example Queries

Fleet health:

	# Nodes currently online
	edgemesh_nodes_total{status="ONLINE"}

	# Fraction of fleet offline
	edgemesh_nodes_total{status="OFFLINE"} / ignoring(status)
	  sum(edgemesh_nodes_total)

Dispatch throughput:

	# Tasks leased per second
	rate(edgemesh_tasks_pulled_total[5m])

	# Failure ratio over the last 15 minutes
	rate(edgemesh_results_recorded_total{outcome="failure"}[15m]) /
	  rate(edgemesh_results_recorded_total[15m])

Latency:

	# P95 API latency by method
	histogram_quantile(0.95,
	  rate(edgemesh_api_request_duration_seconds_bucket[5m]))

Backpressure:

	# Dashboards falling behind
	rate(edgemesh_stream_events_dropped_total[5m]) > 0

# Design Patterns

Static Registration Pattern:
  - All metrics defined as package vars
  - init() registers everything exactly once
  - Importing the package is sufficient; no setup calls

Polling Gauge Pattern:
  - Gauges reflect database truth, not in-memory guesses
  - Collector rewrites every status label each cycle
  - Missing statuses forced to zero (no stale residue)

Inline Counter Pattern:
  - Counters incremented at the moment of the event
  - No sampling error on pulls, results, drops

Critical Component Pattern:
  - Readiness derived from a fixed critical set
  - New optional components can register without gating /ready

# Performance Characteristics

Collection Overhead:
  - Collector cycle: two repository queries every 15s
  - Cardinality: bounded label sets (statuses, methods, topics)
  - Total series: well under 200 for any fleet size

Instrumentation Overhead:
  - Counter increment: ~10ns
  - Histogram observe: ~50ns
  - Middleware adds single-digit microseconds per request

Scrape Size:
  - /metrics payload: ~10KB
  - Safe to scrape every 5-15s

# Troubleshooting

Common Issues:

Gauges Stuck at Zero:
  - Symptom: Node/job counts flat at 0 despite activity
  - Cause: Collector not started
  - Check: coordinator.Start() ran; collector goroutine alive
  - Solution: Gauges update on the next 15s cycle after start

Ready Never Flips:
  - Symptom: /ready stays 503
  - Check: Response body names the waiting component
  - Solution: That component failed to start; read its startup logs

Duplicate Registration Panic:
  - Symptom: Panic "duplicate metrics collector registration"
  - Cause: Test binaries calling MustRegister again
  - Solution: Registration lives only in this package's init()

Counter Resets:
  - Symptom: Counters drop to zero
  - Cause: Process restart (expected)
  - Solution: Use rate()/increase() in queries, never raw values

# Best Practices

Do:
  - Scrape /metrics at 5-15s intervals
  - Alert on rate(results{outcome="failure"}) and stream drops
  - Point orchestration probes at /ready, not /health
  - Keep label values from the fixed enums only

Don't:
  - Add per-node or per-job labels (unbounded cardinality)
  - Gate alerts on raw counter values
  - Call MustRegister outside this package

# See Also

  - pkg/api for the middleware and endpoint wiring
  - pkg/monitor for the sweep loops these metrics observe
  - Prometheus docs: https://prometheus.io/docs/
  - Metric naming: https://prometheus.io/docs/practices/naming/
*/
package metrics
