/*
Package monitor runs the coordinator's background maintenance loops.

Agents fail silently: a powered-off laptop sends no goodbye. The mesh
therefore needs an active side that notices silence and undoes its
damage. Two loops provide that: the stale monitor demotes nodes that
stopped heartbeating, and the lease monitor returns tasks to the queue
when the node holding them went quiet. Both are instances of one small
Monitor type: a named tick function on a ticker.

# Architecture

	┌────────────────────── MONITOR LOOP ─────────────────────┐
	│                                                           │
	│   ticker ──► Tick(ctx)                                    │
	│                 │                                         │
	│                 │ now = clock()   (injectable)            │
	│                 ▼                                         │
	│   repository sweep (SweepStaleNodes / ReclaimExpired)     │
	│                 │                                         │
	│                 ├── touched count ──► Prometheus          │
	│                 └── error ──► log, keep looping           │
	│                                                           │
	└───────────────────────────────────────────────────────────┘

The loops never own state. Every transition they make goes through the
repository, so a status change caused by a sweep is indistinguishable
from one caused by a request: same persistence, same events, same
metrics.

# Failure Detection

Node silence decays in two steps, both measured from the last
heartbeat, never from the previous sweep:

	ONLINE ──15s silence──► STALE ──60s total──► OFFLINE

STALE is a scheduling decision (no new work) while OFFLINE is a
stronger claim (presumed gone). A single heartbeat restores ONLINE
from either. The sweep period (default 5s) bounds only how quickly
the label catches up with reality.

Task leases expire independently. A pulled task carries a deadline;
when it lapses without a result, the lease monitor requeues the task
with its retry count advanced. The worker may still be running it,
which is why result submission tolerates losing the race: the late
result is recorded but the task's requeue stands, and execution is
at-least-once.

# Core Components

Monitor:
  - Name, fixed interval, tick function
  - Start launches the goroutine, Stop halts it
  - SetClock injects a fake clock for tests
  - Tick is public so tests drive cycles synchronously

NewStaleMonitor:
  - Wraps repository.SweepStaleNodes
  - Touched count is nodes whose status changed this cycle

NewLeaseMonitor:
  - Wraps repository.ReclaimExpiredLeases
  - Touched count is tasks requeued this cycle

# Usage

	stale := monitor.NewStaleMonitor(repo, 5*time.Second)
	lease := monitor.NewLeaseMonitor(repo, 3*time.Second)
	stale.Start()
	lease.Start()
	defer stale.Stop()
	defer lease.Stop()

Deterministic Testing:

	m := monitor.NewStaleMonitor(repo, time.Hour) // ticker unused
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	now = now.Add(20 * time.Second)
	touched, err := m.Tick(context.Background())

Tests never sleep through an interval; they move the clock and call
Tick directly.

# Integration Points

This package integrates with:

  - pkg/repository: Owns the sweeps the monitors invoke
  - pkg/metrics: Tick counters, touched counters, tick duration
  - pkg/coordinator: Builds, starts and stops both monitors
  - pkg/config: StaleScanInterval and RecoveryScanInterval

# Design Patterns

Closure Tick Pattern:
  - One loop implementation, behavior injected as a function
  - New sweep kinds need a constructor, not a new loop

Injected Clock Pattern:
  - now flows from clock() through Tick into the repository
  - Staleness tests are exact instead of sleep-based

Fail-Open Loop Pattern:
  - A failed tick logs and continues
  - One bad cycle never kills liveness enforcement

# Performance Characteristics

  - Each tick is one indexed UPDATE-returning sweep
  - Cost scales with rows transitioning, not fleet size
  - Default periods (5s, 3s) are far below the windows they enforce
  - Both loops together are negligible next to heartbeat traffic

# Monitoring Metrics

	edgemesh_monitor_ticks_total{monitor}
	edgemesh_monitor_touched_total{monitor}
	edgemesh_monitor_tick_duration_seconds{monitor}

A healthy mesh shows ticks climbing steadily and touched near zero.
Sustained nonzero touched on lease_recovery means workers are dying
mid-task or the lease window is shorter than real execution times.

# Troubleshooting

Nodes Stuck ONLINE After Unplugging:
  - Symptom: Status never decays
  - Check: Monitor goroutines started (coordinator logs "Monitor started")
  - Check: edgemesh_monitor_ticks_total rising

Tasks Requeue While Workers Still Run:
  - Symptom: touched{monitor="lease_recovery"} climbing, duplicated work
  - Cause: task_lease_seconds below real task duration
  - Solution: Raise the lease window or shard payloads smaller

Status Flaps ONLINE/STALE:
  - Symptom: Nodes oscillate every few sweeps
  - Cause: Heartbeat period too close to node_stale_seconds
  - Solution: Heartbeat at a third of the stale window or faster

# See Also

  - pkg/repository for sweep semantics and retry accounting
  - pkg/config for the four timing knobs involved
  - pkg/metrics for the exported series
*/
package monitor
