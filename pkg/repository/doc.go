/*
Package repository owns every state transition in the mesh.

All reads and writes against the store go through the Repository: node
registration and heartbeats, the staleness sweep, job and task
creation, the pull-based dispatch loop, result recording, lease
recovery, and the aggregate views (cluster summary, execution
metrics). Each operation is one SQLite transaction; events publish
only after the transaction commits, so a subscriber re-fetching on an
event always sees the committed state.

# Architecture

	┌──────────────────────── REPOSITORY ───────────────────────┐
	│                                                             │
	│   API handlers          Monitors                            │
	│        │                    │                               │
	│        ▼                    ▼                               │
	│   ┌─────────────────────────────────────┐                  │
	│   │   one operation = one transaction    │                  │
	│   │                                       │                  │
	│   │   nodes.go   registry + sweeps       │                  │
	│   │   jobs.go    jobs + derived status   │                  │
	│   │   tasks.go   dispatch + results      │                  │
	│   └──────────────┬───────────────────────┘                  │
	│                  │ commit                                    │
	│                  ▼                                           │
	│          events.Broker (node_update / job_update)            │
	│                                                              │
	│   in-memory: per-node heartbeat history ring                 │
	└──────────────────────────────────────────────────────────────┘

# Core Components

Repository:
  - Built over an opened, migrated storage.Store and an events.Broker
  - Options carry the staleness, offline and lease windows
  - SetClock injects a fake clock; every operation reads it once

Sentinels:
  - ErrNotFound: unknown node, job or task id
  - ErrConflict: illegal operator job transition

Identifiers:
  - job-3f9a2c81d04e, task-9c0b51aa37f2: prefix plus twelve hex
    chars from a fresh UUID, short enough to read aloud

# Node Registry

UpsertNode enrolls or refreshes a node. Identity and capabilities
always come from the request; a stored policy survives
re-registration unless the request carries a new one. Registration
counts as liveness, so the node comes back ONLINE.

RecordHeartbeat stores the metrics sample, restores ONLINE and feeds
the in-memory history ring (default 100 samples per node). History is
a debugging aid, not state: it vanishes on restart and MetricsHistory
reads it without touching SQLite.

SweepStaleNodes demotes in two steps, both measured from last_seen:
past StaleAfter an ONLINE node becomes STALE, past OfflineAfter any
silent node becomes OFFLINE. The sweep is idempotent under a frozen
clock. A heartbeat or registration reverses either demotion.

SetPolicy validates and replaces the per-node scheduling policy.
Targeting a node that never registered provisions a placeholder row
(UNKNOWN, the id as display name), so operators can pin caps before a
machine's first contact; the pinned policy survives its registration.

# Dispatch

PullTask is the heart of the mesh. In one transaction it:

 1. Loads the caller; a node that is not ONLINE gets nothing
 2. Snapshots the registry
 3. Walks QUEUED tasks oldest first, skipping cancelled jobs
 4. For each, asks the scheduler who should run it
 5. Claims the first task whose best-placed node is the caller

The eligibility decision and the claim share one snapshot, so a
policy tightened a moment ago is already binding, and two nodes
pulling concurrently cannot claim the same task. An eligible but
outranked caller leaves the task for the better-placed node: dispatch
order is the scheduler's total order, not arrival order of pulls.

A claimed task carries a lease (default 30s). SubmitResult records
every report in the results table, but only a report from the current
lease holder for a live task moves the task: SUCCEEDED on success,
otherwise back to QUEUED while retries remain and terminal FAILED
when the budget is spent. A report that lost its lease is answered
with Accepted="stale"; the work may have run twice, which is why
execution is at-least-once and payloads must tolerate replay.

ReclaimExpiredLeases treats a lapsed lease as a failure report with
error "lease_expired", advancing the retry count. No result row is
written; the node never said anything.

# Jobs

CreateJob inserts the job and all its tasks in one transaction.
Payloads are opaque JSON; nil becomes an empty object. Each task gets
its TaskSpec's retry budget or the default of 2.

Job status is derived from task statuses, never ticked independently:
all succeeded is COMPLETED, any terminal failure is FAILED, any
started task is RUNNING, else QUEUED. Stored terminal statuses are
sticky: a cancelled job never reopens because a late report arrives.
Entering RUNNING stamps started_at; entering a terminal state stamps
completed_at; completing sheds any stale attempt error, failing
inherits the most recently failed task's message.

TransitionJobStatus is the operator path (cancel, force-complete) and
enforces the legal transition table; anything else is ErrConflict.
Task-driven progress never goes through it.

ListJobs filters by status, type and node. The node filter keeps jobs
the node touched through a live assignment or a recorded result, so a
node's history survives task requeues.

# Aggregates

ClusterSummary counts nodes by status, sums effective capacity over
enabled ONLINE nodes (policy caps applied), totals the self-reported
inflight work and counts eligible nodes per task type. Inflight
includes demoted nodes' last reports; those tasks still occupy a
worker until the lease sweep says otherwise.

ExecutionMetrics aggregates the results history: success and failure
counts, mean, median, nearest-rank p95 durations overall and per task
type, per-node reliability ratios, and throughput as completions in
the trailing minute.

SimulateSchedule answers "where would this task go right now" with
the full ranked candidate list and per-node reasons, mutating nothing
and publishing nothing.

# Usage

	repo := repository.New(store, broker, repository.Options{
		StaleAfter:    15 * time.Second,
		OfflineAfter:  60 * time.Second,
		LeaseDuration: 30 * time.Second,
	})

	node, err := repo.UpsertNode(ctx, types.RegisterRequest{
		NodeID:      "mini-1",
		DisplayName: "Mac mini",
		IP:          "192.168.1.20",
		Port:        9000,
	})

	job, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specs)

	task, err := repo.PullTask(ctx, "mini-1")
	if task == nil {
		// nothing eligible for this node right now
	}

Deterministic Tests:

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })
	now = now.Add(16 * time.Second)
	changed, err := repo.SweepStaleNodes(ctx, now)

# Integration Points

This package integrates with:

  - pkg/storage: The SQLite store underneath every transaction
  - pkg/scheduler: Pure placement logic for pulls and summaries
  - pkg/events: Post-commit node_update and job_update publishes
  - pkg/types: The domain model and wire-facing structs
  - pkg/monitor: Drives the two sweeps on timers
  - pkg/api: Every handler delegates here

# Design Patterns

Transaction Boundary Pattern:
  - withTx wraps each operation; rollback on any error
  - Helpers ending in Tx compose inside a caller's transaction
  - Events publish after commit, never inside

Derived Status Pattern:
  - Task rows are the source of truth for job progress
  - recomputeJobTx persists the derivation on every mutation path
  - Reads enrich without writing

Injected Clock Pattern:
  - now() is read once per operation and threaded through
  - Staleness and lease tests are exact instead of sleep-based

Fixed-Width Timestamp Pattern:
  - One layout, always UTC, trailing zeros kept
  - Lexicographic string order matches chronological order, so
    SQL comparisons on timestamp columns are correct

# Performance Characteristics

  - Registry operations are single-row upserts plus one read-back
  - PullTask is O(queued tasks x nodes) inside one transaction;
    at LAN fleet sizes (tens of nodes) this is sub-millisecond
  - ExecutionMetrics scans the full results table; acceptable for
    demo-scale history, the first candidate for a windowed query
    if results grow unbounded
  - The history ring costs HistoryLimit samples per node in memory

# Troubleshooting

Pull Always Returns Nothing:
  - Check: The calling node is ONLINE (heartbeat recently?)
  - Check: Policy enabled, allowlist includes the task type
  - Check: running_jobs below max_concurrent in the last heartbeat
  - Tool: POST /v1/simulate/schedule names the failing rule per node

Task Ran Twice:
  - Cause: Lease expired mid-execution, task requeued, both runs
    eventually reported
  - Expected: The late report is recorded as "stale" history
  - Solution: Raise TASK_LEASE_SECONDS above real task duration

Job Stuck RUNNING:
  - Check: Remaining tasks QUEUED with no eligible node
  - Check: A node holding a lease that has not yet expired

Cancelled Job Restarts:
  - It cannot: terminal statuses are sticky and PullTask skips
    tasks of cancelled jobs

# Monitoring

Repository activity surfaces through pkg/metrics:

	edgemesh_tasks_pulled_total
	edgemesh_pull_latency_seconds
	edgemesh_results_recorded_total{outcome}
	edgemesh_jobs_total{status}
	edgemesh_tasks_total{status}

# See Also

  - pkg/scheduler for the placement rules pulls obey
  - pkg/storage for the schema and migration machinery
  - pkg/monitor for the loops driving the sweeps
  - pkg/events for delivery guarantees of the published events
*/
package repository
