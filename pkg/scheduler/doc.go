/*
Package scheduler provides placement policy for EdgeMesh task dispatch.

The scheduler decides which node should take the next task: it filters the
registry snapshot down to eligible candidates and orders them least-loaded
first. It is a pure function library with no background loop and no clock of
its own; the repository calls it during pulls, and the simulate endpoint calls
it to explain placement without dispatching anything.

# Architecture

The scheduler sits between the registry snapshot and the dispatch decision:

	┌────────────────── PLACEMENT PIPELINE ─────────────────────┐
	│                                                             │
	│  Registry snapshot ([]*types.Node)                         │
	│       │                                                     │
	│  ┌────▼───────────────────────────────────────┐            │
	│  │            Eligibility Filter               │            │
	│  │  - policy_disabled                          │            │
	│  │  - node_not_online / node_stale             │            │
	│  │  - task_not_allowed                         │            │
	│  │  - at_max_concurrent                        │            │
	│  │  - cpu_over_cap / ram_over_cap              │            │
	│  │  - missing_gpu / gpu_over_cap               │            │
	│  └────┬───────────────────────────────────────┘            │
	│       │ eligible nodes                                      │
	│  ┌────▼───────────────────────────────────────┐            │
	│  │           Load Ordering                      │            │
	│  │  ascending (running_jobs, cpu%, ram%,       │            │
	│  │  node_id) - total order, deterministic      │            │
	│  └────┬───────────────────────────────────────┘            │
	│       │                                                     │
	│       ├──► First(): the dispatch choice                    │
	│       └──► Rank(): every candidate with reasons            │
	│             (feeds /v1/simulate/schedule)                  │
	└─────────────────────────────────────────────────────────┘

# Core Components

Request:
  - TaskType: What kind of work needs placing
  - RequiresGPU: Whether the payload declared requires_gpu
  - Now / StaleAfter: Injected clock so the policy stays testable

Candidate:
  - One node's standing for a request
  - Eligible flag, display Score, and the full reason list

Eligibility Reasons:
  - Stable strings surfaced verbatim by the simulator
  - Every failing check appended, not just the first
  - Operators see the complete story for each node

EffectiveCapacity:
  - A node's hardware scaled by its policy ceilings
  - Feeds the cluster summary's capacity totals

# Placement Rules

A node is eligible for a task when all of these hold:

 1. Its policy is enabled
 2. Its status is ONLINE and its last heartbeat is fresher than
    the staleness window (guards the gap before the sweep runs)
 3. Both its policy allowlist and its declared capabilities admit
    the task type
 4. Its self-reported running_jobs is below max_concurrent
 5. Its CPU and RAM utilization are at or under the policy caps
 6. If the task requires a GPU: the node has one, and its GPU
    utilization is under the GPU cap when one is set

Eligible nodes are ordered by ascending (running_jobs, cpu_percent,
ram_percent, node_id). The node ID tail makes the order total, so the
dispatcher and the simulator always agree on the same snapshot.

# Usage

Choosing a Node (dispatch path):

	req := scheduler.Request{
		TaskType:    types.TaskTypeEmbeddings,
		RequiresGPU: scheduler.RequiresGPU(task.Payload),
		Now:         time.Now().UTC(),
		StaleAfter:  15 * time.Second,
	}

	node := scheduler.First(nodes, req)
	if node == nil {
		// nothing eligible; the task stays QUEUED
	}

Explaining a Decision (simulate path):

	ranked := scheduler.Rank(nodes, req)
	for _, c := range ranked {
		if c.Eligible {
			fmt.Printf("%s score=%.3f\n", c.Node.Identity.NodeID, c.Score)
		} else {
			fmt.Printf("%s excluded: %v\n", c.Node.Identity.NodeID, c.Reasons)
		}
	}

Checking One Node:

	ok, reasons := scheduler.Eligible(node, req)
	if !ok {
		// reasons holds every failing check
	}

Capacity Rollup:

	total := 0.0
	for _, n := range onlineNodes {
		total += scheduler.Capacity(n).CPUThreads
	}

# Scoring

Score is a display-only figure for dashboards:

	score = 100 - cpu%/100*50 - ram%/100*40 - running_jobs*5

Placement order never uses it. The lexicographic load key decides
placement; the score exists so humans can eyeball relative headroom in
the simulator output. Keeping the two separate means a future scoring
tweak cannot silently change dispatch behavior.

# Determinism

Everything here is deterministic on its inputs:

  - No randomness, no tiebreaking by map order
  - The clock is a parameter, never time.Now() internally
  - Identical snapshots produce identical rankings

This is what makes /v1/simulate/schedule trustworthy: it runs the very
same code path the dispatcher runs, on the same snapshot shape.

# Integration Points

This package integrates with:

  - pkg/repository: Calls First() during task pulls
  - pkg/api: Calls Rank() for the simulate endpoint and
    Capacity() for the cluster summary
  - pkg/types: Reads Node capabilities, metrics, and policies

# Design Patterns

Pure Function Pattern:
  - No state, no goroutines, no clock
  - Callers inject time.Now() and the staleness window
  - Table-driven tests cover each rule in isolation

Reason Accumulation Pattern:
  - Eligible() collects every failing check
  - Simulator output explains nodes fully in one pass
  - Stable reason strings form part of the API contract

Snapshot Pattern:
  - Operates on a point-in-time []*types.Node
  - Never reaches back into storage mid-decision
  - Dispatch and simulation see consistent views

# Performance Characteristics

Complexity:
  - Eligible: O(allowlist + capabilities) per node, effectively constant
  - EligibleNodes/Rank: O(n log n) in node count
  - LAN-scale fleets (tens of nodes): microseconds per decision

Allocation:
  - One slice per filter pass
  - Candidate structs only on the simulate path

# Troubleshooting

Common Issues:

Nothing Gets Scheduled:
  - Symptom: Tasks stay QUEUED, pulls return empty
  - Check: /v1/simulate/schedule for the blocking reasons
  - Common causes: all nodes at_max_concurrent (stale running_jobs
    from a crashed agent), policy_disabled after maintenance

Node Never Chosen:
  - Symptom: One node idles while others work
  - Check: Rank() output for that node's reasons
  - Common causes: task_not_allowed (allowlist too narrow),
    cpu_over_cap from a noisy neighbor process

Uneven Distribution:
  - Symptom: One node gets every task
  - Cause: Ties broken by node ID after load fields
  - Note: Expected when metrics are identical; heartbeats refresh
    running_jobs and spread subsequent pulls

GPU Tasks Unplaceable:
  - Symptom: requires_gpu tasks stay QUEUED
  - Check: Nodes report has_gpu (a GPU name or VRAM figure implies it)
  - Check: gpu_over_cap against the policy ceiling

# See Also

  - pkg/repository for the dispatch transaction around First()
  - pkg/api for the simulate endpoint shape
  - pkg/types for NodePolicy and NodeCapabilities semantics
*/
package scheduler
