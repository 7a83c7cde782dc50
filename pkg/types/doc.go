/*
Package types defines the core data structures used throughout EdgeMesh.

This package contains all fundamental types that represent EdgeMesh's domain
model: nodes with their capabilities, live metrics, and operator policies;
jobs and the tasks they decompose into; and the wire-level request and
response shapes the HTTP API exchanges with agents and dashboards. These
types are used by all other packages for state management, API communication,
and scheduling logic.

# Architecture

The types package is the foundation of EdgeMesh's data model. It defines:

  - Node registry (identity, capabilities, metrics, policy, status)
  - Job lifecycle and progress aggregation
  - Task lifecycle with retries and leases
  - Execution results and timing statistics
  - Wire contracts (register, heartbeat, pull, submit, simulate)

All types are designed to be:
  - Serializable (JSON for both storage and the wire)
  - Validated (typed string enums, Validate helpers on requests)
  - Self-documenting (clear field names and comments)

# Core Types

The main types in this package are:

Node Registry:
  - Node: A worker in the mesh with status and timestamps
  - NodeIdentity: Stable ID, display name, address
  - NodeCapabilities: CPU threads, RAM, optional GPU, task types
  - NodeMetrics: Latest heartbeat sample (CPU%, RAM%, running jobs)
  - NodePolicy: Operator controls (enabled, max concurrent, caps, allowlist)
  - NodeStatus: ONLINE, STALE, OFFLINE, UNKNOWN
  - NodeDetail: Node plus recent heartbeat history for detail views

Job Management:
  - Job: User-submitted batch with aggregated progress counters
  - JobStatus: QUEUED, RUNNING, COMPLETED, FAILED, CANCELLED
  - TaskSpec: Per-task payload carried in a create request

Task Execution:
  - Task: Single unit of dispatch with retries and lease expiry
  - TaskStatus: QUEUED, RUNNING, SUCCEEDED, FAILED
  - TaskType: INFERENCE, EMBEDDINGS, INDEX, TOKENIZE, PREPROCESS
  - Result: One execution report from a node

Wire Contracts:
  - RegisterRequest/Response: Agent enrollment
  - HeartbeatRequest/Response: Liveness plus metrics sample
  - PullRequest/Response: Work request, possibly empty
  - SubmitResultRequest/Response: Execution report with acceptance verdict
  - CreateJobRequest: Job submission with count or explicit payloads
  - ClusterSummary: Fleet rollup for dashboards
  - SimulateRequest/Response, CandidateScore: Dry-run placement
  - ExecutionMetrics, DurationStats: Timing and reliability rollups

# Usage

Registering a Node:

	req := types.RegisterRequest{
		NodeID:      "mac-mini-01",
		DisplayName: "Mac mini (garage)",
		IP:          "192.168.1.20",
		Port:        8001,
		Capabilities: types.NodeCapabilities{
			CPUThreads: 8,
			RAMTotalGB: 16,
			TaskTypes:  []types.TaskType{types.TaskTypeEmbeddings},
		},
	}
	if err := req.Validate(); err != nil {
		return err
	}

Creating a Job Request:

	req := types.CreateJobRequest{
		Type:      "EMBEDDINGS",
		TaskCount: 10,
	}
	taskType, err := req.ResolveType() // accepts aliases like EMBED
	if err != nil {
		return err
	}

Inspecting Task State:

	if task.Status.Terminal() {
		// SUCCEEDED or FAILED: no further transitions
	}

Applying a Policy:

	policy := types.DefaultPolicy()
	policy.MaxConcurrent = 2
	policy.TaskAllowlist = []types.TaskType{types.TaskTypeIndex}
	if err := policy.Validate(); err != nil {
		return err
	}
	if policy.Allows(types.TaskTypeInference) {
		// not reached: INFERENCE is outside the allowlist
	}

# State Machines

Nodes (demotions follow heartbeat recency, applied by the sweep):

	ONLINE → STALE → OFFLINE
	   ↑───────┴────────┘  (any heartbeat revives)

UNKNOWN marks a placeholder: a row provisioned by a policy write for a
node that has not registered yet. It leaves UNKNOWN on first contact.

Tasks:

	QUEUED → RUNNING → SUCCEEDED
	  ↑         ↓
	  └──── (retry budget left)
	            ↓
	          FAILED  (budget exhausted)

Jobs (derived from their tasks):

	QUEUED → RUNNING → COMPLETED (all tasks succeeded)
	            ↓
	          FAILED (any task failed for good)
	  CANCELLED reachable from QUEUED/RUNNING via operator request

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type TaskStatus string
	  const (
	      TaskStatusQueued  TaskStatus = "QUEUED"
	      TaskStatusRunning TaskStatus = "RUNNING"
	  )

Alias Parsing:

	ParseTaskType folds operator shorthand onto canonical names:
	  INFER → INFERENCE, EMBED/EMBEDDING → EMBEDDINGS,
	  PREPROCESSING → PREPROCESS. Unknown names are errors, never
	  silently accepted.

Optional Fields:

	Hardware that may be absent uses pointers:
	  - *float64 GPUPercent: nil = node has no GPU
	  - *float64 VRAMUsedGB: nil = not reported
	  - *int GPUCapPercent: nil = no GPU ceiling set

Terminal Helpers:

	JobStatus.Terminal() and TaskStatus.Terminal() centralize the
	"no further transitions" rule so callers never enumerate states.

# Integration Points

This package integrates with:

  - pkg/repository: Persists and transitions these types
  - pkg/api: Decodes requests into and encodes responses from them
  - pkg/scheduler: Reads capabilities, metrics, and policies
  - pkg/client: Returns them from the HTTP client methods
  - pkg/events: Carries Node and Job snapshots as payloads

# Validation

Key validation rules:

RegisterRequest:
  - node_id and display_name required, bounded length
  - ip required, port within [0,65535]
  - capabilities normalized afterwards (GPU name implies has_gpu,
    empty task type list means all types)

HeartbeatRequest:
  - node_id required
  - percentages within [0,100]
  - running_jobs never negative

NodePolicy:
  - max_concurrent never negative (0 quarantines the node)
  - caps within [0,100]
  - allowlist entries must be known task types

SubmitResultRequest:
  - node_id required
  - duration_ms never negative

# Thread Safety

All types in this package are plain data:
  - Read-safe: Can be read concurrently from multiple goroutines
  - Write-unsafe: Mutations must be synchronized by callers

The repository layer owns synchronization for persisted state. Event
payloads are snapshots and must be treated as read-only.

# See Also

  - pkg/repository for persistence and state transitions
  - pkg/scheduler for how capabilities and policies drive placement
  - pkg/api for the endpoints these shapes travel through
*/
package types
