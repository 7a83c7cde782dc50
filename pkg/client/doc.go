/*
Package client provides a Go client library for the EdgeMesh coordinator API.

The client package wraps the coordinator's HTTP REST API with a convenient,
idiomatic Go interface. It handles request encoding, the shared-secret header,
error envelope decoding, and provides type-safe methods for every agent and
operator operation. Both the edgemesh CLI and test harnesses drive the
coordinator through this package.

# Architecture

The client provides a high-level interface to the coordinator's API:

	┌─────────────────────── CLIENT ────────────────────────────┐
	│                                                             │
	│  ┌────────────────────────────────────────────┐           │
	│  │              Client                          │           │
	│  │  - Base URL (http://host:8000)              │           │
	│  │  - Optional shared secret                    │           │
	│  │  - 10s timeout per call                      │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Agent Methods                     │           │
	│  │  Register, Heartbeat                         │           │
	│  │  PullTask, SubmitResult                      │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Operator Methods                   │           │
	│  │  ListNodes, GetNode, SetNodePolicy           │           │
	│  │  CreateJob, ListJobs, GetJob, JobTasks       │           │
	│  │  UpdateJobStatus, ClusterSummary             │           │
	│  │  SimulateSchedule, ExecutionMetrics          │           │
	│  │  CreateEmbedBurst                            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Error Decoding                     │           │
	│  │  - {"error":{"kind","message"}} envelope     │           │
	│  │  - *APIError with HTTP status attached       │           │
	│  │  - Raw-text fallback for proxy pages         │           │
	│  └────────────────────────────────────────────┘            │
	└──────────────────────────────────────────────────────────┘

# Core Components

Client:
  - One instance per coordinator base URL
  - Safe for concurrent use (stateless between calls)
  - New(baseURL) for open LANs, NewWithSecret for locked ones

APIError:
  - Kind: Stable machine-readable category (not_found, bad_request,
    unauthorized, conflict, internal)
  - Message: Human-readable detail
  - Status: HTTP status code (not serialized)
  - Unwraps with errors.As for kind-based handling

Timeouts:
  - Every call carries its own 10 second context
  - No external context parameter; the LAN either answers fast
    or something is wrong

# Usage

Creating a Client:

	import "github.com/edgemesh/edgemesh/pkg/client"

	c := client.New("http://192.168.1.10:8000")

	// With a shared secret for mutating endpoints
	c := client.NewWithSecret("http://192.168.1.10:8000", os.Getenv("EDGE_MESH_SHARED_SECRET"))

Agent Loop:

	reg, err := c.Register(types.RegisterRequest{
		NodeID:      "rpi-01",
		DisplayName: "Raspberry Pi (shelf)",
		IP:          "192.168.1.31",
		Port:        8001,
		Capabilities: types.NodeCapabilities{
			CPUThreads: 4,
			RAMTotalGB: 8,
		},
	})
	if err != nil {
		return err
	}
	poll := time.Duration(reg.PollIntervalSeconds) * time.Second

	for {
		task, err := c.PullTask("rpi-01")
		if err != nil {
			return err
		}
		if task == nil {
			time.Sleep(poll)
			continue
		}

		output, runErr := execute(task)
		_, err = c.SubmitResult(task.ID, types.SubmitResultRequest{
			NodeID:     "rpi-01",
			Success:    runErr == nil,
			Output:     output,
			DurationMS: elapsedMS,
		})
		if err != nil {
			return err
		}
	}

Operator Workflow:

	job, err := c.CreateJob(types.CreateJobRequest{
		Type:      "EMBEDDINGS",
		TaskCount: 10,
	})
	if err != nil {
		return err
	}

	tasks, err := c.JobTasks(job.ID)
	if err != nil {
		return err
	}

	summary, err := c.ClusterSummary()
	if err != nil {
		return err
	}
	fmt.Printf("%d/%d nodes online\n", summary.OnlineNodes, summary.TotalNodes)

Dry-Run Placement:

	sim, err := c.SimulateSchedule("INFERENCE", true)
	if err != nil {
		return err
	}
	if sim.Chosen == nil {
		fmt.Println("no placement:", sim.Message)
	}

Error Handling:

	_, err := c.GetNode("ghost", 0)
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case "not_found":
			// register first
		case "unauthorized":
			// missing or wrong shared secret
		}
	}

# Endpoint Coverage

Agent plane:
  - Register: POST /v1/agent/register
  - Heartbeat: POST /v1/agent/heartbeat
  - PullTask: POST /v1/tasks/pull (nil task when no work)
  - SubmitResult: POST /v1/tasks/{id}/result

Operator plane:
  - ListNodes: GET /v1/nodes
  - GetNode: GET /v1/nodes/{id} (optional metrics history)
  - SetNodePolicy: PUT /v1/nodes/{id}/policy
  - CreateJob: POST /v1/jobs
  - ListJobs: GET /v1/jobs (status/type/node filters)
  - GetJob: GET /v1/jobs/{id}
  - JobTasks: GET /v1/jobs/{id}/tasks
  - UpdateJobStatus: POST /v1/jobs/{id}/status
  - ClusterSummary: GET /v1/cluster/summary
  - SimulateSchedule: POST /v1/simulate/schedule
  - ExecutionMetrics: GET /v1/metrics/execution
  - CreateEmbedBurst: POST /v1/demo/jobs/create-embed-burst

Probes:
  - Health: GET /health
  - Ready: GET /ready

# Authentication

The shared secret travels in the X-EdgeMesh-Secret header on every
request when configured. The coordinator enforces it only on the agent
plane (register, heartbeat, pull, result); operator reads and job
management stay open on the LAN. A client without a secret can
therefore list nodes and create jobs but cannot register, pull, or
submit when the coordinator has a secret set.

# Semantics Worth Knowing

PullTask returns (nil, nil) when no work is available. That is the
normal idle case, not an error; agents sleep their poll interval and
try again.

SubmitResult can come back with Accepted=false when the task's lease
was already reclaimed and handed elsewhere. The agent's work is
discarded; this is the at-least-once contract being visible.

GetNode with historyLimit > 0 asks the coordinator to include the
recent heartbeat ring for detail views.

# Integration Points

This package integrates with:

  - cmd/edgemesh: All CLI subcommands call through here
  - pkg/types: Request and response shapes
  - test/integration: Drives a real coordinator in tests

# Design Patterns

Thin Method Pattern:
  - One method per endpoint, no hidden retries
  - Callers own backoff and retry policy
  - The load simulator layers its own backoff on top

Error Envelope Pattern:
  - Coordinator errors decode into *APIError
  - Non-envelope bodies (proxy pages) fall back to raw text
  - Status code always preserved for callers

Immutable Client Pattern:
  - No mutable state after construction
  - Share one instance across goroutines freely

# Performance Characteristics

Connection Reuse:
  - One http.Client with keep-alives per Client
  - LAN round trip: single-digit milliseconds typical
  - 10s timeout covers slow SD-card coordinators

Allocation:
  - One buffer per request/response cycle
  - Response structs sized by the caller's use

# Troubleshooting

Common Issues:

Connection Refused:
  - Symptom: "connection refused" on every call
  - Check: Coordinator running, host/port right
  - Check: Base URL scheme is http (no TLS on the LAN plane)

Unauthorized Errors:
  - Symptom: APIError kind "unauthorized" on writes only
  - Cause: Coordinator has a shared secret, client does not
  - Solution: NewWithSecret or EDGE_MESH_SHARED_SECRET

Nil Task Confusion:
  - Symptom: PullTask returns nil, nil repeatedly
  - Cause: No QUEUED work the node is eligible for
  - Check: SimulateSchedule for the node's exclusion reasons

Timeouts:
  - Symptom: context deadline exceeded after 10s
  - Cause: Coordinator overloaded or network path broken
  - Check: /health directly with curl from the same host

# See Also

  - pkg/api for the server side of these endpoints
  - pkg/types for request/response field semantics
  - cmd/edgemesh for CLI usage of every method
*/
package client
