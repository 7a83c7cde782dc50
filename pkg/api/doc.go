/*
Package api implements the coordinator's HTTP surface: REST endpoints, SSE
streams, and operational probes.

The api package exposes everything the mesh talks to: agents register,
heartbeat, pull tasks, and submit results; operators manage jobs and node
policies; dashboards read summaries and subscribe to live event streams. It
is a thin layer over the repository, owning only HTTP concerns: routing,
decoding, the error envelope, CORS, the shared-secret gate, and request
instrumentation.

# Architecture

	┌──────────────────────── HTTP SERVER ──────────────────────┐
	│                                                             │
	│  Request                                                    │
	│     │                                                       │
	│  ┌──▼──────────────────────────────────────────┐           │
	│  │          loggingMiddleware                   │           │
	│  │  - status + duration into Prometheus         │           │
	│  │  - debug log per request                     │           │
	│  │  - streams excluded from latency metrics     │           │
	│  └──▼──────────────────────────────────────────┘           │
	│  ┌──▼──────────────────────────────────────────┐           │
	│  │          corsMiddleware                      │           │
	│  │  - allowlisted origins, preflight            │           │
	│  └──▼──────────────────────────────────────────┘           │
	│  ┌──▼──────────────────────────────────────────┐           │
	│  │          secretGate                          │           │
	│  │  - X-EdgeMesh-Secret on the agent plane      │           │
	│  │  - constant-time compare                     │           │
	│  │  - disabled when no secret configured        │           │
	│  └──▼──────────────────────────────────────────┘           │
	│  ┌──▼──────────────────────────────────────────┐           │
	│  │     http.ServeMux (method + path patterns)   │           │
	│  │                                               │           │
	│  │  Probes:    /health /ready /metrics           │           │
	│  │  Registry:  /v1/nodes ...                     │           │
	│  │  Agent:     /v1/agent/* /v1/tasks/*           │           │
	│  │  Jobs:      /v1/jobs ...                      │           │
	│  │  Streams:   /v1/stream/nodes /v1/stream/jobs  │           │
	│  └──▼──────────────────────────────────────────┘           │
	│     │                                                       │
	│  pkg/repository (all state transitions)                     │
	└───────────────────────────────────────────────────────────┘

# Endpoints

Probes and exposition:

	GET  /health                 liveness, always cheap
	GET  /ready                  component readiness (503 until up)
	GET  /metrics                Prometheus exposition

Registry and scheduling views:

	GET  /v1/nodes               list the registry
	GET  /v1/nodes/{id}          node detail, optional heartbeat history
	PUT  /v1/nodes/{id}/policy   replace a node's policy
	GET  /v1/cluster/summary     fleet rollup with effective capacity
	POST /v1/simulate/schedule   dry-run placement with reasons

Agent plane (shared secret enforced when configured):

	POST /v1/agent/register      enroll or refresh a node
	POST /v1/agent/heartbeat     liveness + metrics sample
	POST /v1/tasks/pull          lease the next eligible task
	POST /v1/tasks/{id}/result   report an execution outcome

Jobs:

	POST /v1/jobs                create a job (count or explicit payloads)
	GET  /v1/jobs                list with status/type/node filters
	GET  /v1/jobs/{id}           job with progress counters
	GET  /v1/jobs/{id}/tasks     the job's tasks
	POST /v1/jobs/{id}/status    operator transition (cancel)
	GET  /v1/metrics/execution   duration/reliability rollups
	POST /v1/demo/jobs/create-embed-burst   seed demo load

Event streams:

	GET  /v1/stream/nodes        SSE of node updates
	GET  /v1/stream/jobs         SSE of job updates

# Usage

Creating and Starting:

	srv := api.NewServer(store, repo, broker, api.Options{
		Addr:         "0.0.0.0:8000",
		CORSOrigins:  []string{"*"},
		SharedSecret: os.Getenv("EDGE_MESH_SHARED_SECRET"),
		PollSeconds:  2,
		LeaseSeconds: 30,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal(err)
		}
	}()

	// later
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

In Tests (no listener):

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

# Error Envelope

Every non-2xx response carries one shape:

	{"error": {"kind": "not_found", "message": "node ghost not registered"}}

Kinds map to status codes: bad_request=400, unauthorized=401,
not_found=404, conflict=409, internal=500. Repository sentinels
(ErrNotFound, ErrConflict) translate automatically; anything unmapped
is logged once here and surfaces as internal.

# SSE Streams

Streams emit identifier envelopes, not full resources:

	event: job_update
	data: {"job_id":"job-123","drop_count":0}

Clients re-fetch the resource for current state. drop_count is
cumulative for the subscription; a rising value tells the client it
missed intermediate updates and should refresh. A comment line goes
out every 15 seconds of silence to hold the connection open, and the
handler clears the server WriteTimeout for its own response, since a
long-lived stream would otherwise be severed.

# Shared Secret

The gate covers exactly the agent plane (/v1/agent/*, /v1/tasks/*).
Operator reads and job management stay open on the trusted LAN.
Comparison is constant-time. An empty configured secret disables the
gate, which is the expected state for a closed home network.

# Metrics Instrumentation

The logging middleware feeds two Prometheus series per request:

  - edgemesh_api_requests_total{method,status}
  - edgemesh_api_request_duration_seconds{method}

Stream endpoints are excluded from both: a connection held open for
an hour is not a latency sample.

# Integration Points

This package integrates with:

  - pkg/repository: Every handler delegates state changes here
  - pkg/events: Streams bridge broker subscriptions onto SSE
  - pkg/metrics: Request metrics, /metrics and /ready handlers
  - pkg/storage: Readiness handler pings the database
  - pkg/scheduler: Simulate and summary read placement logic

# Design Patterns

Thin Handler Pattern:
  - Handlers decode, validate, delegate, encode
  - No business logic in this package
  - The repository is the only state mutator

Uniform Error Pattern:
  - One envelope for every failure
  - Kind strings form part of the API contract
  - Clients switch on kind, never parse messages

Method Pattern Routing:
  - Go 1.22 ServeMux patterns ("POST /v1/tasks/{id}/result")
  - PathValue for identifiers, no routing dependency

Middleware Chain Pattern:
  - logging, CORS, secret gate wrap the mux in fixed order
  - Handler() exposes the full chain for tests and embedding

# Performance Characteristics

Request Handling:
  - JSON decode/encode dominates handler cost
  - Typical LAN round trip: single-digit milliseconds
  - Read timeout 5s, write timeout 10s (streams exempt)

Streams:
  - One goroutine per open stream
  - Bounded per-subscriber queue (64 events)
  - Slow dashboards shed oldest events, never block writers

# Troubleshooting

Common Issues:

401 on Agent Calls:
  - Symptom: unauthorized despite correct traffic
  - Check: Secret configured on coordinator but not the agent
  - Check: Whitespace in the secret env var (both sides trim)

Stream Goes Silent:
  - Symptom: No events, connection still open
  - Check: keep-alive comments arriving every 15s
  - If absent: A proxy between client and coordinator buffers SSE;
    connect directly or disable response buffering

CORS Failures in Browsers:
  - Symptom: Preflight rejected
  - Check: Origin listed in CORSOrigins, or "*" for development

404 With Correct Path:
  - Symptom: not_found for a known route
  - Check: Method matters ("GET /v1/jobs" vs "POST /v1/jobs")

# See Also

  - pkg/repository for the semantics behind each endpoint
  - pkg/client for the Go client covering this surface
  - pkg/events for stream delivery guarantees
*/
package api
