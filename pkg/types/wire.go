package types

import (
	"encoding/json"
	"fmt"
)

// RegisterRequest is the agent registration payload. Policy is optional;
// when omitted the node keeps its stored policy, or the default for a new
// node.
type RegisterRequest struct {
	NodeID       string           `json:"node_id"`
	DisplayName  string           `json:"display_name"`
	IP           string           `json:"ip"`
	Port         int              `json:"port"`
	Capabilities NodeCapabilities `json:"capabilities"`
	Policy       *NodePolicy      `json:"policy,omitempty"`
}

// Validate checks the identity fields an agent must always carry
func (r RegisterRequest) Validate() error {
	if r.NodeID == "" || len(r.NodeID) > 128 {
		return fmt.Errorf("node_id must be 1-128 characters")
	}
	if r.DisplayName == "" || len(r.DisplayName) > 256 {
		return fmt.Errorf("display_name must be 1-256 characters")
	}
	if r.IP == "" || len(r.IP) > 64 {
		return fmt.Errorf("ip must be 1-64 characters")
	}
	if r.Port < 0 || r.Port > 65535 {
		return fmt.Errorf("port must be within [0,65535], got %d", r.Port)
	}
	return nil
}

// RegisterResponse echoes the stored node and the polling cadence the
// coordinator expects from the agent.
type RegisterResponse struct {
	Node                *Node `json:"node"`
	PollIntervalSeconds int   `json:"poll_interval_seconds"`
	LeaseSeconds        int   `json:"lease_seconds"`
}

// HeartbeatRequest is the periodic liveness and load report
type HeartbeatRequest struct {
	NodeID  string      `json:"node_id"`
	Metrics NodeMetrics `json:"metrics"`
}

// Validate checks metric ranges
func (r HeartbeatRequest) Validate() error {
	if r.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	m := r.Metrics
	if m.CPUPercent < 0 || m.CPUPercent > 100 {
		return fmt.Errorf("cpu_percent must be within [0,100], got %g", m.CPUPercent)
	}
	if m.RAMPercent < 0 || m.RAMPercent > 100 {
		return fmt.Errorf("ram_percent must be within [0,100], got %g", m.RAMPercent)
	}
	if m.GPUPercent != nil && (*m.GPUPercent < 0 || *m.GPUPercent > 100) {
		return fmt.Errorf("gpu_percent must be within [0,100], got %g", *m.GPUPercent)
	}
	if m.RunningJobs < 0 {
		return fmt.Errorf("running_jobs must be >= 0, got %d", m.RunningJobs)
	}
	return nil
}

// HeartbeatResponse acknowledges a heartbeat
type HeartbeatResponse struct {
	Status   string     `json:"status"`
	NodeID   string     `json:"node_id"`
	SeenAt   string     `json:"seen_at"`
	NodeView NodeStatus `json:"node_status"`
}

// TaskSpec describes one task inside a job submission
type TaskSpec struct {
	Payload    json.RawMessage `json:"payload"`
	MaxRetries *int            `json:"max_retries,omitempty"`
}

// CreateJobRequest is the job submission payload. Either Tasks carries
// explicit payloads, or TaskCount asks for generated index payloads.
// PayloadItems is a convenience that expands each string into one task.
// Type and TaskType are synonyms; agents and older clients send task_type.
type CreateJobRequest struct {
	Type           string     `json:"type,omitempty"`
	TaskType       string     `json:"task_type,omitempty"`
	Tasks          []TaskSpec `json:"tasks,omitempty"`
	TaskCount      int        `json:"task_count,omitempty"`
	PayloadItems   []string   `json:"payload_items,omitempty"`
	PayloadRef     string     `json:"payload_ref,omitempty"`
	MaxTaskRetries *int       `json:"max_task_retries,omitempty"`
}

// ResolveType returns the canonical task type named by the request
func (r CreateJobRequest) ResolveType() (TaskType, error) {
	raw := r.Type
	if raw == "" {
		raw = r.TaskType
	}
	if raw == "" {
		return "", fmt.Errorf("type is required")
	}
	return ParseTaskType(raw)
}

// JobStatusUpdateRequest is the operator transition payload
type JobStatusUpdateRequest struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PullRequest asks for one leased task on behalf of a node
type PullRequest struct {
	NodeID string `json:"node_id"`
}

// PullResponse carries the leased task, or null when nothing is eligible
type PullResponse struct {
	Task *Task `json:"task"`
}

// SubmitResultRequest reports one task execution outcome
type SubmitResultRequest struct {
	NodeID     string          `json:"node_id"`
	Success    bool            `json:"success"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// Validate checks result fields
func (r SubmitResultRequest) Validate() error {
	if r.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if r.DurationMS < 0 {
		return fmt.Errorf("duration_ms must be >= 0, got %d", r.DurationMS)
	}
	return nil
}

// SubmitResultResponse returns the task and job after applying a result.
// Accepted is "ok" for the authoritative outcome and "stale" when the
// report arrived from a node that lost its lease.
type SubmitResultResponse struct {
	Task     *Task  `json:"task"`
	Job      *Job   `json:"job"`
	Accepted string `json:"accepted"`
}

// ClusterSummary aggregates the registry into one dashboard row
type ClusterSummary struct {
	TotalNodes               int              `json:"total_nodes"`
	OnlineNodes              int              `json:"online_nodes"`
	StaleNodes               int              `json:"stale_nodes"`
	OfflineNodes             int              `json:"offline_nodes"`
	UnknownNodes             int              `json:"unknown_nodes"`
	TotalEffectiveCPUThreads float64          `json:"total_effective_cpu_threads"`
	TotalEffectiveRAMGB      float64          `json:"total_effective_ram_gb"`
	TotalEffectiveVRAMGB     float64          `json:"total_effective_vram_gb"`
	ActiveRunningJobsTotal   int              `json:"active_running_jobs_total"`
	EligibleNodesByType      map[TaskType]int `json:"eligible_nodes_by_type"`
}

// SimulateRequest is a dry-run scheduling question
type SimulateRequest struct {
	TaskType    string `json:"task_type"`
	RequiresGPU bool   `json:"requires_gpu,omitempty"`
}

// CandidateScore explains one node's standing for a simulated placement
type CandidateScore struct {
	NodeID   string   `json:"node_id"`
	Eligible bool     `json:"eligible"`
	Score    float64  `json:"score"`
	Reasons  []string `json:"reasons"`
}

// SimulateResponse ranks every known node for a hypothetical task
type SimulateResponse struct {
	TaskType         TaskType         `json:"task_type"`
	ChosenNodeID     *string          `json:"chosen_node_id"`
	Reason           string           `json:"reason,omitempty"`
	RankedCandidates []CandidateScore `json:"ranked_candidates"`
}

// DurationStats summarizes result durations for one slice of the history
type DurationStats struct {
	Total            int      `json:"total"`
	Success          int      `json:"success"`
	Failed           int      `json:"failed"`
	AvgDurationMS    *float64 `json:"avg_duration_ms"`
	MedianDurationMS *float64 `json:"median_duration_ms"`
	P95DurationMS    *float64 `json:"p95_duration_ms"`
}

// ExecutionMetrics is the aggregate view over all recorded results
type ExecutionMetrics struct {
	TotalResults             int                        `json:"total_results"`
	SuccessResults           int                        `json:"success_results"`
	FailedResults            int                        `json:"failed_results"`
	AvgDurationMS            *float64                   `json:"avg_duration_ms"`
	MedianDurationMS         *float64                   `json:"median_duration_ms"`
	P95DurationMS            *float64                   `json:"p95_duration_ms"`
	ThroughputTasksPerMinute float64                    `json:"throughput_tasks_per_minute"`
	NodeReliability          map[string]float64         `json:"node_reliability"`
	PerType                  map[TaskType]DurationStats `json:"per_type"`
}

// DemoBurstResponse reports the jobs created by the embed-burst helper and
// a snapshot of their progress right after creation.
type DemoBurstResponse struct {
	CreatedCount   int    `json:"created_count"`
	AssignedCount  int    `json:"assigned_count"`
	QueuedCount    int    `json:"queued_count"`
	RunningCount   int    `json:"running_count"`
	CompletedCount int    `json:"completed_count"`
	FailedCount    int    `json:"failed_count"`
	Jobs           []*Job `json:"jobs"`
}
