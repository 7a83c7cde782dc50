package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskType classifies the work a task carries
type TaskType string

const (
	TaskTypeInference  TaskType = "INFERENCE"
	TaskTypeEmbeddings TaskType = "EMBEDDINGS"
	TaskTypeIndex      TaskType = "INDEX"
	TaskTypeTokenize   TaskType = "TOKENIZE"
	TaskTypePreprocess TaskType = "PREPROCESS"
)

// AllTaskTypes returns every supported task type in declaration order
func AllTaskTypes() []TaskType {
	return []TaskType{
		TaskTypeInference,
		TaskTypeEmbeddings,
		TaskTypeIndex,
		TaskTypeTokenize,
		TaskTypePreprocess,
	}
}

// taskTypeAliases maps accepted spellings to canonical task types
var taskTypeAliases = map[string]TaskType{
	"INFER":         TaskTypeInference,
	"INFERENCE":     TaskTypeInference,
	"EMBED":         TaskTypeEmbeddings,
	"EMBEDDING":     TaskTypeEmbeddings,
	"EMBEDDINGS":    TaskTypeEmbeddings,
	"INDEX":         TaskTypeIndex,
	"TOKENIZE":      TaskTypeTokenize,
	"PREPROCESS":    TaskTypePreprocess,
	"PREPROCESSING": TaskTypePreprocess,
}

// ParseTaskType normalizes a raw task type string, accepting known aliases
func ParseTaskType(raw string) (TaskType, error) {
	tt, ok := taskTypeAliases[strings.ToUpper(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("unsupported task type %q", raw)
	}
	return tt, nil
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// ParseJobStatus normalizes a raw job status string
func ParseJobStatus(raw string) (JobStatus, error) {
	switch JobStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case JobStatusQueued:
		return JobStatusQueued, nil
	case JobStatusRunning:
		return JobStatusRunning, nil
	case JobStatusCompleted:
		return JobStatusCompleted, nil
	case JobStatusFailed:
		return JobStatusFailed, nil
	case JobStatusCancelled:
		return JobStatusCancelled, nil
	}
	return "", fmt.Errorf("unsupported job status %q", raw)
}

// Terminal reports whether the status admits no further transitions
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// AllJobStatuses returns the lifecycle states in progression order
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusQueued,
		JobStatusRunning,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}
}

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "QUEUED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// Terminal reports whether the task reached a final state
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// AllTaskStatuses returns the lifecycle states in progression order
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusQueued,
		TaskStatusRunning,
		TaskStatusSucceeded,
		TaskStatusFailed,
	}
}

// AllNodeStatuses returns the reachability states
func AllNodeStatuses() []NodeStatus {
	return []NodeStatus{
		NodeStatusOnline,
		NodeStatusStale,
		NodeStatusOffline,
		NodeStatusUnknown,
	}
}

// NodeStatus represents the reachability state of a node
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "ONLINE"
	NodeStatusStale   NodeStatus = "STALE"
	NodeStatusOffline NodeStatus = "OFFLINE"
	NodeStatusUnknown NodeStatus = "UNKNOWN"
)

// NodeIdentity is the agent-chosen identity, stable across restarts
type NodeIdentity struct {
	NodeID      string `json:"node_id"`
	DisplayName string `json:"display_name"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
}

// NodeCapabilities are the static facts a node declares at registration
type NodeCapabilities struct {
	TaskTypes   []TaskType `json:"task_types"`
	Labels      []string   `json:"labels,omitempty"`
	HasGPU      bool       `json:"has_gpu"`
	CPUCores    int        `json:"cpu_cores,omitempty"`
	CPUThreads  int        `json:"cpu_threads,omitempty"`
	RAMTotalGB  float64    `json:"ram_total_gb,omitempty"`
	GPUName     string     `json:"gpu_name,omitempty"`
	VRAMTotalGB *float64   `json:"vram_total_gb,omitempty"`
	OS          string     `json:"os,omitempty"`
	Arch        string     `json:"arch,omitempty"`
}

// Normalize fills derived capability fields: a GPU name or VRAM figure
// implies has_gpu, and an empty task type list means every type is supported.
func (c *NodeCapabilities) Normalize() {
	if c.GPUName != "" || c.VRAMTotalGB != nil {
		c.HasGPU = true
	}
	if len(c.TaskTypes) == 0 {
		c.TaskTypes = AllTaskTypes()
	}
}

// Supports reports whether the node declared support for the task type
func (c NodeCapabilities) Supports(tt TaskType) bool {
	for _, t := range c.TaskTypes {
		if t == tt {
			return true
		}
	}
	return false
}

// NodeMetrics is the last dynamic sample reported by a heartbeat.
// RunningJobs is the node's self-reported inflight task count; the scheduler
// trusts it rather than counting leases.
type NodeMetrics struct {
	CPUPercent  float64   `json:"cpu_percent"`
	RAMUsedGB   float64   `json:"ram_used_gb"`
	RAMPercent  float64   `json:"ram_percent"`
	GPUPercent  *float64  `json:"gpu_percent,omitempty"`
	VRAMUsedGB  *float64  `json:"vram_used_gb,omitempty"`
	RunningJobs int       `json:"running_jobs"`
	HeartbeatTS time.Time `json:"heartbeat_ts"`
}

// NodePolicy holds the operator-controlled caps that narrow eligibility
type NodePolicy struct {
	Enabled       bool       `json:"enabled"`
	MaxConcurrent int        `json:"max_concurrent"`
	CPUCapPercent int        `json:"cpu_cap_percent"`
	RAMCapPercent int        `json:"ram_cap_percent"`
	GPUCapPercent *int       `json:"gpu_cap_percent,omitempty"`
	TaskAllowlist []TaskType `json:"task_allowlist"`
}

// DefaultPolicy returns the policy applied to nodes that never set one:
// enabled, every task type allowed, one task at a time, ceilings wide open.
func DefaultPolicy() NodePolicy {
	return NodePolicy{
		Enabled:       true,
		MaxConcurrent: 1,
		CPUCapPercent: 100,
		RAMCapPercent: 100,
		TaskAllowlist: AllTaskTypes(),
	}
}

// Validate checks cap ranges
func (p NodePolicy) Validate() error {
	if p.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must be >= 0, got %d", p.MaxConcurrent)
	}
	if p.CPUCapPercent < 0 || p.CPUCapPercent > 100 {
		return fmt.Errorf("cpu_cap_percent must be within [0,100], got %d", p.CPUCapPercent)
	}
	if p.RAMCapPercent < 0 || p.RAMCapPercent > 100 {
		return fmt.Errorf("ram_cap_percent must be within [0,100], got %d", p.RAMCapPercent)
	}
	if p.GPUCapPercent != nil && (*p.GPUCapPercent < 0 || *p.GPUCapPercent > 100) {
		return fmt.Errorf("gpu_cap_percent must be within [0,100], got %d", *p.GPUCapPercent)
	}
	for _, tt := range p.TaskAllowlist {
		if _, err := ParseTaskType(string(tt)); err != nil {
			return err
		}
	}
	return nil
}

// Allows reports whether the policy admits the task type
func (p NodePolicy) Allows(tt TaskType) bool {
	for _, t := range p.TaskAllowlist {
		if t == tt {
			return true
		}
	}
	return false
}

// Node is the registry view of one worker
type Node struct {
	Identity     NodeIdentity     `json:"identity"`
	Capabilities NodeCapabilities `json:"capabilities"`
	Metrics      NodeMetrics      `json:"metrics"`
	Policy       NodePolicy       `json:"policy"`
	Status       NodeStatus       `json:"status"`
	LastSeen     time.Time        `json:"last_seen"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NodeDetail is a node plus its recent heartbeat samples
type NodeDetail struct {
	Node           *Node         `json:"node"`
	MetricsHistory []NodeMetrics `json:"metrics_history,omitempty"`
}

// Job is a user-submitted unit of work decomposed into tasks.
// The progress fields are derived from child tasks on every read; they are
// never stored.
type Job struct {
	ID          string     `json:"id"`
	Type        TaskType   `json:"type"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	TotalTasks     int      `json:"total_tasks"`
	CompletedTasks int      `json:"completed_tasks"`
	FailedTasks    int      `json:"failed_tasks"`
	TotalRetries   int      `json:"total_retries"`
	AssignedNodes  []string `json:"assigned_nodes"`
}

// Task is the smallest schedulable unit. Payload is opaque to the
// coordinator; only the scheduler inspects it for a requires_gpu flag.
type Task struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	Type           TaskType        `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Status         TaskStatus      `json:"status"`
	AssignedNodeID string          `json:"assigned_node_id,omitempty"`
	Retries        int             `json:"retries"`
	MaxRetries     int             `json:"max_retries"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Result is one append-only execution report for a task
type Result struct {
	ID         int64           `json:"id"`
	TaskID     string          `json:"task_id"`
	NodeID     string          `json:"node_id"`
	Success    bool            `json:"success"`
	Output     json.RawMessage `json:"output,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}
