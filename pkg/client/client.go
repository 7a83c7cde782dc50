package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edgemesh/edgemesh/pkg/types"
)

// requestTimeout bounds every API call
const requestTimeout = 10 * time.Second

// secretHeader must match the gate on the coordinator side
const secretHeader = "X-EdgeMesh-Secret"

// APIError is the coordinator's error envelope decoded from a non-2xx
// response. Kind carries the wire kind (bad_request, not_found, ...).
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

// Client talks to a coordinator over its HTTP API
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// New creates a client for the coordinator at baseURL
func New(baseURL string) *Client {
	return NewWithSecret(baseURL, "")
}

// NewWithSecret creates a client that also sends the cluster's shared
// secret, which the coordinator requires on agent and task endpoints.
func NewWithSecret(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{},
	}
}

// Health checks liveness
func (c *Client) Health() error {
	return c.do(http.MethodGet, "/health", nil, nil, nil)
}

// Ready checks readiness, including the coordinator's storage probe
func (c *Client) Ready() error {
	return c.do(http.MethodGet, "/ready", nil, nil, nil)
}

// Register announces a node to the coordinator and returns the stored node
// plus the polling cadence the coordinator expects.
func (c *Client) Register(req types.RegisterRequest) (*types.RegisterResponse, error) {
	var resp types.RegisterResponse
	if err := c.do(http.MethodPost, "/v1/agent/register", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat reports node liveness and load
func (c *Client) Heartbeat(req types.HeartbeatRequest) (*types.HeartbeatResponse, error) {
	var resp types.HeartbeatResponse
	if err := c.do(http.MethodPost, "/v1/agent/heartbeat", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PullTask asks for one leased task on behalf of nodeID. It returns nil
// when nothing is eligible; an empty queue is not an error.
func (c *Client) PullTask(nodeID string) (*types.Task, error) {
	var resp types.PullResponse
	req := types.PullRequest{NodeID: nodeID}
	if err := c.do(http.MethodPost, "/v1/tasks/pull", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// SubmitResult reports one task execution outcome
func (c *Client) SubmitResult(taskID string, req types.SubmitResultRequest) (*types.SubmitResultResponse, error) {
	var resp types.SubmitResultResponse
	path := fmt.Sprintf("/v1/tasks/%s/result", url.PathEscape(taskID))
	if err := c.do(http.MethodPost, path, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListNodes lists every registered node
func (c *Client) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	if err := c.do(http.MethodGet, "/v1/nodes", nil, nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetNode fetches one node. A positive historyLimit also returns up to that
// many recent heartbeat samples.
func (c *Client) GetNode(id string, historyLimit int) (*types.NodeDetail, error) {
	query := url.Values{}
	if historyLimit > 0 {
		query.Set("include_metrics_history", "true")
		query.Set("history_limit", strconv.Itoa(historyLimit))
	}
	var detail types.NodeDetail
	if err := c.do(http.MethodGet, "/v1/nodes/"+url.PathEscape(id), query, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// SetNodePolicy replaces a node's scheduling policy
func (c *Client) SetNodePolicy(id string, policy types.NodePolicy) (*types.Node, error) {
	var node types.Node
	path := fmt.Sprintf("/v1/nodes/%s/policy", url.PathEscape(id))
	if err := c.do(http.MethodPut, path, nil, policy, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// ClusterSummary returns the aggregate registry view
func (c *Client) ClusterSummary() (*types.ClusterSummary, error) {
	var summary types.ClusterSummary
	if err := c.do(http.MethodGet, "/v1/cluster/summary", nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// SimulateSchedule asks where a hypothetical task of taskType would land,
// without creating anything.
func (c *Client) SimulateSchedule(taskType string, requiresGPU bool) (*types.SimulateResponse, error) {
	req := types.SimulateRequest{TaskType: taskType, RequiresGPU: requiresGPU}
	var resp types.SimulateResponse
	if err := c.do(http.MethodPost, "/v1/simulate/schedule", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateJob submits a job for decomposition into tasks
func (c *Client) CreateJob(req types.CreateJobRequest) (*types.Job, error) {
	var job types.Job
	if err := c.do(http.MethodPost, "/v1/jobs", nil, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs, newest first. Empty filter values are ignored.
func (c *Client) ListJobs(status, taskType, nodeID string) ([]*types.Job, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if taskType != "" {
		query.Set("task_type", taskType)
	}
	if nodeID != "" {
		query.Set("node_id", nodeID)
	}
	var jobs []*types.Job
	if err := c.do(http.MethodGet, "/v1/jobs", query, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob fetches one job with derived progress
func (c *Client) GetJob(id string) (*types.Job, error) {
	var job types.Job
	if err := c.do(http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobTasks lists a job's tasks in index order
func (c *Client) JobTasks(id string) ([]*types.Task, error) {
	var tasks []*types.Task
	path := fmt.Sprintf("/v1/jobs/%s/tasks", url.PathEscape(id))
	if err := c.do(http.MethodGet, path, nil, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateJobStatus applies an operator transition, most commonly a cancel
func (c *Client) UpdateJobStatus(id, status, errorMsg string) (*types.Job, error) {
	req := types.JobStatusUpdateRequest{Status: status, Error: errorMsg}
	var job types.Job
	path := fmt.Sprintf("/v1/jobs/%s/status", url.PathEscape(id))
	if err := c.do(http.MethodPost, path, nil, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ExecutionMetrics returns duration and reliability aggregates over all
// recorded task results.
func (c *Client) ExecutionMetrics() (*types.ExecutionMetrics, error) {
	var m types.ExecutionMetrics
	if err := c.do(http.MethodGet, "/v1/metrics/execution", nil, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateEmbedBurst seeds demo EMBEDDINGS jobs for load and UI testing.
// Zero values fall back to the coordinator's defaults.
func (c *Client) CreateEmbedBurst(count, tasksPerJob int) (*types.DemoBurstResponse, error) {
	query := url.Values{}
	if count > 0 {
		query.Set("count", strconv.Itoa(count))
	}
	if tasksPerJob > 0 {
		query.Set("tasks_per_job", strconv.Itoa(tasksPerJob))
	}
	var resp types.DemoBurstResponse
	if err := c.do(http.MethodPost, "/v1/demo/jobs/create-embed-burst", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set(secretHeader, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError recovers the coordinator's error envelope. Responses that do
// not carry one (a proxy error page, the readiness body) fall back to the
// raw text.
func decodeError(status int, raw []byte) *APIError {
	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Kind != "" {
		envelope.Error.Status = status
		return &envelope.Error
	}
	return &APIError{
		Kind:    "http_error",
		Message: strings.TrimSpace(string(raw)),
		Status:  status,
	}
}
