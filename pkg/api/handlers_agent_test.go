package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/edgemesh/pkg/types"
)

func TestHeartbeatEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.registerNode(t, "mac-mini-01")

	rec := env.do(t, http.MethodPost, "/v1/agent/heartbeat", types.HeartbeatRequest{
		NodeID:  "mac-mini-01",
		Metrics: types.NodeMetrics{CPUPercent: 35, RAMPercent: 40, RunningJobs: 1},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp types.HeartbeatResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "mac-mini-01", resp.NodeID)
	assert.Equal(t, types.NodeStatusOnline, resp.NodeView)
	assert.NotEmpty(t, resp.SeenAt)

	// Heartbeats from unregistered nodes are rejected, they must register
	// first.
	rec = env.do(t, http.MethodPost, "/v1/agent/heartbeat", types.HeartbeatRequest{
		NodeID: "ghost",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, kindNotFound, errorKind(t, rec))

	rec = env.do(t, http.MethodPost, "/v1/agent/heartbeat", types.HeartbeatRequest{
		NodeID:  "mac-mini-01",
		Metrics: types.NodeMetrics{CPUPercent: 150},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPullValidation(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodPost, "/v1/tasks/pull", types.PullRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, kindBadRequest, errorKind(t, rec))

	// Unknown callers get an empty pull, not an error.
	rec = env.do(t, http.MethodPost, "/v1/tasks/pull", types.PullRequest{NodeID: "ghost"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.PullResponse
	decodeBody(t, rec, &resp)
	assert.Nil(t, resp.Task)
}

func TestSubmitResultValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.registerNode(t, "mac-mini-01")

	rec := env.do(t, http.MethodPost, "/v1/tasks/task-nope/result", types.SubmitResultRequest{
		NodeID: "mac-mini-01", Success: true, DurationMS: 10,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, kindNotFound, errorKind(t, rec))

	rec = env.do(t, http.MethodPost, "/v1/tasks/task-nope/result", types.SubmitResultRequest{
		NodeID: "mac-mini-01", Success: true, DurationMS: -5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tasks/task-nope/result", types.SubmitResultRequest{
		Success: true, DurationMS: 10,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestAgentLifecycleOverHTTP drives one job from creation to completion the
// way a real agent would: register, heartbeat, pull, report, repeat.
func TestAgentLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.registerNode(t, "mac-mini-01")
	env.heartbeat(t, "mac-mini-01", 0)

	rec := env.do(t, http.MethodPost, "/v1/jobs", types.CreateJobRequest{
		Type:      "EMBED",
		TaskCount: 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job types.Job
	decodeBody(t, rec, &job)
	assert.Equal(t, types.TaskTypeEmbeddings, job.Type)
	assert.Equal(t, types.JobStatusQueued, job.Status)
	assert.Equal(t, 2, job.TotalTasks)

	for i := 0; i < 2; i++ {
		rec = env.do(t, http.MethodPost, "/v1/tasks/pull", types.PullRequest{NodeID: "mac-mini-01"})
		require.Equal(t, http.StatusOK, rec.Code)

		var pull types.PullResponse
		decodeBody(t, rec, &pull)
		require.NotNil(t, pull.Task, "pull %d", i)
		assert.Equal(t, job.ID, pull.Task.JobID)
		assert.Equal(t, types.TaskStatusRunning, pull.Task.Status)
		assert.Equal(t, "mac-mini-01", pull.Task.AssignedNodeID)

		rec = env.do(t, http.MethodPost, "/v1/tasks/"+pull.Task.ID+"/result", types.SubmitResultRequest{
			NodeID:     "mac-mini-01",
			Success:    true,
			DurationMS: 120,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var submit types.SubmitResultResponse
		decodeBody(t, rec, &submit)
		assert.Equal(t, "ok", submit.Accepted)
		assert.Equal(t, types.TaskStatusSucceeded, submit.Task.Status)
	}

	rec = env.do(t, http.MethodGet, "/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &job)
	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.CompletedTasks)
	assert.Equal(t, []string{"mac-mini-01"}, job.AssignedNodes)
	require.NotNil(t, job.CompletedAt)

	// The queue is drained.
	rec = env.do(t, http.MethodPost, "/v1/tasks/pull", types.PullRequest{NodeID: "mac-mini-01"})
	require.Equal(t, http.StatusOK, rec.Code)

	var pull types.PullResponse
	decodeBody(t, rec, &pull)
	assert.Nil(t, pull.Task)

	rec = env.do(t, http.MethodGet, "/v1/metrics/execution", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var exec types.ExecutionMetrics
	decodeBody(t, rec, &exec)
	assert.Equal(t, 2, exec.TotalResults)
	assert.Equal(t, 2, exec.SuccessResults)
	assert.InDelta(t, 1.0, exec.NodeReliability["mac-mini-01"], 1e-9)
}
