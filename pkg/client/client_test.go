package client

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/edgemesh/pkg/api"
	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/repository"
	"github.com/edgemesh/edgemesh/pkg/storage"
	"github.com/edgemesh/edgemesh/pkg/types"
)

const testSecret = "lan-party"

// newTestServer runs the real coordinator API in-process so the client is
// exercised against actual routing, headers and error envelopes.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "coordinator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Migrate(t.Context())
	require.NoError(t, err)

	broker := events.NewBroker()
	repo := repository.New(store, broker, repository.Options{})
	srv := api.NewServer(store, repo, broker, api.Options{SharedSecret: testSecret})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func register(t *testing.T, c *Client, id string) {
	t.Helper()
	_, err := c.Register(types.RegisterRequest{
		NodeID:      id,
		DisplayName: "Node " + id,
		IP:          "192.168.1.20",
		Port:        8001,
		Capabilities: types.NodeCapabilities{
			CPUThreads: 8,
			RAMTotalGB: 16,
		},
	})
	require.NoError(t, err)
}

func TestClientAgentFlow(t *testing.T) {
	ts := newTestServer(t)
	c := NewWithSecret(ts.URL, testSecret)

	require.NoError(t, c.Health())

	reg, err := c.Register(types.RegisterRequest{
		NodeID:      "mac-mini-01",
		DisplayName: "Mac mini",
		IP:          "192.168.1.20",
		Port:        8001,
		Capabilities: types.NodeCapabilities{
			CPUThreads: 8,
			RAMTotalGB: 16,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "mac-mini-01", reg.Node.Identity.NodeID)
	assert.Equal(t, 2, reg.PollIntervalSeconds)

	hb, err := c.Heartbeat(types.HeartbeatRequest{
		NodeID: "mac-mini-01",
		Metrics: types.NodeMetrics{
			CPUPercent: 20,
			RAMUsedGB:  4,
			RAMPercent: 25,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "accepted", hb.Status)

	job, err := c.CreateJob(types.CreateJobRequest{
		Type:      "EMBEDDINGS",
		TaskCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusQueued, job.Status)

	task, err := c.PullTask("mac-mini-01")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, job.ID, task.JobID)

	result, err := c.SubmitResult(task.ID, types.SubmitResultRequest{
		NodeID:     "mac-mini-01",
		Success:    true,
		DurationMS: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Accepted)
	assert.Equal(t, types.JobStatusCompleted, result.Job.Status)

	// Queue drained
	task, err = c.PullTask("mac-mini-01")
	require.NoError(t, err)
	assert.Nil(t, task)

	metrics, err := c.ExecutionMetrics()
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalResults)
	assert.Equal(t, 1, metrics.SuccessResults)
}

func TestClientOperatorReads(t *testing.T) {
	ts := newTestServer(t)
	c := NewWithSecret(ts.URL, testSecret)
	register(t, c, "rpi-01")

	nodes, err := c.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "rpi-01", nodes[0].Identity.NodeID)

	_, err = c.Heartbeat(types.HeartbeatRequest{NodeID: "rpi-01"})
	require.NoError(t, err)

	detail, err := c.GetNode("rpi-01", 10)
	require.NoError(t, err)
	assert.Equal(t, "rpi-01", detail.Node.Identity.NodeID)
	assert.Len(t, detail.MetricsHistory, 1)

	node, err := c.SetNodePolicy("rpi-01", types.NodePolicy{
		Enabled:       true,
		MaxConcurrent: 2,
		CPUCapPercent: 80,
		RAMCapPercent: 80,
		TaskAllowlist: []types.TaskType{types.TaskTypeEmbeddings},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, node.Policy.MaxConcurrent)

	summary, err := c.ClusterSummary()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalNodes)
	assert.Equal(t, 1, summary.OnlineNodes)

	sim, err := c.SimulateSchedule("EMBEDDINGS", false)
	require.NoError(t, err)
	require.NotNil(t, sim.ChosenNodeID)
	assert.Equal(t, "rpi-01", *sim.ChosenNodeID)

	job, err := c.CreateJob(types.CreateJobRequest{Type: "INFERENCE", TaskCount: 2})
	require.NoError(t, err)

	jobs, err := c.ListJobs("QUEUED", "", "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	fetched, err := c.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fetched.TotalTasks)

	tasks, err := c.JobTasks(job.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	cancelled, err := c.UpdateJobStatus(job.ID, "CANCELLED", "operator changed plans")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, cancelled.Status)

	burst, err := c.CreateEmbedBurst(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, burst.CreatedCount)
	require.Len(t, burst.Jobs, 2)
	assert.Equal(t, 3, burst.Jobs[0].TotalTasks)
}

func TestClientErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)
	c := NewWithSecret(ts.URL, testSecret)

	_, err := c.GetNode("ghost", 0)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_found", apiErr.Kind)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = c.CreateJob(types.CreateJobRequest{Type: "TRANSCODE"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad_request", apiErr.Kind)

	// Missing secret on a protected endpoint
	open := New(ts.URL)
	_, err = open.PullTask("anyone")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "unauthorized", apiErr.Kind)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	// Open endpoints still work without the secret
	_, err = open.ListNodes()
	require.NoError(t, err)
}
