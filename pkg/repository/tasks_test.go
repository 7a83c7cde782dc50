package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/types"
)

func pullMust(t *testing.T, repo *Repository, nodeID string) *types.Task {
	t.Helper()
	task, err := repo.PullTask(context.Background(), nodeID)
	require.NoError(t, err)
	require.NotNil(t, task, "expected a claim for %s", nodeID)
	return task
}

func submitMust(t *testing.T, repo *Repository, taskID, nodeID string, success bool, durationMS int64, errText string) *types.SubmitResultResponse {
	t.Helper()
	resp, err := repo.SubmitResult(context.Background(), taskID, types.SubmitResultRequest{
		NodeID: nodeID, Success: success, DurationMS: durationMS, Error: errText,
	})
	require.NoError(t, err)
	return resp
}

// TestPullHonorsReportedInflight tests that a single-slot node drains a
// three-task job one claim at a time, gated by its own heartbeats
func TestPullHonorsReportedInflight(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "mac-mini-01")
	heartbeatTestNode(t, repo, "mac-mini-01", 0)

	job, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf("", "", ""))
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		task := pullMust(t, repo, "mac-mini-01")
		assert.Equal(t, types.TaskStatusRunning, task.Status)
		assert.Equal(t, "mac-mini-01", task.AssignedNodeID)
		require.NotNil(t, task.LeaseExpiresAt)
		assert.False(t, seen[task.ID], "task %s claimed twice", task.ID)
		seen[task.ID] = true

		// while the slot is taken, an honest heartbeat blocks further claims
		heartbeatTestNode(t, repo, "mac-mini-01", 1)
		blocked, err := repo.PullTask(ctx, "mac-mini-01")
		require.NoError(t, err)
		assert.Nil(t, blocked)

		resp := submitMust(t, repo, task.ID, "mac-mini-01", true, 50, "")
		assert.Equal(t, "ok", resp.Accepted)
		assert.Equal(t, i+1, resp.Job.CompletedTasks)
		heartbeatTestNode(t, repo, "mac-mini-01", 0)
	}

	done, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, done.Status)
	assert.Equal(t, 3, done.CompletedTasks)
	require.NotNil(t, done.CompletedAt)

	idle, err := repo.PullTask(ctx, "mac-mini-01")
	require.NoError(t, err)
	assert.Nil(t, idle)
}

// TestPullPrefersLeastLoaded tests that the claim goes to the node the
// dry-run ranking would choose
func TestPullPrefersLeastLoaded(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "node-a")
	roomy := types.DefaultPolicy()
	roomy.MaxConcurrent = 4
	_, err := repo.SetPolicy(ctx, "node-a", roomy)
	require.NoError(t, err)
	heartbeatTestNode(t, repo, "node-a", 2)

	registerTestNode(t, repo, "node-b")
	heartbeatTestNode(t, repo, "node-b", 0)

	_, err = repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf(""))
	require.NoError(t, err)

	sim, err := repo.SimulateSchedule(ctx, types.TaskTypeEmbeddings, false)
	require.NoError(t, err)
	require.NotNil(t, sim.ChosenNodeID)
	assert.Equal(t, "node-b", *sim.ChosenNodeID)

	// the busier node asks first and is told to wait
	passed, err := repo.PullTask(ctx, "node-a")
	require.NoError(t, err)
	assert.Nil(t, passed)

	task := pullMust(t, repo, "node-b")
	assert.Equal(t, "node-b", task.AssignedNodeID)
}

// TestLeaseExpiryReclaim tests the silent-worker path: a lapsed lease costs
// one retry and requeues the task with no result row
func TestLeaseExpiryReclaim(t *testing.T) {
	repo, _, clk := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "mac-mini-01")
	heartbeatTestNode(t, repo, "mac-mini-01", 0)
	_, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf(""))
	require.NoError(t, err)

	task := pullMust(t, repo, "mac-mini-01")
	require.NotNil(t, task.LeaseExpiresAt)
	assert.Equal(t, testBase.Add(30*time.Second), *task.LeaseExpiresAt)

	// a live lease is left alone
	early, err := repo.ReclaimExpiredLeases(ctx, testBase.Add(29*time.Second))
	require.NoError(t, err)
	assert.Empty(t, early)

	clk.Advance(31 * time.Second)
	reclaimed, err := repo.ReclaimExpiredLeases(ctx, clk.Now())
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, task.ID, reclaimed[0].ID)
	assert.Equal(t, types.TaskStatusQueued, reclaimed[0].Status)
	assert.Equal(t, 1, reclaimed[0].Retries)
	assert.Empty(t, reclaimed[0].AssignedNodeID)
	assert.Nil(t, reclaimed[0].LeaseExpiresAt)
	assert.Equal(t, "lease_expired", reclaimed[0].Error)

	// the node never reported, so nothing landed in results
	metrics, err := repo.ExecutionMetrics(ctx)
	require.NoError(t, err)
	assert.Zero(t, metrics.TotalResults)

	// a second sweep at the same instant finds nothing
	again, err := repo.ReclaimExpiredLeases(ctx, clk.Now())
	require.NoError(t, err)
	assert.Empty(t, again)

	// the task is claimable again once the node is back
	heartbeatTestNode(t, repo, "mac-mini-01", 0)
	retry := pullMust(t, repo, "mac-mini-01")
	assert.Equal(t, task.ID, retry.ID)
	assert.Equal(t, 1, retry.Retries)
}

// TestRetryBudgetExhaustion tests that a task fails for good after
// max_retries+1 attempts and drags its job down with it
func TestRetryBudgetExhaustion(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "mac-mini-01")
	job, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf(""))
	require.NoError(t, err)

	attempts := 0
	var last *types.SubmitResultResponse
	for {
		heartbeatTestNode(t, repo, "mac-mini-01", 0)
		task, err := repo.PullTask(ctx, "mac-mini-01")
		require.NoError(t, err)
		if task == nil {
			break
		}
		attempts++
		require.LessOrEqual(t, task.Retries, task.MaxRetries)
		last = submitMust(t, repo, task.ID, "mac-mini-01", false, 10, "boom")
	}

	assert.Equal(t, 3, attempts)
	require.NotNil(t, last)
	assert.Equal(t, types.TaskStatusFailed, last.Task.Status)
	assert.Equal(t, 2, last.Task.Retries)
	assert.Equal(t, "boom", last.Task.Error)
	require.NotNil(t, last.Task.CompletedAt)
	// the final claimant stays on record
	assert.Equal(t, "mac-mini-01", last.Task.AssignedNodeID)

	failed, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
	assert.Equal(t, 1, failed.FailedTasks)
	assert.Equal(t, 2, failed.TotalRetries)
	require.NotNil(t, failed.CompletedAt)
}

// TestPolicyImmediacy tests that a policy write is honored on the very next
// pull with no grace period
func TestPolicyImmediacy(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "mac-mini-01")
	heartbeatTestNode(t, repo, "mac-mini-01", 0)
	_, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf(""))
	require.NoError(t, err)

	paused := types.DefaultPolicy()
	paused.MaxConcurrent = 0
	_, err = repo.SetPolicy(ctx, "mac-mini-01", paused)
	require.NoError(t, err)

	task, err := repo.PullTask(ctx, "mac-mini-01")
	require.NoError(t, err)
	assert.Nil(t, task)

	disabled := types.DefaultPolicy()
	disabled.Enabled = false
	_, err = repo.SetPolicy(ctx, "mac-mini-01", disabled)
	require.NoError(t, err)

	task, err = repo.PullTask(ctx, "mac-mini-01")
	require.NoError(t, err)
	assert.Nil(t, task)

	_, err = repo.SetPolicy(ctx, "mac-mini-01", types.DefaultPolicy())
	require.NoError(t, err)
	pullMust(t, repo, "mac-mini-01")
}

// TestResultAppendOnly tests that every report is kept while only the lease
// holder's first report moves the task
func TestResultAppendOnly(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "node-a")
	registerTestNode(t, repo, "node-b")
	heartbeatTestNode(t, repo, "node-a", 0)
	heartbeatTestNode(t, repo, "node-b", 9)

	_, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf("", ""))
	require.NoError(t, err)

	first := pullMust(t, repo, "node-a")
	ok := submitMust(t, repo, first.ID, "node-a", true, 20, "")
	assert.Equal(t, "ok", ok.Accepted)
	completedAt := ok.Task.CompletedAt
	require.NotNil(t, completedAt)

	// duplicate report on a finished task: recorded, ignored
	dup := submitMust(t, repo, first.ID, "node-a", true, 21, "")
	assert.Equal(t, "stale", dup.Accepted)
	assert.Equal(t, types.TaskStatusSucceeded, dup.Task.Status)
	assert.Equal(t, *completedAt, *dup.Task.CompletedAt)

	// report from a node that does not hold the lease: recorded, ignored
	heartbeatTestNode(t, repo, "node-a", 0)
	second := pullMust(t, repo, "node-a")
	hijack := submitMust(t, repo, second.ID, "node-b", true, 22, "")
	assert.Equal(t, "stale", hijack.Accepted)
	assert.Equal(t, types.TaskStatusRunning, hijack.Task.Status)
	assert.Equal(t, "node-a", hijack.Task.AssignedNodeID)

	metrics, err := repo.ExecutionMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, metrics.TotalResults)

	_, err = repo.SubmitResult(ctx, "task-missing", types.SubmitResultRequest{NodeID: "node-a", Success: true})
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestAtMostOneRunner tests that concurrent pulls for the same queue yield
// exactly one claim
func TestAtMostOneRunner(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "mac-mini-01")
	heartbeatTestNode(t, repo, "mac-mini-01", 0)
	_, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf(""))
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims []*types.Task
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := repo.PullTask(ctx, "mac-mini-01")
			assert.NoError(t, err)
			if task != nil {
				mu.Lock()
				claims = append(claims, task)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claims, 1)
	assert.Equal(t, types.TaskStatusRunning, claims[0].Status)
}

// TestPullRequiresKnownOnlineCaller tests the caller-side gates
func TestPullRequiresKnownOnlineCaller(t *testing.T) {
	repo, _, clk := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf(""))
	require.NoError(t, err)

	// never registered
	task, err := repo.PullTask(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, task)

	// registered but demoted for silence
	registerTestNode(t, repo, "mac-mini-01")
	clk.Advance(90 * time.Second)
	_, err = repo.SweepStaleNodes(ctx, clk.Now())
	require.NoError(t, err)

	task, err = repo.PullTask(ctx, "mac-mini-01")
	require.NoError(t, err)
	assert.Nil(t, task)

	heartbeatTestNode(t, repo, "mac-mini-01", 0)
	pullMust(t, repo, "mac-mini-01")
}

// TestPullSkipsCancelledJobs tests that cancellation fences queued work
func TestPullSkipsCancelledJobs(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "mac-mini-01")
	heartbeatTestNode(t, repo, "mac-mini-01", 0)

	cancelled, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf(""))
	require.NoError(t, err)
	_, err = repo.TransitionJobStatus(ctx, cancelled.ID, types.JobStatusCancelled, "")
	require.NoError(t, err)

	task, err := repo.PullTask(ctx, "mac-mini-01")
	require.NoError(t, err)
	assert.Nil(t, task)

	live, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf(""))
	require.NoError(t, err)
	claimed := pullMust(t, repo, "mac-mini-01")
	assert.Equal(t, live.ID, claimed.JobID)
}

// TestPullRespectsTaskTypeFences tests capability and allowlist filtering
func TestPullRespectsTaskTypeFences(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertNode(ctx, types.RegisterRequest{
		NodeID: "infer-only", DisplayName: "Inference box", IP: "192.168.1.40", Port: 8001,
		Capabilities: types.NodeCapabilities{
			TaskTypes:  []types.TaskType{types.TaskTypeInference},
			CPUThreads: 8, RAMTotalGB: 16,
		},
	})
	require.NoError(t, err)
	heartbeatTestNode(t, repo, "infer-only", 0)

	_, err = repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf(""))
	require.NoError(t, err)

	task, err := repo.PullTask(ctx, "infer-only")
	require.NoError(t, err)
	assert.Nil(t, task)

	// a policy allowlist fences the same way even with broad capabilities
	registerTestNode(t, repo, "fenced")
	heartbeatTestNode(t, repo, "fenced", 0)
	fence := types.DefaultPolicy()
	fence.TaskAllowlist = []types.TaskType{types.TaskTypeInference}
	_, err = repo.SetPolicy(ctx, "fenced", fence)
	require.NoError(t, err)

	task, err = repo.PullTask(ctx, "fenced")
	require.NoError(t, err)
	assert.Nil(t, task)
}

// TestPullGPURouting tests requires_gpu payload probing against hardware
// and the gpu load cap
func TestPullGPURouting(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "cpu-box")
	heartbeatTestNode(t, repo, "cpu-box", 0)

	vram := 24.0
	_, err := repo.UpsertNode(ctx, types.RegisterRequest{
		NodeID: "gpu-box", DisplayName: "GPU box", IP: "192.168.1.41", Port: 8001,
		Capabilities: types.NodeCapabilities{
			CPUThreads: 16, RAMTotalGB: 32, GPUName: "RTX 4090", VRAMTotalGB: &vram,
		},
	})
	require.NoError(t, err)
	heartbeatTestNode(t, repo, "gpu-box", 0)

	_, err = repo.CreateJob(ctx, types.TaskTypeInference, []types.TaskSpec{
		{Payload: json.RawMessage(`{"requires_gpu":true,"model":"llama"}`)},
	})
	require.NoError(t, err)

	task, err := repo.PullTask(ctx, "cpu-box")
	require.NoError(t, err)
	assert.Nil(t, task, "a node without a gpu must not claim gpu work")

	claimed := pullMust(t, repo, "gpu-box")
	assert.Equal(t, "gpu-box", claimed.AssignedNodeID)
}

// TestPullGPUCap tests that a reported gpu load above the cap blocks claims
func TestPullGPUCap(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	vram := 24.0
	_, err := repo.UpsertNode(ctx, types.RegisterRequest{
		NodeID: "gpu-box", DisplayName: "GPU box", IP: "192.168.1.41", Port: 8001,
		Capabilities: types.NodeCapabilities{
			CPUThreads: 16, RAMTotalGB: 32, GPUName: "RTX 4090", VRAMTotalGB: &vram,
		},
	})
	require.NoError(t, err)

	capped := types.DefaultPolicy()
	gpuCap := 50
	capped.GPUCapPercent = &gpuCap
	_, err = repo.SetPolicy(ctx, "gpu-box", capped)
	require.NoError(t, err)

	busy := 80.0
	used := 10.0
	_, err = repo.RecordHeartbeat(ctx, types.HeartbeatRequest{
		NodeID: "gpu-box",
		Metrics: types.NodeMetrics{
			CPUPercent: 10, RAMUsedGB: 4, RAMPercent: 12,
			GPUPercent: &busy, VRAMUsedGB: &used,
		},
	})
	require.NoError(t, err)

	_, err = repo.CreateJob(ctx, types.TaskTypeInference, []types.TaskSpec{
		{Payload: json.RawMessage(`{"requires_gpu":true}`)},
	})
	require.NoError(t, err)

	task, err := repo.PullTask(ctx, "gpu-box")
	require.NoError(t, err)
	assert.Nil(t, task)

	// under the cap the same node claims
	calm := 20.0
	_, err = repo.RecordHeartbeat(ctx, types.HeartbeatRequest{
		NodeID: "gpu-box",
		Metrics: types.NodeMetrics{
			CPUPercent: 10, RAMUsedGB: 4, RAMPercent: 12,
			GPUPercent: &calm, VRAMUsedGB: &used,
		},
	})
	require.NoError(t, err)
	pullMust(t, repo, "gpu-box")
}

// TestJobEventsOnDispatch tests that creates, claims, and accepted results
// each publish one job event while stale reports stay silent
func TestJobEventsOnDispatch(t *testing.T) {
	repo, broker, _ := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "mac-mini-01")
	heartbeatTestNode(t, repo, "mac-mini-01", 0)

	sub := broker.Subscribe(events.EventJobUpdate)
	defer broker.Unsubscribe(events.EventJobUpdate, sub)

	job, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf(""))
	require.NoError(t, err)
	task := pullMust(t, repo, "mac-mini-01")
	submitMust(t, repo, task.ID, "mac-mini-01", true, 30, "")

	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub.C:
			assert.Equal(t, job.ID, ev.JobID)
		default:
			t.Fatalf("expected 3 job events, got %d", i)
		}
	}

	// a duplicate report is recorded but not announced
	submitMust(t, repo, task.ID, "mac-mini-01", true, 31, "")
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event after stale report: %+v", ev)
	default:
	}
}

// TestExecutionMetrics tests the aggregate math over a mixed history
func TestExecutionMetrics(t *testing.T) {
	repo, _, clk := newTestRepo(t)
	ctx := context.Background()

	registerTestNode(t, repo, "node-a")
	registerTestNode(t, repo, "node-b")

	_, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, specsOf("", "", "", "", ""))
	require.NoError(t, err)

	// two wins on node-a
	for _, duration := range []int64{100, 200} {
		heartbeatTestNode(t, repo, "node-a", 0)
		heartbeatTestNode(t, repo, "node-b", 1)
		task := pullMust(t, repo, "node-a")
		submitMust(t, repo, task.ID, "node-a", true, duration, "")
	}

	// two wins and one loss on node-b
	heartbeatTestNode(t, repo, "node-a", 1)
	for _, duration := range []int64{300, 400} {
		heartbeatTestNode(t, repo, "node-b", 0)
		task := pullMust(t, repo, "node-b")
		submitMust(t, repo, task.ID, "node-b", true, duration, "")
	}
	heartbeatTestNode(t, repo, "node-b", 0)
	task := pullMust(t, repo, "node-b")
	submitMust(t, repo, task.ID, "node-b", false, 500, "boom")

	metrics, err := repo.ExecutionMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, metrics.TotalResults)
	assert.Equal(t, 4, metrics.SuccessResults)
	assert.Equal(t, 1, metrics.FailedResults)
	require.NotNil(t, metrics.AvgDurationMS)
	assert.InDelta(t, 300, *metrics.AvgDurationMS, 1e-9)
	require.NotNil(t, metrics.MedianDurationMS)
	assert.InDelta(t, 300, *metrics.MedianDurationMS, 1e-9)
	require.NotNil(t, metrics.P95DurationMS)
	assert.InDelta(t, 500, *metrics.P95DurationMS, 1e-9)
	assert.InDelta(t, 1.0, metrics.NodeReliability["node-a"], 1e-9)
	assert.InDelta(t, 2.0/3.0, metrics.NodeReliability["node-b"], 1e-9)
	assert.InDelta(t, 5, metrics.ThroughputTasksPerMinute, 1e-9)

	perType, ok := metrics.PerType[types.TaskTypeEmbeddings]
	require.True(t, ok)
	assert.Equal(t, 5, perType.Total)
	assert.Equal(t, 4, perType.Success)
	assert.Equal(t, 1, perType.Failed)
	require.NotNil(t, perType.MedianDurationMS)
	assert.InDelta(t, 300, *perType.MedianDurationMS, 1e-9)

	// the throughput window slides with the clock
	clk.Advance(61 * time.Second)
	later, err := repo.ExecutionMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, later.TotalResults)
	assert.Zero(t, later.ThroughputTasksPerMinute)
}

// TestExecutionMetricsEmpty tests the zero-history shape
func TestExecutionMetricsEmpty(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	metrics, err := repo.ExecutionMetrics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, metrics.TotalResults)
	assert.Nil(t, metrics.AvgDurationMS)
	assert.Nil(t, metrics.MedianDurationMS)
	assert.Nil(t, metrics.P95DurationMS)
	assert.Empty(t, metrics.NodeReliability)
	assert.Empty(t, metrics.PerType)
	assert.Zero(t, metrics.ThroughputTasksPerMinute)
}
