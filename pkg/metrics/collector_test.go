package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/repository"
	"github.com/edgemesh/edgemesh/pkg/storage"
	"github.com/edgemesh/edgemesh/pkg/types"
)

func newCollectorTestRepo(t *testing.T) (*repository.Repository, *events.Broker) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "coordinator.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if _, err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	broker := events.NewBroker()
	return repository.New(store, broker, repository.Options{}), broker
}

func TestCollectorCollect(t *testing.T) {
	repo, broker := newCollectorTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertNode(ctx, types.RegisterRequest{
		NodeID: "mac-mini-01", DisplayName: "Mac Mini", IP: "192.168.1.20", Port: 8001,
		Capabilities: types.NodeCapabilities{CPUThreads: 8, RAMTotalGB: 16},
	})
	if err != nil {
		t.Fatalf("failed to register node: %v", err)
	}
	_, err = repo.RecordHeartbeat(ctx, types.HeartbeatRequest{
		NodeID:  "mac-mini-01",
		Metrics: types.NodeMetrics{RunningJobs: 3},
	})
	if err != nil {
		t.Fatalf("failed to heartbeat: %v", err)
	}
	if _, err := repo.CreateJob(ctx, types.TaskTypeEmbeddings, []types.TaskSpec{{}, {}}); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	sub := broker.Subscribe(events.EventJobUpdate)
	defer broker.Unsubscribe(events.EventJobUpdate, sub)

	collector := NewCollector(repo, broker)
	collector.collect()

	if got := testutil.ToFloat64(NodesTotal.WithLabelValues("ONLINE")); got != 1 {
		t.Errorf("nodes ONLINE = %v, want 1", got)
	}
	if got := testutil.ToFloat64(JobsTotal.WithLabelValues("QUEUED")); got != 1 {
		t.Errorf("jobs QUEUED = %v, want 1", got)
	}
	if got := testutil.ToFloat64(TasksTotal.WithLabelValues("QUEUED")); got != 2 {
		t.Errorf("tasks QUEUED = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ClusterCPUThreads); got != 8 {
		t.Errorf("effective cpu threads = %v, want 8", got)
	}
	if got := testutil.ToFloat64(ReportedRunningJobs); got != 3 {
		t.Errorf("reported running jobs = %v, want 3", got)
	}
	if got := testutil.ToFloat64(StreamSubscribers.WithLabelValues("job_update")); got != 1 {
		t.Errorf("job_update subscribers = %v, want 1", got)
	}
}

func TestCollectorZeroesDrainedStatuses(t *testing.T) {
	repo, broker := newCollectorTestRepo(t)

	// Seed a leftover value from a previous cycle
	TasksTotal.WithLabelValues("RUNNING").Set(42)

	collector := NewCollector(repo, broker)
	collector.collect()

	if got := testutil.ToFloat64(TasksTotal.WithLabelValues("RUNNING")); got != 0 {
		t.Errorf("tasks RUNNING = %v, want 0 after collect on empty store", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	repo, broker := newCollectorTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertNode(ctx, types.RegisterRequest{
		NodeID: "mac-mini-01", DisplayName: "Mac Mini", IP: "192.168.1.20", Port: 8001,
	})
	if err != nil {
		t.Fatalf("failed to register node: %v", err)
	}

	collector := NewCollector(repo, broker)
	collector.Start()
	defer collector.Stop()

	// The first collection happens immediately on start
	deadline := time.After(2 * time.Second)
	for testutil.ToFloat64(NodesTotal.WithLabelValues("ONLINE")) < 1 {
		select {
		case <-deadline:
			t.Fatal("collector never published node gauge")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
