package metrics

import (
	"context"
	"time"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/repository"
	"github.com/edgemesh/edgemesh/pkg/types"
)

// Collector polls cluster state into the gauge metrics
type Collector struct {
	repo     *repository.Repository
	broker   *events.Broker
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector polling every 15 seconds
func NewCollector(repo *repository.Repository, broker *events.Broker) *Collector {
	return &Collector{
		repo:     repo,
		broker:   broker,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx := context.Background()
	c.collectClusterMetrics(ctx)
	c.collectStatusMetrics(ctx)
	c.collectStreamMetrics()
}

func (c *Collector) collectClusterMetrics(ctx context.Context) {
	summary, err := c.repo.ClusterSummary(ctx)
	if err != nil {
		return
	}

	NodesTotal.WithLabelValues(string(types.NodeStatusOnline)).Set(float64(summary.OnlineNodes))
	NodesTotal.WithLabelValues(string(types.NodeStatusStale)).Set(float64(summary.StaleNodes))
	NodesTotal.WithLabelValues(string(types.NodeStatusOffline)).Set(float64(summary.OfflineNodes))
	NodesTotal.WithLabelValues(string(types.NodeStatusUnknown)).Set(float64(summary.UnknownNodes))

	ClusterCPUThreads.Set(summary.TotalEffectiveCPUThreads)
	ClusterRAMGB.Set(summary.TotalEffectiveRAMGB)
	ClusterVRAMGB.Set(summary.TotalEffectiveVRAMGB)
	ReportedRunningJobs.Set(float64(summary.ActiveRunningJobsTotal))
}

func (c *Collector) collectStatusMetrics(ctx context.Context) {
	jobCounts, taskCounts, err := c.repo.StatusCounts(ctx)
	if err != nil {
		return
	}

	// Absent statuses are written as zero so a drained state reads as such
	for _, status := range types.AllJobStatuses() {
		JobsTotal.WithLabelValues(string(status)).Set(float64(jobCounts[status]))
	}
	for _, status := range types.AllTaskStatuses() {
		TasksTotal.WithLabelValues(string(status)).Set(float64(taskCounts[status]))
	}
}

func (c *Collector) collectStreamMetrics() {
	StreamSubscribers.WithLabelValues(string(events.EventNodeUpdate)).
		Set(float64(c.broker.SubscriberCount(events.EventNodeUpdate)))
	StreamSubscribers.WithLabelValues(string(events.EventJobUpdate)).
		Set(float64(c.broker.SubscriberCount(events.EventJobUpdate)))
}
