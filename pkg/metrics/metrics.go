package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgemesh_nodes_total",
			Help: "Number of registered nodes by status",
		},
		[]string{"status"},
	)

	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgemesh_jobs_total",
			Help: "Number of jobs by status",
		},
		[]string{"status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgemesh_tasks_total",
			Help: "Number of tasks by status",
		},
		[]string{"status"},
	)

	ClusterCPUThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgemesh_cluster_effective_cpu_threads",
			Help: "Sum of policy-capped CPU threads across online nodes",
		},
	)

	ClusterRAMGB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgemesh_cluster_effective_ram_gb",
			Help: "Sum of policy-capped RAM across online nodes in GB",
		},
	)

	ClusterVRAMGB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgemesh_cluster_effective_vram_gb",
			Help: "Sum of policy-capped VRAM across online nodes in GB",
		},
	)

	ReportedRunningJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgemesh_reported_running_jobs",
			Help: "Sum of running jobs reported by online nodes in their last heartbeat",
		},
	)

	// Stream metrics
	StreamSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgemesh_stream_subscribers",
			Help: "Open SSE subscriptions by topic",
		},
		[]string{"topic"},
	)

	StreamEventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgemesh_stream_events_dropped_total",
			Help: "Events discarded because a stream consumer fell behind",
		},
		[]string{"topic"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgemesh_api_requests_total",
			Help: "API requests by method and status code",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgemesh_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Dispatch metrics
	TasksPulled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgemesh_tasks_pulled_total",
			Help: "Tasks leased to nodes through the pull endpoint",
		},
	)

	PullLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgemesh_pull_latency_seconds",
			Help:    "Time spent deciding one pull request",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResultsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgemesh_results_recorded_total",
			Help: "Task results recorded by outcome",
		},
		[]string{"outcome"},
	)

	// Monitor metrics
	MonitorTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgemesh_monitor_ticks_total",
			Help: "Completed maintenance cycles per monitor",
		},
		[]string{"monitor"},
	)

	MonitorTouchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgemesh_monitor_touched_total",
			Help: "Records changed by maintenance cycles per monitor",
		},
		[]string{"monitor"},
	)

	MonitorTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgemesh_monitor_tick_duration_seconds",
			Help:    "Maintenance cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"monitor"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(ClusterCPUThreads)
	prometheus.MustRegister(ClusterRAMGB)
	prometheus.MustRegister(ClusterVRAMGB)
	prometheus.MustRegister(ReportedRunningJobs)
	prometheus.MustRegister(StreamSubscribers)
	prometheus.MustRegister(StreamEventsDropped)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TasksPulled)
	prometheus.MustRegister(PullLatency)
	prometheus.MustRegister(ResultsRecorded)
	prometheus.MustRegister(MonitorTicksTotal)
	prometheus.MustRegister(MonitorTouchedTotal)
	prometheus.MustRegister(MonitorTickDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
