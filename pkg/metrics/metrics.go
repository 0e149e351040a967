package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node metrics
	NodeHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_node_healthy",
			Help: "Whether the node client is healthy (1 = healthy, 0 = unhealthy)",
		},
		[]string{"component"},
	)

	NodeBlockHeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_node_block_height",
			Help: "Latest block height reported by the node client",
		},
		[]string{"component"},
	)

	NodePeers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_node_peers",
			Help: "Connected peers reported by the node client",
		},
		[]string{"component"},
	)

	NodeMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_node_memory_bytes",
			Help: "Resident memory of the node client process",
		},
		[]string{"component"},
	)

	NodeSyncProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_node_sync_progress",
			Help: "Sync progress of the node client (0 to 1)",
		},
		[]string{"component"},
	)

	ConsensusBlockLatency = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_consensus_block_latency_seconds",
			Help: "Observed seconds per block on the consensus client",
		},
	)

	// Host metrics
	SystemCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_system_cpu_percent",
			Help: "Host CPU utilisation",
		},
	)

	SystemMemoryAvailableBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_system_memory_available_bytes",
			Help: "Host memory available",
		},
	)

	SystemDiskFreeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_system_disk_free_bytes",
			Help: "Free space on the node data filesystem",
		},
	)

	IssuesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_issue_active",
			Help: "Whether an operational issue is currently detected (1 = detected)",
		},
		[]string{"issue"},
	)

	// Release and schedule metrics
	UpdateAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_update_available",
			Help: "Whether a newer upstream release exists (1 = available)",
		},
		[]string{"component"},
	)

	ScheduledUpgrades = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_scheduled_upgrades",
			Help: "Scheduled upgrades by status",
		},
		[]string{"status"},
	)

	// Upgrade metrics
	UpgradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_upgrades_total",
			Help: "Upgrade attempts by component and outcome",
		},
		[]string{"component", "outcome"},
	)

	UpgradeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_upgrade_duration_seconds",
			Help:    "Upgrade duration in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"component"},
	)

	// Monitor metrics
	ChecksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_checks_total",
			Help: "Total number of monitoring ticks",
		},
	)

	ProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_probe_duration_seconds",
			Help:    "Time taken to probe all services in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ComponentUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_component_up",
			Help: "Whether an internal sentinel component reports healthy (1 = up, 0 = down)",
		},
		[]string{"component"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_api_requests_total",
			Help: "Total number of API requests by path and status",
		},
		[]string{"path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(NodeHealthy)
	prometheus.MustRegister(NodeBlockHeight)
	prometheus.MustRegister(NodePeers)
	prometheus.MustRegister(NodeMemoryBytes)
	prometheus.MustRegister(NodeSyncProgress)
	prometheus.MustRegister(ConsensusBlockLatency)
	prometheus.MustRegister(SystemCPUPercent)
	prometheus.MustRegister(SystemMemoryAvailableBytes)
	prometheus.MustRegister(SystemDiskFreeBytes)
	prometheus.MustRegister(IssuesActive)
	prometheus.MustRegister(UpdateAvailable)
	prometheus.MustRegister(ScheduledUpgrades)
	prometheus.MustRegister(UpgradesTotal)
	prometheus.MustRegister(UpgradeDuration)
	prometheus.MustRegister(ChecksTotal)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(ComponentUp)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
