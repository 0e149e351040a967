package metrics

import (
	"time"

	"github.com/cuemby/sentinel/pkg/types"
)

// Observation is the state the collector publishes as gauges
type Observation struct {
	Snapshot types.Snapshot
	Issues   types.IssueSet
	Updates  map[types.Component]bool
	Schedule []types.ScheduledUpgrade
}

// Source supplies the latest observation
type Source interface {
	Observation() Observation
}

// Collector periodically copies an Observation into the gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
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
	obs := c.source.Observation()

	if !obs.Snapshot.CheckedAt.IsZero() {
		RecordSnapshot(obs.Snapshot)
	}
	if obs.Issues != nil {
		RecordIssues(obs.Issues)
	}
	for component, available := range obs.Updates {
		UpdateAvailable.WithLabelValues(string(component)).Set(boolGauge(available))
	}
	RecordSchedule(obs.Schedule)
}

// RecordSnapshot sets the node and host gauges from a probe snapshot
func RecordSnapshot(snapshot types.Snapshot) {
	for component, report := range snapshot.Reports {
		label := string(component)
		NodeHealthy.WithLabelValues(label).Set(boolGauge(report.Healthy))
		NodeBlockHeight.WithLabelValues(label).Set(float64(report.BlockHeight()))
		NodePeers.WithLabelValues(label).Set(float64(report.PeerCount()))
		NodeMemoryBytes.WithLabelValues(label).Set(report.MemoryGB() * (1 << 30))

		switch {
		case report.Consensus != nil:
			NodeSyncProgress.WithLabelValues(label).Set(report.Consensus.SyncProgress)
			ConsensusBlockLatency.Set(report.Consensus.BlockLatency)
		case report.Execution != nil:
			NodeSyncProgress.WithLabelValues(label).Set(report.Execution.SyncProgress)
		}
	}

	system := snapshot.System
	if !system.CheckedAt.IsZero() {
		SystemCPUPercent.Set(system.CPUPercent)
		SystemMemoryAvailableBytes.Set(system.MemoryAvailableGB * (1 << 30))
		SystemDiskFreeBytes.Set(system.DiskFreeGB * (1 << 30))
	}
}

// RecordIssues sets one gauge per issue kind
func RecordIssues(issues types.IssueSet) {
	for _, kind := range types.IssueKinds {
		IssuesActive.WithLabelValues(string(kind)).Set(boolGauge(issues[kind]))
	}
}

// RecordSchedule counts scheduled upgrades by status
func RecordSchedule(entries []types.ScheduledUpgrade) {
	counts := map[types.ScheduleStatus]int{
		types.SchedulePending:   0,
		types.ScheduleApproved:  0,
		types.ScheduleCompleted: 0,
		types.ScheduleCancelled: 0,
	}
	for _, e := range entries {
		counts[e.Status]++
	}
	for status, n := range counts {
		ScheduledUpgrades.WithLabelValues(string(status)).Set(float64(n))
	}
}

// RecordUpgrade counts a finished upgrade and observes its duration
func RecordUpgrade(record types.UpgradeRecord) {
	UpgradesTotal.WithLabelValues(string(record.Component), string(record.Outcome)).Inc()
	if !record.EndTime.IsZero() {
		UpgradeDuration.WithLabelValues(string(record.Component)).Observe(record.Duration().Seconds())
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
