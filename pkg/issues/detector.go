package issues

import (
	"context"
	"time"

	"github.com/cuemby/sentinel/pkg/health"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the detection thresholds
type Config struct {
	// LogLines is how many recent consensus log lines are scanned
	LogLines int

	// IsolationPeers flags peer isolation below this consensus peer count
	IsolationPeers int

	// MemoryLimitGB flags a leak when any node process exceeds it
	MemoryLimitGB float64

	// DiskCriticalGB flags critical disk below this much free space
	DiskCriticalGB float64

	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		LogLines:       1000,
		IsolationPeers: 3,
		MemoryLimitGB:  8,
		DiskCriticalGB: 5,
		Timeout:        10 * time.Second,
	}
}

// Detector recomputes an IssueSet on demand. It keeps no state.
type Detector struct {
	config Config
	logs   health.LogSource
	logger zerolog.Logger
}

// NewDetector creates a detector reading consensus logs from logs
func NewDetector(config Config, logs health.LogSource) *Detector {
	return &Detector{
		config: config,
		logs:   logs,
		logger: log.WithComponent("issues"),
	}
}

// Detect evaluates every issue kind against the snapshot. The consensus
// unit name is taken from the consensus report.
func (d *Detector) Detect(ctx context.Context, snapshot types.Snapshot) types.IssueSet {
	set := types.NewIssueSet()

	consensus, haveConsensus := snapshot.Reports[types.ComponentConsensus]
	if haveConsensus {
		d.scanLogs(ctx, consensus.Service, set)

		if consensus.Consensus != nil && consensus.Consensus.PeerCount < d.config.IsolationPeers {
			set[types.IssuePeerIsolation] = true
		}
	}

	for _, report := range snapshot.Reports {
		if report.MemoryGB() > d.config.MemoryLimitGB {
			set[types.IssueMemoryLeak] = true
		}
	}

	// A zero timestamp means the host was never measured.
	if !snapshot.System.CheckedAt.IsZero() && snapshot.System.DiskFreeGB < d.config.DiskCriticalGB {
		set[types.IssueDiskCritical] = true
	}

	if set.Any() {
		d.logger.Warn().Str("issues", set.String()).Msg("Operational issues detected")
	}
	return set
}

func (d *Detector) scanLogs(ctx context.Context, unit string, set types.IssueSet) {
	if d.logs == nil || unit == "" {
		return
	}

	subCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	lines, err := d.logs.Recent(subCtx, unit, d.config.LogLines)
	if err != nil {
		d.logger.Warn().Err(err).Str("service", unit).Msg("Failed to read logs for issue detection")
		return
	}

	if health.CountMatches(lines, "app hash", "apphash") > 0 {
		set[types.IssueAppHashMismatch] = true
	}
	if health.CountMatches(lines, "panic") > 0 && health.CountMatches(lines, "corruption") > 0 {
		set[types.IssueStateCorruption] = true
	}
}
