package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config contains the thresholds and switches used to judge node health
type Config struct {
	// Timeout bounds every individual sub-check (RPC call, unit query, log read)
	Timeout time.Duration

	// MinPeers is the minimum peer count for a healthy node
	MinPeers int

	// BlockTimeVariance is the longest acceptable time between blocks
	BlockTimeVariance time.Duration

	// ContainerMode skips service liveness checks; the node runs under a
	// container runtime rather than systemd.
	ContainerMode bool

	// AppHashLogLines is how many recent consensus log lines are scanned
	AppHashLogLines int

	MinDiskGB            float64
	MinMemoryAvailableGB float64
	MaxCPUPercent        float64
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Timeout:              5 * time.Second,
		MinPeers:             5,
		BlockTimeVariance:    10 * time.Second,
		AppHashLogLines:      100,
		MinDiskGB:            10,
		MinMemoryAvailableGB: 2,
		MaxCPUPercent:        90,
	}
}

// ServiceStatus answers whether an OS service is running
type ServiceStatus interface {
	IsActive(ctx context.Context, name string) (bool, error)
}

// blockObservation is the last block seen for one service
type blockObservation struct {
	height     int64
	blockTime  time.Time
	observedAt time.Time
}

// Prober produces health reports for the node services and the host
type Prober struct {
	config    Config
	services  ServiceStatus
	logs      LogSource
	processes ProcessInspector
	system    SystemInspector
	clock     clock.Clock
	rpc       func(endpoint string) *RPCClient
	logger    zerolog.Logger

	mu        sync.Mutex
	lastBlock map[string]blockObservation
}

// NewProber creates a prober. Logs, process and system inspectors default to
// journalctl and /proc; override them with the With* methods.
func NewProber(config Config, services ServiceStatus) *Prober {
	p := &Prober{
		config:    config,
		services:  services,
		logs:      NewJournalReader().WithTimeout(config.Timeout),
		clock:     clock.WallClock,
		logger:    log.WithComponent("health"),
		lastBlock: make(map[string]blockObservation),
	}
	p.rpc = func(endpoint string) *RPCClient {
		return NewRPCClient(endpoint).WithTimeout(config.Timeout)
	}
	if procs, err := NewProcFS("/proc", "/"); err == nil {
		p.processes = procs
		p.system = procs
	}
	return p
}

// WithLogs sets the log source used for app hash detection
func (p *Prober) WithLogs(logs LogSource) *Prober {
	p.logs = logs
	return p
}

// WithProcesses sets the process inspector
func (p *Prober) WithProcesses(inspector ProcessInspector) *Prober {
	p.processes = inspector
	return p
}

// WithSystem sets the host resource inspector
func (p *Prober) WithSystem(inspector SystemInspector) *Prober {
	p.system = inspector
	return p
}

// WithClock sets the clock used to timestamp reports and block observations
func (p *Prober) WithClock(clk clock.Clock) *Prober {
	p.clock = clk
	return p
}

// Config returns the prober's configuration
func (p *Prober) Config() Config {
	return p.config
}

// Probe checks one service. It never returns an error: every failing
// sub-check is logged and counted as unhealthy.
func (p *Prober) Probe(ctx context.Context, svc types.ServiceIdentity) types.HealthReport {
	if svc.IsConsensus() {
		return p.probeConsensus(ctx, svc)
	}
	return p.probeExecution(ctx, svc)
}

func (p *Prober) probeExecution(ctx context.Context, svc types.ServiceIdentity) types.HealthReport {
	logger := p.logger.With().Str("service", svc.ServiceName).Logger()
	checks := &types.ExecutionChecks{}
	var reasons []string

	checks.ServiceActive = p.serviceActive(ctx, svc, logger)
	if !checks.ServiceActive {
		reasons = append(reasons, "service inactive")
	}

	client := p.rpc(svc.RPCEndpoint)

	subCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	state, err := client.EthSyncing(subCtx)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("eth_syncing failed")
		reasons = append(reasons, "rpc unreachable")
	} else {
		checks.RPCReachable = true
		checks.Syncing = state.Syncing
		checks.CurrentBlock = state.CurrentBlock
		checks.HighestBlock = state.HighestBlock
		checks.SyncProgress = state.Progress()
		if state.Syncing {
			reasons = append(reasons, fmt.Sprintf("syncing (%.1f%%)", checks.SyncProgress))
		}
	}

	subCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
	height, err := client.EthBlockNumber(subCtx)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("eth_blockNumber failed")
	} else {
		checks.BlockHeight = height
	}

	subCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
	peers, err := client.NetPeerCount(subCtx)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("net_peerCount failed")
	}
	checks.PeerCount = peers
	if checks.PeerCount < p.config.MinPeers {
		reasons = append(reasons, fmt.Sprintf("peers %d < %d", checks.PeerCount, p.config.MinPeers))
	}

	checks.MemoryGB = p.memoryGB(svc, logger)

	healthy := checks.ServiceActive &&
		checks.RPCReachable &&
		!checks.Syncing &&
		checks.PeerCount >= p.config.MinPeers

	return types.HealthReport{
		Component: svc.Component,
		Service:   svc.ServiceName,
		Healthy:   healthy,
		Execution: checks,
		Message:   message(healthy, reasons),
		CheckedAt: p.clock.Now(),
	}
}

func (p *Prober) probeConsensus(ctx context.Context, svc types.ServiceIdentity) types.HealthReport {
	logger := p.logger.With().Str("service", svc.ServiceName).Logger()
	checks := &types.ConsensusChecks{}
	var reasons []string

	checks.ServiceActive = p.serviceActive(ctx, svc, logger)
	if !checks.ServiceActive {
		reasons = append(reasons, "service inactive")
	}

	client := p.rpc(svc.RPCEndpoint)

	subCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	status, err := client.Status(subCtx)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("status query failed")
		reasons = append(reasons, "rpc unreachable")
	} else {
		checks.RPCReachable = true
		checks.CatchingUp = status.CatchingUp
		checks.LatestBlockHeight = status.LatestBlockHeight
		checks.LatestBlockTime = status.RawBlockTime
		checks.VotingPower = status.VotingPower
		if status.CatchingUp {
			reasons = append(reasons, "catching up")
		} else {
			checks.SyncProgress = 100
		}

		latency, ok := p.observeBlock(svc.ServiceName, status)
		checks.BlockLatency = latency.Seconds()
		checks.BlockLatencyOK = ok
		if !ok {
			reasons = append(reasons, fmt.Sprintf("block latency %s exceeds %s", latency.Round(time.Millisecond), p.config.BlockTimeVariance))
		}
	}

	subCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
	peers, err := client.NetPeers(subCtx)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("net_info query failed")
	}
	checks.PeerCount = peers
	if checks.PeerCount < p.config.MinPeers {
		reasons = append(reasons, fmt.Sprintf("peers %d < %d", checks.PeerCount, p.config.MinPeers))
	}

	checks.AppHashErrors = p.appHashErrors(ctx, svc, logger)
	if checks.AppHashErrors > 0 {
		reasons = append(reasons, fmt.Sprintf("%d app hash errors in recent logs", checks.AppHashErrors))
	}

	checks.MemoryGB = p.memoryGB(svc, logger)

	healthy := checks.ServiceActive &&
		checks.RPCReachable &&
		!checks.CatchingUp &&
		checks.PeerCount >= p.config.MinPeers &&
		checks.AppHashErrors == 0 &&
		checks.BlockLatencyOK

	return types.HealthReport{
		Component: svc.Component,
		Service:   svc.ServiceName,
		Healthy:   healthy,
		Consensus: checks,
		Message:   message(healthy, reasons),
		CheckedAt: p.clock.Now(),
	}
}

func (p *Prober) serviceActive(ctx context.Context, svc types.ServiceIdentity, logger zerolog.Logger) bool {
	if p.config.ContainerMode {
		return true
	}
	if p.services == nil {
		logger.Warn().Msg("No service status source configured")
		return false
	}

	subCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	active, err := p.services.IsActive(subCtx, svc.ServiceName)
	if err != nil {
		logger.Warn().Err(err).Msg("service state query failed")
		return false
	}
	return active
}

func (p *Prober) appHashErrors(ctx context.Context, svc types.ServiceIdentity, logger zerolog.Logger) int {
	if p.logs == nil {
		return 0
	}
	lines := p.config.AppHashLogLines
	if lines <= 0 {
		lines = 100
	}

	subCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	recent, err := p.logs.Recent(subCtx, svc.ServiceName, lines)
	if err != nil {
		logger.Warn().Err(err).Msg("log scan failed")
		return 0
	}
	return CountMatches(recent, "app hash")
}

func (p *Prober) memoryGB(svc types.ServiceIdentity, logger zerolog.Logger) float64 {
	if p.processes == nil {
		return 0
	}
	rss, err := p.processes.ResidentMemory(svc.ProcessName)
	if err != nil {
		logger.Debug().Err(err).Msg("process memory lookup failed")
		return 0
	}
	return toGB(rss)
}

// observeBlock compares the latest block against the previous observation
// for the same service and records the new one. When the height advanced,
// latency is the average time per block since the previous observation.
// When it did not, latency is the wall time the chain has been stalled.
func (p *Prober) observeBlock(service string, status *ConsensusStatus) (time.Duration, bool) {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	prev, seen := p.lastBlock[service]
	if !status.LatestBlockTime.IsZero() {
		if !seen || status.LatestBlockHeight != prev.height {
			p.lastBlock[service] = blockObservation{
				height:     status.LatestBlockHeight,
				blockTime:  status.LatestBlockTime,
				observedAt: now,
			}
		}
	}

	if !seen || status.LatestBlockTime.IsZero() {
		return 0, true
	}

	var latency time.Duration
	if delta := status.LatestBlockHeight - prev.height; delta > 0 {
		latency = status.LatestBlockTime.Sub(prev.blockTime) / time.Duration(delta)
	} else {
		latency = now.Sub(prev.observedAt)
	}
	return latency, latency <= p.config.BlockTimeVariance
}

// ProbeSystem reports host resources. A failed read yields an unhealthy
// report with zero values.
func (p *Prober) ProbeSystem(ctx context.Context) types.SystemReport {
	report := types.SystemReport{CheckedAt: p.clock.Now()}

	if p.system == nil {
		report.Message = "no system inspector configured"
		return report
	}

	subCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	stats, err := p.system.Stats(subCtx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("system resource check failed")
		report.Message = fmt.Sprintf("system check failed: %v", err)
		return report
	}

	report.CPUPercent = stats.CPUPercent
	report.MemoryAvailableGB = toGB(stats.MemAvailable)
	report.MemoryTotalGB = toGB(stats.MemTotal)
	report.DiskFreeGB = toGB(stats.DiskFree)
	report.DiskTotalGB = toGB(stats.DiskTotal)
	report.Load1, report.Load5, report.Load15 = stats.Load1, stats.Load5, stats.Load15

	var reasons []string
	if report.MemoryAvailableGB <= p.config.MinMemoryAvailableGB {
		reasons = append(reasons, fmt.Sprintf("memory available %s", humanize.IBytes(stats.MemAvailable)))
	}
	if report.DiskFreeGB <= p.config.MinDiskGB {
		reasons = append(reasons, fmt.Sprintf("disk free %s", humanize.IBytes(stats.DiskFree)))
	}
	if report.CPUPercent >= p.config.MaxCPUPercent {
		reasons = append(reasons, fmt.Sprintf("cpu %.1f%%", report.CPUPercent))
	}

	report.Healthy = len(reasons) == 0
	report.Message = message(report.Healthy, reasons)
	return report
}

// ProbeAll probes every service and the host concurrently. The snapshot
// holds exactly one report per service.
func (p *Prober) ProbeAll(ctx context.Context, services []types.ServiceIdentity) types.Snapshot {
	snapshot := types.Snapshot{
		Reports:   make(map[types.Component]types.HealthReport, len(services)),
		CheckedAt: p.clock.Now(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			report := p.Probe(gctx, svc)
			mu.Lock()
			snapshot.Reports[svc.Component] = report
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		system := p.ProbeSystem(gctx)
		mu.Lock()
		snapshot.System = system
		mu.Unlock()
		return nil
	})

	_ = g.Wait()
	return snapshot
}

func message(healthy bool, reasons []string) string {
	if healthy {
		return "healthy"
	}
	if len(reasons) == 0 {
		return "unhealthy"
	}
	return strings.Join(reasons, "; ")
}
