package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/sentinel/pkg/calendar"
	"github.com/cuemby/sentinel/pkg/config"
	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/health"
	"github.com/cuemby/sentinel/pkg/issues"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/release"
	"github.com/cuemby/sentinel/pkg/scheduler"
	"github.com/cuemby/sentinel/pkg/systemd"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/cuemby/sentinel/pkg/upgrade"
)

// app holds the components shared by every command
type app struct {
	cfg          *config.Config
	services     []types.ServiceIdentity
	broker       *events.Broker
	prober       *health.Prober
	detector     *issues.Detector
	releases     *release.GitHub
	history      *upgrade.HistoryLog
	orchestrator *upgrade.Orchestrator
	schedule     *scheduler.Scheduler
}

// newApp wires the components from cfg. The event broker is started and
// must be released with close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		services: cfg.Services(),
		broker:   events.NewBroker(),
	}
	a.broker.Start()

	controller := systemd.Detect(ctx)
	journal := health.NewJournalReader()

	prober := health.NewProber(healthConfig(cfg), controller).WithLogs(journal)
	if procs, err := health.NewProcFS("/proc", cfg.StoryHome); err == nil {
		prober.WithProcesses(procs).WithSystem(procs)
	}
	a.prober = prober
	a.detector = issues.NewDetector(issuesConfig(cfg), journal)
	a.releases = release.NewGitHub(releaseConfig(cfg))

	history, err := upgrade.OpenHistory(cfg.HistoryPath())
	if err != nil {
		a.close()
		return nil, err
	}
	a.history = history

	installer := upgrade.NewInstaller(upgrade.NewArtifactRetriever(), upgrade.NewSourceBuilder())
	a.orchestrator = upgrade.NewOrchestrator(upgradeConfig(cfg), controller, installer, prober, history).
		WithEvents(a.broker)

	sched, err := scheduler.New(schedulerConfig(cfg))
	if err != nil {
		a.close()
		return nil, err
	}
	writer := calendar.NewWriter(cfg.CalendarPath())
	writer.Name = cfg.CalendarName
	a.schedule = sched.WithCalendar(writer).WithEvents(a.broker)

	return a, nil
}

func (a *app) close() {
	a.broker.Stop()
	if n := a.broker.Dropped(); n > 0 {
		log.Logger.Warn().Uint64("dropped", n).Msg("Some events were not delivered to slow subscribers")
	}
}

// service resolves a component name given on the command line
func (a *app) service(name string) (types.ServiceIdentity, error) {
	component, err := types.ParseComponent(name)
	if err != nil {
		return types.ServiceIdentity{}, err
	}
	for _, svc := range a.services {
		if svc.Component == component {
			return svc, nil
		}
	}
	return types.ServiceIdentity{}, fmt.Errorf("component %s is not configured", component)
}

// resolveTarget looks a version up upstream, falling back to a bare tag
// when the release API is unavailable
func (a *app) resolveTarget(ctx context.Context, svc types.ServiceIdentity, version string) types.Version {
	if svc.ReleaseRepo != "" {
		if v, err := a.releases.Lookup(ctx, svc.ReleaseRepo, version); err == nil && v != nil {
			return *v
		}
	}
	return types.NewVersion("v" + types.NormalizeVersion(version))
}

func healthConfig(cfg *config.Config) health.Config {
	hc := health.DefaultConfig()
	hc.Timeout = cfg.Thresholds.ProbeTimeout
	hc.MinPeers = cfg.Thresholds.MinPeers
	hc.BlockTimeVariance = cfg.Thresholds.BlockTimeVariance
	hc.ContainerMode = cfg.ContainerMode
	hc.MinDiskGB = cfg.Thresholds.DiskSpaceMinGB
	hc.MinMemoryAvailableGB = cfg.Thresholds.MinMemoryAvailableGB
	hc.MaxCPUPercent = cfg.Thresholds.MaxCPUPercent
	return hc
}

func issuesConfig(cfg *config.Config) issues.Config {
	ic := issues.DefaultConfig()
	ic.IsolationPeers = cfg.Thresholds.IsolationPeers
	ic.MemoryLimitGB = cfg.Thresholds.MemoryLimitGB
	ic.DiskCriticalGB = cfg.Thresholds.DiskCriticalGB
	return ic
}

func releaseConfig(cfg *config.Config) release.Config {
	rc := release.DefaultConfig()
	rc.Token = cfg.GitHubToken
	return rc
}

func upgradeConfig(cfg *config.Config) upgrade.Config {
	uc := upgrade.DefaultConfig()
	uc.BackupDir = cfg.BackupDir
	uc.MinDiskGB = cfg.Thresholds.PreflightDiskGB
	uc.MaxDuration = cfg.MaxUpgradeDuration
	uc.ContainerMode = cfg.ContainerMode
	return uc
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	sc := scheduler.DefaultConfig()
	sc.Path = cfg.SchedulePath()
	sc.WindowHour = cfg.Maintenance.WindowHour
	sc.WindowMinute = cfg.Maintenance.WindowMinute
	sc.ConflictBuffer = cfg.Maintenance.ConflictBuffer
	sc.Durations = map[types.Component]time.Duration{
		types.ComponentConsensus: cfg.Maintenance.ConsensusDuration,
		types.ComponentExecution: cfg.Maintenance.ExecutionDuration,
	}
	return sc
}
