package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/scheduler"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/cuemby/sentinel/pkg/upgrade"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// Prober probes every service and the host
type Prober interface {
	ProbeAll(ctx context.Context, services []types.ServiceIdentity) types.Snapshot
}

// Detector derives operational issues from a snapshot
type Detector interface {
	Detect(ctx context.Context, snapshot types.Snapshot) types.IssueSet
}

// ReleaseSource finds upstream releases
type ReleaseSource interface {
	Latest(ctx context.Context, repo string) (*types.Version, error)
	Lookup(ctx context.Context, repo, tag string) (*types.Version, error)
}

// Upgrader runs upgrades and reports installed versions
type Upgrader interface {
	Upgrade(ctx context.Context, req upgrade.Request) *upgrade.Result
	InstalledVersion(ctx context.Context, svc types.ServiceIdentity) string
}

// Schedule is the upgrade queue the loop reads and advances
type Schedule interface {
	Schedule(component types.Component, current, target string, at *time.Time, autoApprove bool) (*types.ScheduledUpgrade, error)
	ScheduleGovernance(proposal types.GovernanceProposal, current string, currentHeight int64, estimator scheduler.HeightEstimator) (*types.ScheduledUpgrade, error)
	Due(within time.Duration) []types.ScheduledUpgrade
	MarkCompleted(component types.Component, version string) bool
	CancelID(id string) bool
	PruneOld(olderThan time.Duration) int
	List() []types.ScheduledUpgrade
}

// StateStore persists observations across restarts
type StateStore interface {
	SaveSnapshot(snapshot types.Snapshot) error
	LastSnapshot() (*types.Snapshot, error)
	RecordRelease(component types.Component, version types.Version, seenAt time.Time) (bool, error)
}

// heightObserver is implemented by estimators that learn from the chain
type heightObserver interface {
	Observe(height int64, at time.Time)
}

// Config controls the monitoring loop
type Config struct {
	Services            []types.ServiceIdentity
	UpdateCheckInterval time.Duration
	DueHorizon          time.Duration
	ScheduleRetention   time.Duration
	BackupDir           string
	BackupRetention     time.Duration
	PruneInterval       time.Duration
}

// DefaultConfig checks releases hourly and looks one hour ahead
func DefaultConfig() Config {
	return Config{
		UpdateCheckInterval: time.Hour,
		DueHorizon:          time.Hour,
		ScheduleRetention:   30 * 24 * time.Hour,
		BackupRetention:     30 * 24 * time.Hour,
		PruneInterval:       time.Hour,
	}
}

// Status is an immutable view of the last tick
type Status struct {
	Snapshot        types.Snapshot
	Issues          types.IssueSet
	Installed       map[types.Component]string
	Updates         map[types.Component]types.Version
	LastUpdateCheck time.Time
	LastUpgrade     *types.UpgradeRecord
	Ticks           int
	StartedAt       time.Time
	UpdatedAt       time.Time
}

// Runner drives probe, detection, release checks and scheduled upgrades
type Runner struct {
	config     Config
	prober     Prober
	detector   Detector
	releases   ReleaseSource
	schedule   Schedule
	upgrader   Upgrader
	store      StateStore
	events     events.Publisher
	policy     AutoUpgradePolicy
	governance GovernanceSource
	estimator  scheduler.HeightEstimator
	clock      clock.Clock
	onFirst    func(*Status)
	logger     zerolog.Logger

	status    atomic.Pointer[Status]
	tickMu    sync.Mutex
	lastPrune time.Time
}

// NewRunner creates a runner in manual mode without governance
func NewRunner(config Config, prober Prober, detector Detector, releases ReleaseSource, schedule Schedule, upgrader Upgrader) *Runner {
	r := &Runner{
		config:     config,
		prober:     prober,
		detector:   detector,
		releases:   releases,
		schedule:   schedule,
		upgrader:   upgrader,
		policy:     ManualPolicy{},
		governance: NoGovernance{},
		estimator:  scheduler.NewFixedIntervalEstimator(5 * time.Second),
		clock:      clock.WallClock,
		logger:     log.WithComponent("monitor"),
	}
	r.status.Store(&Status{})
	return r
}

// WithStore persists snapshots and release observations
func (r *Runner) WithStore(store StateStore) *Runner {
	r.store = store
	return r
}

// WithEvents publishes monitor events
func (r *Runner) WithEvents(publisher events.Publisher) *Runner {
	r.events = publisher
	return r
}

// WithPolicy sets the auto-upgrade policy
func (r *Runner) WithPolicy(policy AutoUpgradePolicy) *Runner {
	r.policy = policy
	return r
}

// WithGovernance schedules upgrades for on-chain proposals
func (r *Runner) WithGovernance(source GovernanceSource, estimator scheduler.HeightEstimator) *Runner {
	r.governance = source
	r.estimator = estimator
	return r
}

// WithClock sets the time source
func (r *Runner) WithClock(clk clock.Clock) *Runner {
	r.clock = clk
	return r
}

// OnFirstTick registers fn to run once after the first tick completes
func (r *Runner) OnFirstTick(fn func(*Status)) *Runner {
	r.onFirst = fn
	return r
}

// Status returns the latest published status
func (r *Runner) Status() *Status {
	return r.status.Load()
}

// Observation implements metrics.Source
func (r *Runner) Observation() metrics.Observation {
	st := r.Status()
	updates := make(map[types.Component]bool, len(r.config.Services))
	for _, svc := range r.config.Services {
		_, ok := st.Updates[svc.Component]
		updates[svc.Component] = ok
	}
	return metrics.Observation{
		Snapshot: st.Snapshot,
		Issues:   st.Issues,
		Updates:  updates,
		Schedule: r.schedule.List(),
	}
}

// Run ticks immediately and then every interval until ctx is cancelled.
// With once set it returns after the first tick. Cancelling ctx lets the
// tick in flight finish, including a running upgrade, but no new upgrade
// starts and no further tick runs.
func (r *Runner) Run(ctx context.Context, interval time.Duration, once bool) error {
	r.logger.Info().
		Dur("interval", interval).
		Str("policy", r.policy.Name()).
		Bool("once", once).
		Msg("Monitoring started")
	metrics.RegisterComponent(metrics.ComponentMonitor, true, "")

	tickCtx := context.WithoutCancel(ctx)
	for {
		if err := r.tick(tickCtx, ctx.Done()); err != nil {
			r.logger.Error().Err(err).Msg("Monitoring tick failed")
		}
		if once {
			return nil
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Monitoring stopped")
			return nil
		case <-r.clock.After(interval):
		}
	}
}

// Tick runs one monitoring cycle and publishes a new Status. No upgrade
// starts once ctx is cancelled.
func (r *Runner) Tick(ctx context.Context) error {
	return r.tick(ctx, ctx.Done())
}

func (r *Runner) tick(ctx context.Context, stopping <-chan struct{}) error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	prev := r.Status()
	now := r.clock.Now()
	next := &Status{
		Installed:       copyInstalled(prev.Installed),
		Updates:         prev.Updates,
		LastUpdateCheck: prev.LastUpdateCheck,
		LastUpgrade:     prev.LastUpgrade,
		Ticks:           prev.Ticks + 1,
		StartedAt:       prev.StartedAt,
	}
	if next.StartedAt.IsZero() {
		next.StartedAt = now
	}

	timer := metrics.NewTimer()
	next.Snapshot = r.prober.ProbeAll(ctx, r.config.Services)
	timer.ObserveDuration(metrics.ProbeDuration)
	next.Issues = r.detector.Detect(ctx, next.Snapshot)
	metrics.RecordSnapshot(next.Snapshot)
	metrics.RecordIssues(next.Issues)
	metrics.ChecksTotal.Inc()

	r.reportHealth(prev, next)
	r.observeHeight(next.Snapshot)

	if next.LastUpdateCheck.IsZero() || now.Sub(next.LastUpdateCheck) >= r.config.UpdateCheckInterval {
		next.Updates = r.CheckUpdates(ctx, next.Installed)
		next.LastUpdateCheck = now
		r.autoSchedule(next)
	}

	r.scheduleGovernance(ctx, next)

	if record := r.runDue(ctx, stopping); record != nil {
		next.LastUpgrade = record
		delete(next.Installed, record.Component)
	}

	r.prune(now)

	next.UpdatedAt = r.clock.Now()
	r.status.Store(next)
	metrics.UpdateComponent(metrics.ComponentMonitor, true, "")

	if prev.Ticks == 0 && r.onFirst != nil {
		r.onFirst(next)
	}
	return ctx.Err()
}

// CheckUpdates looks up the latest release of every service and returns
// those newer than the installed version. installed is filled in for
// services it does not cover yet.
func (r *Runner) CheckUpdates(ctx context.Context, installed map[types.Component]string) map[types.Component]types.Version {
	updates := make(map[types.Component]types.Version)
	for _, svc := range r.config.Services {
		if svc.ReleaseRepo == "" {
			continue
		}
		current := r.upgrader.InstalledVersion(ctx, svc)
		if installed != nil {
			installed[svc.Component] = current
		}

		latest, err := r.releases.Latest(ctx, svc.ReleaseRepo)
		if err != nil {
			r.logger.Warn().Err(err).Str("repo", svc.ReleaseRepo).Msg("Release check failed")
			continue
		}
		if latest == nil {
			continue
		}

		newer := current != upgrade.UnknownVersion && types.CompareVersions(latest.Number, current) > 0
		metrics.UpdateAvailable.WithLabelValues(string(svc.Component)).Set(boolGauge(newer))
		if !newer {
			continue
		}
		updates[svc.Component] = *latest
		r.recordRelease(svc, current, *latest)
	}
	return updates
}

func (r *Runner) recordRelease(svc types.ServiceIdentity, current string, latest types.Version) {
	if r.store != nil {
		isNew, err := r.store.RecordRelease(svc.Component, latest, r.clock.Now())
		if err != nil {
			r.logger.Warn().Err(err).Msg("Failed to record release")
		} else if !isNew {
			return
		}
	}

	r.logger.Info().
		Str("component", string(svc.Component)).
		Str("current", current).
		Str("available", latest.Number).
		Msg("New release available")

	published := "unknown"
	if !latest.PublishedAt.IsZero() {
		published = latest.PublishedAt.UTC().Format("2006-01-02")
	}
	r.publish(events.NewEvent(events.EventReleaseFound, events.SeverityInfo,
		fmt.Sprintf("%s %s is available (installed %s)", svc.Name, latest.Number, current)).
		With("component", string(svc.Component)).
		With("version", latest.Number).
		With("current", current).
		With("published", published))
}

// autoSchedule queues auto-approved upgrades the policy allows
func (r *Runner) autoSchedule(st *Status) {
	for component, latest := range st.Updates {
		current := st.Installed[component]
		if !r.policy.Allow(component, current, latest.Number) {
			continue
		}
		if r.hasOpenEntry(component, latest.Number) {
			continue
		}
		if _, err := r.schedule.Schedule(component, current, latest.Number, nil, true); err != nil {
			r.logger.Warn().Err(err).Str("component", string(component)).Msg("Failed to schedule upgrade")
		}
	}
}

func (r *Runner) hasOpenEntry(component types.Component, target string) bool {
	for _, e := range r.schedule.List() {
		if e.Component == component && e.TargetVersion == target && e.Status.Open() {
			return true
		}
	}
	return false
}

func (r *Runner) scheduleGovernance(ctx context.Context, st *Status) {
	proposals, err := r.governance.Pending(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Governance query failed")
		return
	}
	if len(proposals) == 0 {
		return
	}

	height := st.Snapshot.Reports[types.ComponentConsensus].BlockHeight()
	for _, p := range proposals {
		component := p.Component
		if component == "" {
			component = types.ComponentConsensus
		}
		if _, err := r.schedule.ScheduleGovernance(p, st.Installed[component], height, r.estimator); err != nil {
			r.logger.Warn().Err(err).Str("proposal", p.ID).Msg("Failed to schedule governance upgrade")
		}
	}
}

// runDue orchestrates approved entries whose time has come, one per tick.
// Pending entries inside the horizon are only logged. Nothing starts once
// stopping is closed.
func (r *Runner) runDue(ctx context.Context, stopping <-chan struct{}) *types.UpgradeRecord {
	now := r.clock.Now()
	for _, entry := range r.schedule.Due(r.config.DueHorizon) {
		if entry.Status != types.ScheduleApproved {
			r.logger.Info().
				Str("component", string(entry.Component)).
				Str("target", entry.TargetVersion).
				Time("at", entry.ScheduledTime).
				Msg("Upgrade awaiting approval")
			continue
		}
		if entry.ScheduledTime.After(now) {
			continue
		}
		if isClosed(stopping) {
			r.logger.Info().Msg("Shutting down, not starting scheduled upgrade")
			return nil
		}

		svc, ok := r.service(entry.Component)
		if !ok {
			r.logger.Warn().Str("component", string(entry.Component)).Msg("Scheduled upgrade for unknown component")
			r.schedule.CancelID(entry.ID)
			continue
		}

		result := r.upgrader.Upgrade(ctx, upgrade.Request{Service: svc, Target: r.resolveTarget(ctx, svc, entry.TargetVersion)})
		switch {
		case result.Success():
			r.schedule.MarkCompleted(entry.Component, entry.TargetVersion)
		case result.Outcome == types.OutcomeAborted && (errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, upgrade.ErrBusy)):
			r.logger.Warn().
				Err(result.Err).
				Str("component", string(entry.Component)).
				Str("target", entry.TargetVersion).
				Msg("Scheduled upgrade did not start, keeping entry")
		default:
			r.logger.Error().
				Str("component", string(entry.Component)).
				Str("target", entry.TargetVersion).
				Str("outcome", string(result.Outcome)).
				Msg("Scheduled upgrade failed, cancelling entry")
			r.schedule.CancelID(entry.ID)
		}
		record := result.Record
		return &record
	}
	return nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// resolveTarget looks the release up for its download metadata, falling
// back to a bare version
func (r *Runner) resolveTarget(ctx context.Context, svc types.ServiceIdentity, target string) types.Version {
	v, err := r.releases.Lookup(ctx, svc.ReleaseRepo, target)
	if err == nil && v != nil {
		return *v
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("target", target).Msg("Release lookup failed")
	}
	return types.NewVersion("v" + types.NormalizeVersion(target))
}

func (r *Runner) prune(now time.Time) {
	if !r.lastPrune.IsZero() && now.Sub(r.lastPrune) < r.config.PruneInterval {
		return
	}
	r.lastPrune = now

	r.schedule.PruneOld(r.config.ScheduleRetention)
	if r.config.BackupDir == "" {
		return
	}
	if _, err := upgrade.PruneBackups(r.config.BackupDir, r.config.BackupRetention, now); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to prune backups")
	}
}

// reportHealth publishes service health transitions and active issues, and
// persists the snapshot
func (r *Runner) reportHealth(prev, next *Status) {
	previous := prev.Snapshot
	if prev.Ticks == 0 && r.store != nil {
		if last, err := r.store.LastSnapshot(); err == nil {
			previous = *last
		}
	}

	for component, report := range next.Snapshot.Reports {
		before, seen := previous.Reports[component]
		if seen && before.Healthy == report.Healthy {
			continue
		}
		if !seen && report.Healthy {
			continue
		}
		severity := events.SeverityInfo
		if !report.Healthy {
			severity = events.SeverityCritical
		}
		r.publish(events.NewEvent(events.EventHealthChanged, severity, report.Message).
			With("component", string(component)).
			With("service", report.Service).
			With("healthy", strconv.FormatBool(report.Healthy)))
	}

	for _, kind := range next.Issues.Active() {
		r.publish(events.NewEvent(events.EventIssueDetected, events.SeverityWarning, issueMessage(kind, next.Snapshot)).
			With("issue", string(kind)))
	}

	if r.store != nil {
		if err := r.store.SaveSnapshot(next.Snapshot); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to persist snapshot")
		}
	}
}

func (r *Runner) observeHeight(snapshot types.Snapshot) {
	obs, ok := r.estimator.(heightObserver)
	if !ok {
		return
	}
	report, ok := snapshot.Reports[types.ComponentConsensus]
	if !ok || report.BlockHeight() <= 0 {
		return
	}
	obs.Observe(report.BlockHeight(), report.CheckedAt)
}

func (r *Runner) service(component types.Component) (types.ServiceIdentity, bool) {
	for _, svc := range r.config.Services {
		if svc.Component == component {
			return svc, true
		}
	}
	return types.ServiceIdentity{}, false
}

func (r *Runner) publish(event *events.Event) {
	if r.events != nil {
		r.events.Publish(event)
	}
}

func issueMessage(kind types.IssueKind, snapshot types.Snapshot) string {
	switch kind {
	case types.IssuePeerIsolation:
		return fmt.Sprintf("consensus client has %d peers", snapshot.Reports[types.ComponentConsensus].PeerCount())
	case types.IssueDiskCritical:
		return fmt.Sprintf("%.1fGB disk free", snapshot.System.DiskFreeGB)
	case types.IssueAppHashMismatch:
		return "app hash mismatch in consensus logs"
	case types.IssueStateCorruption:
		return "panic with state corruption in consensus logs"
	case types.IssueMemoryLeak:
		return "node process memory above limit"
	}
	return string(kind)
}

func copyInstalled(in map[types.Component]string) map[types.Component]string {
	out := make(map[types.Component]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
