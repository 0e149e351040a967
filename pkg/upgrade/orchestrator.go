package upgrade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/filelock"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/release"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// ServiceController starts, stops and queries a node service
type ServiceController interface {
	IsActive(ctx context.Context, name string) (bool, error)
	Stop(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
}

// Prober measures service and host health
type Prober interface {
	Probe(ctx context.Context, svc types.ServiceIdentity) types.HealthReport
	ProbeSystem(ctx context.Context) types.SystemReport
}

// Config holds the orchestration limits
type Config struct {
	BackupDir string

	// WorkDir is where new binaries are staged (default: os.TempDir)
	WorkDir string

	// MinDiskGB is the free space preflight requires
	MinDiskGB float64

	// MaxDuration bounds a whole upgrade
	MaxDuration time.Duration

	// RollbackTimeout bounds the rollback, which runs after MaxDuration
	RollbackTimeout time.Duration

	StopSettle      time.Duration
	StartSettle     time.Duration
	PostVerifyGrace time.Duration

	// ContainerMode skips the unit liveness checks
	ContainerMode bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BackupDir:       "/var/lib/story-sentinel/backups",
		MinDiskGB:       5,
		MaxDuration:     30 * time.Minute,
		RollbackTimeout: 5 * time.Minute,
		StopSettle:      5 * time.Second,
		StartSettle:     10 * time.Second,
		PostVerifyGrace: 30 * time.Second,
	}
}

// Request asks for one component to be moved to Target
type Request struct {
	Service types.ServiceIdentity
	Target  types.Version
	DryRun  bool

	// Force skips the host health gate in preflight. The disk floor still applies.
	Force bool
}

// Result is the outcome of one orchestration
type Result struct {
	Record  types.UpgradeRecord
	State   State
	Outcome types.UpgradeOutcome
	Message string
	Err     error
}

// Success reports whether the upgrade (or dry run) passed
func (r *Result) Success() bool {
	return r.Record.Success
}

// Orchestrator runs the upgrade state machine for one component at a time
type Orchestrator struct {
	config    Config
	services  ServiceController
	installer BinaryInstaller
	prober    Prober
	versions  VersionReader
	installed *VersionCache
	history   *HistoryLog
	events    events.Publisher
	clock     clock.Clock
	locks     *kmutex.Kmutex
	logger    zerolog.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(config Config, services ServiceController, installer BinaryInstaller, prober Prober, history *HistoryLog) *Orchestrator {
	if history == nil {
		history = NewMemoryHistory()
	}
	versions := NewExecVersionReader()
	return &Orchestrator{
		config:    config,
		services:  services,
		installer: installer,
		prober:    prober,
		versions:  versions,
		installed: NewVersionCache(versions),
		history:   history,
		clock:     clock.WallClock,
		locks:     kmutex.New(),
		logger:    log.WithComponent("upgrade"),
	}
}

// WithVersionReader sets how installed versions are read
func (o *Orchestrator) WithVersionReader(versions VersionReader) *Orchestrator {
	o.versions = versions
	o.installed = NewVersionCache(versions)
	return o
}

// WithEvents publishes upgrade events to publisher
func (o *Orchestrator) WithEvents(publisher events.Publisher) *Orchestrator {
	o.events = publisher
	return o
}

// WithClock sets the clock used for timestamps and settle waits
func (o *Orchestrator) WithClock(clk clock.Clock) *Orchestrator {
	o.clock = clk
	return o
}

// History returns the upgrade history log
func (o *Orchestrator) History() *HistoryLog {
	return o.history
}

// Versions returns the cache of installed versions
func (o *Orchestrator) Versions() *VersionCache {
	return o.installed
}

// InstalledVersion reads the version of the installed binary, falling back
// to the last known version or UnknownVersion.
func (o *Orchestrator) InstalledVersion(ctx context.Context, svc types.ServiceIdentity) string {
	v, err := o.installed.Refresh(ctx, svc)
	if err != nil {
		o.logger.Warn().Err(err).Str("component", string(svc.Component)).Msg("Failed to read installed version")
	}
	return v
}

// Upgrade runs one orchestration and appends exactly one history record.
// Orchestrations of the same component are serialised within the process
// and, through a lock file under BackupDir, across processes.
func (o *Orchestrator) Upgrade(ctx context.Context, req Request) *Result {
	key := string(req.Service.Component)
	o.locks.Lock(key)
	defer o.locks.Unlock(key)

	var busy error
	if !req.DryRun {
		lock, err := o.lockComponent(req.Service.Component)
		busy = err
		defer lock.Release()
	}

	opCtx, cancel := context.WithTimeout(ctx, o.config.MaxDuration)
	defer cancel()

	record := types.UpgradeRecord{
		ID:          uuid.New().String(),
		Component:   req.Service.Component,
		FromVersion: o.InstalledVersion(opCtx, req.Service),
		ToVersion:   req.Target.Number,
		StartTime:   o.clock.Now(),
		DryRun:      req.DryRun,
	}

	r := &run{
		o:      o,
		req:    req,
		record: &record,
		busy:   busy,
		logger: log.WithUpgrade(record.ID, string(req.Service.Component)),
	}

	r.logger.Info().
		Str("from", record.FromVersion).
		Str("to", record.ToVersion).
		Bool("dry_run", req.DryRun).
		Msg("Starting upgrade")
	o.publish(events.EventUpgradeStarted, events.SeverityInfo, &record,
		fmt.Sprintf("Upgrading %s from %s to %s", req.Service.Name, record.FromVersion, record.ToVersion))

	outcome, err := r.execute(opCtx)

	record.EndTime = o.clock.Now()
	record.Outcome = outcome
	record.FinalState = r.state.String()
	record.Success = outcome == types.OutcomeSucceeded || outcome == types.OutcomeDryRun
	if err != nil {
		record.Error = err.Error()
	}

	if appendErr := o.history.Append(record); appendErr != nil {
		r.logger.Error().Err(appendErr).Msg("Upgrade record kept in memory only")
	}
	metrics.RecordUpgrade(record)

	result := &Result{
		Record:  record,
		State:   r.state,
		Outcome: outcome,
		Message: outcome.Description(),
		Err:     err,
	}
	if err != nil {
		result.Message = fmt.Sprintf("%s: %v", outcome.Description(), err)
	}

	o.finish(r, result)
	return result
}

// lockComponent takes the cross-process lock for component. Only a held
// lock is returned as an error; a lock that cannot be created is logged
// and the upgrade proceeds, since the backup step needs the same directory.
func (o *Orchestrator) lockComponent(component types.Component) (*filelock.Lock, error) {
	path := filepath.Join(o.config.BackupDir, ".locks", string(component)+".lock")
	lock, err := filelock.TryAcquire(path)
	switch {
	case err == nil:
		return lock, nil
	case errors.Is(err, filelock.ErrLocked):
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	default:
		o.logger.Warn().Err(err).Str("component", string(component)).Msg("Upgrade lock unavailable")
		return nil, nil
	}
}

func (o *Orchestrator) finish(r *run, result *Result) {
	record := &result.Record
	took := strings.TrimSpace(humanize.RelTime(record.StartTime, record.EndTime, "", ""))

	switch result.Outcome {
	case types.OutcomeSucceeded, types.OutcomeDryRun:
		r.logger.Info().Str("outcome", string(result.Outcome)).Dur("duration", record.Duration()).Msg("Upgrade finished")
		o.publish(events.EventUpgradeSucceeded, events.SeverityInfo, record,
			fmt.Sprintf("%s %s: %s (took %s)", r.req.Service.Name, record.ToVersion, result.Outcome.Description(), took))
	case types.OutcomeRolledBack:
		r.logger.Warn().Err(result.Err).Msg("Upgrade rolled back")
		o.publish(events.EventUpgradeRolledBack, events.SeverityWarning, record,
			fmt.Sprintf("%s %s: %s", r.req.Service.Name, record.ToVersion, result.Message))
	default:
		r.logger.Error().Err(result.Err).Str("outcome", string(result.Outcome)).Msg("Upgrade failed")
		severity := events.SeverityWarning
		if result.Outcome == types.OutcomeRollbackFailed || result.Outcome == types.OutcomeRecoveryFailed {
			severity = events.SeverityCritical
		}
		o.publish(events.EventUpgradeFailed, severity, record,
			fmt.Sprintf("%s %s: %s", r.req.Service.Name, record.ToVersion, result.Message))
	}
}

func (o *Orchestrator) publish(eventType events.EventType, severity events.Severity, record *types.UpgradeRecord, message string) {
	if o.events == nil {
		return
	}
	event := events.NewEvent(eventType, severity, message).
		With("component", string(record.Component)).
		With("version", record.ToVersion).
		With("upgrade_id", record.ID)
	if record.Outcome != "" {
		event.With("outcome", string(record.Outcome))
	}
	o.events.Publish(event)
}

// run is the state of one orchestration
type run struct {
	o          *Orchestrator
	req        Request
	record     *types.UpgradeRecord
	busy       error
	state      State
	logger     zerolog.Logger
	backupPath string
}

func (r *run) enter(s State) {
	r.state = s
	r.logger.Debug().Str("state", s.String()).Msg("Upgrade state")
}

func (r *run) execute(ctx context.Context) (types.UpgradeOutcome, error) {
	svc := r.req.Service

	r.enter(StatePreflightCheck)
	if r.busy != nil {
		return r.abort(r.busy)
	}
	if err := r.preflight(ctx); err != nil {
		return r.abort(err)
	}
	if r.req.DryRun {
		r.enter(StateDone)
		return types.OutcomeDryRun, nil
	}

	r.enter(StateBackup)
	backupPath, err := r.o.createBackup(svc, r.record.FromVersion)
	if backupPath != "" {
		r.backupPath = backupPath
		r.record.BackupPath = backupPath
	}
	if err != nil {
		return r.abort(errors.Annotate(err, "backup"))
	}

	workDir, err := os.MkdirTemp(r.o.config.WorkDir, "sentinel-upgrade-")
	if err != nil {
		return r.abort(errors.Annotate(err, "failed to create work directory"))
	}
	defer os.RemoveAll(workDir)

	r.enter(StateDownload)
	fetched, err := r.o.installer.Fetch(ctx, svc, r.req.Target, workDir)
	if err != nil {
		return r.abort(timedOut(ctx, errors.Annotate(err, "download")))
	}

	r.enter(StateVerify)
	if err := r.verify(ctx, fetched); err != nil {
		return r.abort(timedOut(ctx, errors.Annotate(err, "verify")))
	}

	if err := ctx.Err(); err != nil {
		return r.abort(timedOut(ctx, errors.Annotate(err, "cancelled before stopping the service")))
	}

	// The node is touched from here on. Caller cancellation no longer
	// interrupts, the overall deadline still does.
	unsafeCtx, cancel := shield(ctx)
	defer cancel()

	r.enter(StateStopService)
	if err := r.stopService(unsafeCtx); err != nil {
		cause := timedOut(unsafeCtx, err)
		if restartErr := r.restartAfterFailedStop(); restartErr != nil {
			r.enter(StateFailed)
			return types.OutcomeRecoveryFailed, fmt.Errorf("%w; %w: %v", cause, ErrRecovery, restartErr)
		}
		return r.abort(cause)
	}

	r.enter(StateReplaceBinary)
	if err := r.replaceBinary(fetched.Binary); err != nil {
		return r.rollback(err)
	}

	r.enter(StateStartService)
	if err := unsafeCtx.Err(); err != nil {
		return r.rollback(timedOut(unsafeCtx, err))
	}
	if err := r.startService(unsafeCtx); err != nil {
		return r.rollback(timedOut(unsafeCtx, err))
	}

	r.enter(StatePostVerify)
	if err := unsafeCtx.Err(); err != nil {
		return r.rollback(timedOut(unsafeCtx, err))
	}
	if err := r.postVerify(unsafeCtx); err != nil {
		return r.rollback(timedOut(unsafeCtx, err))
	}

	r.enter(StateDone)
	return types.OutcomeSucceeded, nil
}

// shield detaches ctx from cancellation but keeps its deadline
func shield(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithCancel(detached)
}

// timedOut marks err as a timeout when ctx's deadline has passed
func timedOut(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (r *run) abort(err error) (types.UpgradeOutcome, error) {
	r.enter(StateFailed)
	return types.OutcomeAborted, err
}

func (r *run) preflight(ctx context.Context) error {
	system := r.o.prober.ProbeSystem(ctx)

	if system.DiskFreeGB < r.o.config.MinDiskGB {
		return fmt.Errorf("%w: insufficient disk space: %.1fGB free, %.1fGB required",
			ErrPreflight, system.DiskFreeGB, r.o.config.MinDiskGB)
	}
	if !system.Healthy {
		if !r.req.Force {
			return fmt.Errorf("%w: system unhealthy: %s", ErrPreflight, system.Message)
		}
		r.logger.Warn().Str("reason", system.Message).Msg("System unhealthy, continuing because of force")
	}
	if strings.TrimSpace(r.req.Target.Number) == "" {
		return fmt.Errorf("%w: target version is empty", ErrPreflight)
	}

	report := r.o.prober.Probe(ctx, r.req.Service)
	if !report.Synced() {
		r.logger.Warn().Msg("Node is still syncing; upgrading anyway")
	}
	return nil
}

func (r *run) verify(ctx context.Context, fetched Fetched) error {
	info, err := os.Stat(fetched.Binary)
	if err != nil {
		return errors.Trace(err)
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return errors.Errorf("%s is not executable", fetched.Binary)
	}

	out, err := r.o.versions.Read(ctx, fetched.Binary, r.req.Service.VersionArgs)
	if err != nil {
		return errors.Annotate(err, "new binary does not run")
	}
	r.logger.Info().Str("reported", out).Msg("New binary runs")

	if want := r.req.Target.Checksum; want != "" && fetched.Archive != "" {
		got, err := release.ChecksumFile(fetched.Archive)
		if err != nil {
			return errors.Trace(err)
		}
		if !strings.EqualFold(got, want) {
			return errors.Errorf("checksum mismatch for %s: expected %s, got %s", filepath.Base(fetched.Archive), want, got)
		}
	}
	return nil
}

func (r *run) stopService(ctx context.Context) error {
	name := r.req.Service.ServiceName
	if err := r.o.services.Stop(ctx, name); err != nil {
		return errors.Annotatef(err, "failed to stop %s", name)
	}
	if err := r.o.settle(ctx, r.o.config.StopSettle); err != nil {
		return errors.Trace(err)
	}
	if r.o.config.ContainerMode {
		return nil
	}

	active, err := r.o.services.IsActive(ctx, name)
	if err != nil {
		return errors.Annotatef(err, "failed to query %s after stop", name)
	}
	if active {
		return errors.Errorf("%s is still active after stop", name)
	}
	return nil
}

// restartAfterFailedStop brings the untouched service back up
func (r *run) restartAfterFailedStop() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.o.config.RollbackTimeout)
	defer cancel()

	if err := r.o.services.Start(ctx, r.req.Service.ServiceName); err != nil {
		r.logger.Error().Err(err).Msg("Failed to restart service after failed stop")
		return errors.Annotatef(err, "failed to restart %s", r.req.Service.ServiceName)
	}
	return nil
}

func (r *run) safetyPath() string {
	return filepath.Join(r.backupPath, filepath.Base(r.req.Service.BinaryPath)+".safety")
}

func (r *run) replaceBinary(newBinary string) error {
	dst := r.req.Service.BinaryPath
	if _, err := os.Stat(dst); err == nil {
		if err := copyFile(dst, r.safetyPath(), 0755); err != nil {
			return errors.Annotate(err, "failed to save safety copy")
		}
	}
	if err := r.o.installer.Install(newBinary, dst); err != nil {
		return errors.Annotate(err, "failed to replace binary")
	}
	return nil
}

func (r *run) startService(ctx context.Context) error {
	name := r.req.Service.ServiceName
	if err := r.o.services.Start(ctx, name); err != nil {
		return errors.Annotatef(err, "failed to start %s", name)
	}
	if err := r.o.settle(ctx, r.o.config.StartSettle); err != nil {
		return errors.Trace(err)
	}
	if r.o.config.ContainerMode {
		return nil
	}

	active, err := r.o.services.IsActive(ctx, name)
	if err != nil {
		return errors.Annotatef(err, "failed to query %s after start", name)
	}
	if !active {
		return errors.Errorf("%s is not active after start", name)
	}
	return nil
}

func (r *run) postVerify(ctx context.Context) error {
	svc := r.req.Service

	installed, err := r.o.versions.Read(ctx, svc.BinaryPath, svc.VersionArgs)
	if err != nil {
		return errors.Annotate(err, "failed to read installed version")
	}
	want := types.NormalizeVersion(r.req.Target.Number)
	if !strings.Contains(installed, want) {
		return errors.Errorf("version mismatch: expected %s, got %s", want, installed)
	}

	report := r.o.prober.Probe(ctx, svc)
	if !report.Healthy {
		r.logger.Warn().Str("reason", report.Message).Msg("Service not healthy yet, waiting")
		if err := r.o.settle(ctx, r.o.config.PostVerifyGrace); err != nil {
			return errors.Trace(err)
		}
		report = r.o.prober.Probe(ctx, svc)
	}

	if !r.o.config.ContainerMode && !report.ServiceActive() {
		return errors.Errorf("%s is not running after upgrade: %s", svc.ServiceName, report.Message)
	}
	return nil
}

// rollback restores the previous binary. It runs once, on its own
// deadline, and is never retried.
func (r *run) rollback(cause error) (types.UpgradeOutcome, error) {
	r.enter(StateRollingBack)
	r.record.RollbackAttempted = true
	r.logger.Warn().Err(cause).Msg("Rolling back")

	ctx, cancel := context.WithTimeout(context.Background(), r.o.config.RollbackTimeout)
	defer cancel()

	if err := r.restore(ctx); err != nil {
		r.enter(StateFailed)
		return types.OutcomeRollbackFailed, &rollbackError{cause: cause, rollback: err}
	}

	r.enter(StateRolledBack)
	return types.OutcomeRolledBack, cause
}

func (r *run) restore(ctx context.Context) error {
	svc := r.req.Service

	if err := r.o.services.Stop(ctx, svc.ServiceName); err != nil {
		r.logger.Warn().Err(err).Msg("Stop during rollback failed, continuing")
	}

	src := r.safetyPath()
	if _, err := os.Stat(src); err != nil {
		src = filepath.Join(r.backupPath, filepath.Base(svc.BinaryPath))
		if _, err := os.Stat(src); err != nil {
			return errors.Errorf("no previous binary to restore in %s", r.backupPath)
		}
	}
	if err := r.o.installer.Install(src, svc.BinaryPath); err != nil {
		return errors.Annotate(err, "failed to restore previous binary")
	}

	if err := r.o.services.Start(ctx, svc.ServiceName); err != nil {
		return errors.Annotatef(err, "failed to start %s after restore", svc.ServiceName)
	}
	if err := r.o.settle(ctx, r.o.config.StartSettle); err != nil {
		return errors.Trace(err)
	}
	if r.o.config.ContainerMode {
		return nil
	}
	active, err := r.o.services.IsActive(ctx, svc.ServiceName)
	if err != nil {
		return errors.Trace(err)
	}
	if !active {
		return errors.Errorf("%s is not active after restore", svc.ServiceName)
	}
	return nil
}

// settle waits d on the orchestrator clock unless ctx ends first
func (o *Orchestrator) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clock.After(d):
		return nil
	}
}
