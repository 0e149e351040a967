package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/filelock"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/utils/v4"
	"github.com/rs/zerolog"
)

// Config controls maintenance windows and persistence
type Config struct {
	// Path is the JSON schedule file. Empty keeps the schedule in memory.
	Path string

	// WindowHour and WindowMinute give the daily maintenance window in UTC
	WindowHour   int
	WindowMinute int

	// ConflictBuffer separates a new entry from the end of an open one
	ConflictBuffer time.Duration

	// Durations estimates how long an upgrade of each component takes
	Durations map[types.Component]time.Duration

	// GovernanceLead is how long before the estimated upgrade height a
	// governance upgrade is scheduled
	GovernanceLead time.Duration

	// GovernanceDuration is the window reserved for a governance upgrade
	GovernanceDuration time.Duration
}

// DefaultConfig returns a 02:00 UTC window with a 30 minute buffer
func DefaultConfig() Config {
	return Config{
		WindowHour:     2,
		ConflictBuffer: 30 * time.Minute,
		Durations: map[types.Component]time.Duration{
			types.ComponentConsensus: 15 * time.Minute,
			types.ComponentExecution: 10 * time.Minute,
		},
		GovernanceLead:     30 * time.Minute,
		GovernanceDuration: 30 * time.Minute,
	}
}

// CalendarWriter renders the schedule after every change
type CalendarWriter interface {
	WriteCalendar(entries []types.ScheduledUpgrade) error
}

var errCorrupt = errors.New("corrupt schedule")

// Scheduler keeps the time-ordered queue of planned upgrades. With a Path
// the file is the shared copy: every read and change first reloads it
// under a lock file, so a CLI command and the monitor see each other's
// changes.
type Scheduler struct {
	config   Config
	clock    clock.Clock
	calendar CalendarWriter
	events   events.Publisher
	logger   zerolog.Logger

	mu      sync.Mutex
	entries []types.ScheduledUpgrade

	// unsaved is set while the file lags memory after a failed write.
	// Reloads are skipped until a write succeeds.
	unsaved bool
}

// New creates a scheduler and loads any schedule saved at config.Path. An
// unreadable file is logged and the schedule starts empty. A corrupt file
// is an error.
func New(config Config) (*Scheduler, error) {
	s := &Scheduler{
		config: config,
		clock:  clock.WallClock,
		logger: log.WithComponent("scheduler"),
	}
	if config.Path == "" {
		return s, nil
	}

	if err := s.load(); err != nil {
		if errors.Is(err, errCorrupt) {
			return nil, err
		}
		s.logger.Warn().Err(err).Str("path", config.Path).Msg("Schedule unreadable, starting empty")
		return s, nil
	}
	s.logger.Info().Int("entries", len(s.entries)).Msg("Loaded upgrade schedule")
	return s, nil
}

// WithClock sets the time source
func (s *Scheduler) WithClock(clk clock.Clock) *Scheduler {
	s.clock = clk
	return s
}

// WithCalendar regenerates a calendar on every change
func (s *Scheduler) WithCalendar(calendar CalendarWriter) *Scheduler {
	s.calendar = calendar
	return s
}

// WithEvents publishes schedule changes to publisher
func (s *Scheduler) WithEvents(publisher events.Publisher) *Scheduler {
	s.events = publisher
	return s
}

// Schedule adds an upgrade of component from current to target. With a nil
// at, the next maintenance window after now is used, moved past any open
// entry whose window it falls into.
func (s *Scheduler) Schedule(component types.Component, current, target string, at *time.Time, autoApprove bool) (*types.ScheduledUpgrade, error) {
	if target == "" {
		return nil, fmt.Errorf("target version is required")
	}
	duration, ok := s.config.Durations[component]
	if !ok {
		return nil, fmt.Errorf("unknown component %q", component)
	}
	if current == "" {
		current = "unknown"
	}

	var (
		when time.Time
		out  types.ScheduledUpgrade
	)
	s.update(func() bool {
		if at != nil {
			when = at.UTC()
		} else {
			when = s.resolveConflicts(s.nextWindow())
		}

		entry := types.ScheduledUpgrade{
			ID:                uuid.New().String(),
			Component:         component,
			CurrentVersion:    current,
			TargetVersion:     target,
			ScheduledTime:     when,
			EstimatedDuration: types.Duration(duration),
			ApprovalRequired:  !autoApprove,
			Notes:             fmt.Sprintf("Upgrade from %s to %s", current, target),
			Status:            types.SchedulePending,
			CreatedAt:         s.clock.Now().UTC(),
		}
		if autoApprove {
			entry.Status = types.ScheduleApproved
		}
		out = s.add(entry)
		return true
	})

	s.logger.Info().
		Str("component", string(component)).
		Str("target", target).
		Time("at", when).
		Bool("auto_approved", autoApprove).
		Msg("Upgrade scheduled")
	s.publish(events.EventUpgradeScheduled, out)
	return &out, nil
}

// ScheduleGovernance plans the upgrade a governance proposal requires,
// GovernanceLead before the estimated time of its upgrade height.
func (s *Scheduler) ScheduleGovernance(proposal types.GovernanceProposal, current string, currentHeight int64, estimator HeightEstimator) (*types.ScheduledUpgrade, error) {
	if proposal.TargetVersion == "" || proposal.UpgradeHeight <= 0 {
		return nil, fmt.Errorf("proposal %s has no upgrade plan", proposal.ID)
	}
	component := proposal.Component
	if component == "" {
		component = types.ComponentConsensus
	}
	if existing, ok := s.find(component, proposal.TargetVersion); ok {
		return &existing, nil
	}

	eta, err := estimator.Estimate(currentHeight, proposal.UpgradeHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate time of height %d: %w", proposal.UpgradeHeight, err)
	}
	if current == "" {
		current = "unknown"
	}

	when := eta.Add(-s.config.GovernanceLead).UTC()
	entry := types.ScheduledUpgrade{
		ID:                uuid.New().String(),
		Component:         component,
		CurrentVersion:    current,
		TargetVersion:     proposal.TargetVersion,
		ScheduledTime:     when,
		EstimatedDuration: types.Duration(s.config.GovernanceDuration),
		ApprovalRequired:  true,
		Notes:             fmt.Sprintf("Governance proposal #%s: %s (height %d)", proposal.ID, proposal.Title, proposal.UpgradeHeight),
		Status:            types.SchedulePending,
		CreatedAt:         s.clock.Now().UTC(),
	}

	var (
		out   types.ScheduledUpgrade
		added bool
	)
	s.update(func() bool {
		for _, e := range s.entries {
			if e.Component == component && e.TargetVersion == proposal.TargetVersion && e.Status.Open() {
				out = e
				return false
			}
		}
		out = s.add(entry)
		added = true
		return true
	})
	if !added {
		return &out, nil
	}

	s.logger.Info().
		Str("proposal", proposal.ID).
		Int64("height", proposal.UpgradeHeight).
		Time("at", when).
		Msg("Governance upgrade scheduled")
	s.publish(events.EventUpgradeScheduled, out)
	return &out, nil
}

// Approve moves the pending entry at index to approved
func (s *Scheduler) Approve(index int) bool {
	entry, ok := s.transition(index, types.ScheduleApproved, func(st types.ScheduleStatus) bool {
		return st == types.SchedulePending
	})
	if ok {
		s.logger.Info().Str("component", string(entry.Component)).Str("target", entry.TargetVersion).Msg("Upgrade approved")
		s.publish(events.EventUpgradeApproved, entry)
	}
	return ok
}

// Cancel moves the pending or approved entry at index to cancelled
func (s *Scheduler) Cancel(index int) bool {
	entry, ok := s.transition(index, types.ScheduleCancelled, types.ScheduleStatus.Open)
	if ok {
		s.logger.Info().Str("component", string(entry.Component)).Str("target", entry.TargetVersion).Msg("Upgrade cancelled")
		s.publish(events.EventUpgradeCancelled, entry)
	}
	return ok
}

// CancelID cancels the open entry with the given ID
func (s *Scheduler) CancelID(id string) bool {
	index := s.IndexOf(id)
	if index < 0 {
		return false
	}
	return s.Cancel(index)
}

// MarkCompleted completes the first approved entry of component with the
// given target version
func (s *Scheduler) MarkCompleted(component types.Component, version string) bool {
	done := s.update(func() bool {
		for i := range s.entries {
			e := &s.entries[i]
			if e.Component == component && e.TargetVersion == version && e.Status == types.ScheduleApproved {
				e.Status = types.ScheduleCompleted
				return true
			}
		}
		return false
	})
	if done {
		s.logger.Info().Str("component", string(component)).Str("target", version).Msg("Upgrade marked completed")
	}
	return done
}

// Due returns the open entries scheduled no later than now+within
func (s *Scheduler) Due(within time.Duration) []types.ScheduledUpgrade {
	cutoff := s.clock.Now().Add(within)

	var due []types.ScheduledUpgrade
	for _, e := range s.List() {
		if e.Status.Open() && !e.ScheduledTime.After(cutoff) {
			due = append(due, e)
		}
	}
	return due
}

// PruneOld drops completed and cancelled entries scheduled before
// now-olderThan. Open entries are never dropped.
func (s *Scheduler) PruneOld(olderThan time.Duration) int {
	cutoff := s.clock.Now().Add(-olderThan)

	removed := 0
	s.update(func() bool {
		kept := s.entries[:0]
		for _, e := range s.entries {
			if !e.Status.Open() && e.ScheduledTime.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		s.entries = kept
		return removed > 0
	})
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Pruned old schedule entries")
	}
	return removed
}

// List returns a copy of every entry in schedule order
func (s *Scheduler) List() []types.ScheduledUpgrade {
	var out []types.ScheduledUpgrade
	s.view(func() {
		out = make([]types.ScheduledUpgrade, len(s.entries))
		copy(out, s.entries)
	})
	return out
}

// IndexOf returns the position of the entry with id, or -1
func (s *Scheduler) IndexOf(id string) int {
	for i, e := range s.List() {
		if e.ID == id {
			return i
		}
	}
	return -1
}

var statusIcons = map[types.ScheduleStatus]string{
	types.SchedulePending:   "⏳",
	types.ScheduleApproved:  "✅",
	types.ScheduleCompleted: "✓",
	types.ScheduleCancelled: "❌",
}

// Summary renders the schedule for terminals
func (s *Scheduler) Summary() string {
	entries := s.List()

	var b strings.Builder
	b.WriteString("Scheduled Upgrades:\n")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	if len(entries) == 0 {
		b.WriteString("No upgrades scheduled\n")
		return b.String()
	}

	for i, e := range entries {
		icon, ok := statusIcons[e.Status]
		if !ok {
			icon = "?"
		}
		fmt.Fprintf(&b, "[%d] %s %s → %s (%s)\n", i, icon, e.Component, e.TargetVersion, e.Status)
		fmt.Fprintf(&b, "    Scheduled: %s\n", e.ScheduledTime.UTC().Format("2006-01-02 15:04 UTC"))
		fmt.Fprintf(&b, "    Current:   %s\n", e.CurrentVersion)
		fmt.Fprintf(&b, "    Duration:  %s\n", e.EstimatedDuration.Std())
		if e.Notes != "" {
			fmt.Fprintf(&b, "    Notes:     %s\n", e.Notes)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// nextWindow returns the first maintenance window strictly after now
func (s *Scheduler) nextWindow() time.Time {
	now := s.clock.Now().UTC()
	window := time.Date(now.Year(), now.Month(), now.Day(), s.config.WindowHour, s.config.WindowMinute, 0, 0, time.UTC)
	if !window.After(now) {
		window = window.AddDate(0, 0, 1)
	}
	return window
}

// resolveConflicts moves candidate past every open entry covering it,
// repeating until no entry does. Callers run inside update.
func (s *Scheduler) resolveConflicts(candidate time.Time) time.Time {
	for moved := true; moved; {
		moved = false
		for _, e := range s.entries {
			if e.Status.Open() && e.Covers(candidate) {
				candidate = e.End().Add(s.config.ConflictBuffer)
				moved = true
			}
		}
	}
	return candidate
}

// add inserts entry and keeps the order. Callers run inside update.
func (s *Scheduler) add(entry types.ScheduledUpgrade) types.ScheduledUpgrade {
	s.entries = append(s.entries, entry)
	s.sort()
	return entry
}

func (s *Scheduler) find(component types.Component, target string) (types.ScheduledUpgrade, bool) {
	for _, e := range s.List() {
		if e.Component == component && e.TargetVersion == target && e.Status.Open() {
			return e, true
		}
	}
	return types.ScheduledUpgrade{}, false
}

func (s *Scheduler) transition(index int, to types.ScheduleStatus, allowed func(types.ScheduleStatus) bool) (types.ScheduledUpgrade, bool) {
	var out types.ScheduledUpgrade
	ok := s.update(func() bool {
		if index < 0 || index >= len(s.entries) {
			return false
		}
		e := &s.entries[index]
		if !allowed(e.Status) {
			return false
		}
		e.Status = to
		out = *e
		return true
	})
	return out, ok
}

// update runs change against the latest saved schedule while holding the
// lock file, and persists when change reports a modification
func (s *Scheduler) update(change func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	release := s.lockFile(filelock.Acquire)
	defer release()

	s.refresh()
	if !change() {
		return false
	}
	s.persist()
	return true
}

// view runs read against the latest saved schedule
func (s *Scheduler) view(read func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	release := s.lockFile(filelock.AcquireShared)
	defer release()

	s.refresh()
	read()
}

// lockFile takes the schedule's lock file. Without one the schedule is
// still usable, so failures are logged and nothing is held.
func (s *Scheduler) lockFile(acquire func(string) (*filelock.Lock, error)) func() {
	if s.config.Path == "" {
		return func() {}
	}
	lock, err := acquire(s.config.Path + ".lock")
	if err != nil {
		s.logger.Debug().Err(err).Msg("Schedule lock unavailable")
		return func() {}
	}
	return func() { _ = lock.Release() }
}

// refresh reloads the saved schedule unless memory holds unsaved changes.
// Errors are logged and memory is kept. Callers hold s.mu.
func (s *Scheduler) refresh() {
	if s.config.Path == "" || s.unsaved {
		return
	}
	if err := s.load(); err != nil {
		s.logger.Warn().Err(err).Str("path", s.config.Path).Msg("Failed to reload schedule")
	}
}

// load replaces entries with the saved schedule. A missing file keeps them.
func (s *Scheduler) load() error {
	data, err := os.ReadFile(s.config.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read schedule: %w", err)
	}

	var entries []types.ScheduledUpgrade
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("%w %s: %v", errCorrupt, s.config.Path, err)
		}
	}
	s.entries = entries
	s.sort()
	return nil
}

// sort orders entries by time. Entries at the same time keep insertion order.
func (s *Scheduler) sort() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].ScheduledTime.Before(s.entries[j].ScheduledTime)
	})
}

// persist writes the schedule and calendar. Failures are logged and the
// in-memory schedule stays authoritative. Callers hold s.mu.
func (s *Scheduler) persist() {
	metrics.RecordSchedule(s.entries)

	if s.config.Path != "" {
		data, err := json.MarshalIndent(s.entries, "", "  ")
		if err == nil {
			if err = os.MkdirAll(filepath.Dir(s.config.Path), 0755); err == nil {
				err = utils.AtomicWriteFile(s.config.Path, data, 0644)
			}
		}
		s.unsaved = err != nil
		if err != nil {
			s.logger.Error().Err(err).Str("path", s.config.Path).Msg("Failed to save schedule")
		}
	}

	if s.calendar != nil {
		if err := s.calendar.WriteCalendar(s.entries); err != nil {
			s.logger.Error().Err(err).Msg("Failed to write calendar")
		}
	}
}

func (s *Scheduler) publish(eventType events.EventType, entry types.ScheduledUpgrade) {
	if s.events == nil {
		return
	}
	msg := fmt.Sprintf("%s upgrade to %s %s for %s", entry.Component, entry.TargetVersion,
		strings.TrimPrefix(string(eventType), "upgrade."), entry.ScheduledTime.UTC().Format(time.RFC3339))
	s.events.Publish(events.NewEvent(eventType, events.SeverityInfo, msg).
		With("component", string(entry.Component)).
		With("target", entry.TargetVersion).
		With("schedule_id", entry.ID))
}
