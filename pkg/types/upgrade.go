package types

import (
	"time"
)

// UpgradeOutcome classifies how an upgrade attempt ended
type UpgradeOutcome string

const (
	OutcomeSucceeded      UpgradeOutcome = "succeeded"
	OutcomeDryRun         UpgradeOutcome = "dry_run"
	OutcomeAborted        UpgradeOutcome = "aborted"
	OutcomeRolledBack     UpgradeOutcome = "rolled_back"
	OutcomeRollbackFailed UpgradeOutcome = "rollback_failed"

	// OutcomeRecoveryFailed is an abort at StopService after which the
	// unchanged service could not be started again
	OutcomeRecoveryFailed UpgradeOutcome = "stop_recovery_failed"
)

// Description is the operator facing summary of an outcome
func (o UpgradeOutcome) Description() string {
	switch o {
	case OutcomeSucceeded:
		return "upgrade completed"
	case OutcomeDryRun:
		return "dry run passed preflight; nothing was changed"
	case OutcomeAborted:
		return "aborted before any change"
	case OutcomeRolledBack:
		return "changed and rolled back"
	case OutcomeRollbackFailed:
		return "changed and rollback also failed"
	case OutcomeRecoveryFailed:
		return "aborted at stop and the service could not be restarted"
	default:
		return string(o)
	}
}

// UpgradeRecord is an append-only audit entry for one upgrade attempt
type UpgradeRecord struct {
	ID                string         `json:"id"`
	Component         Component      `json:"component"`
	FromVersion       string         `json:"from_version"`
	ToVersion         string         `json:"to_version"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	DryRun            bool           `json:"dry_run"`
	Success           bool           `json:"success"`
	Error             string         `json:"error,omitempty"`
	BackupPath        string         `json:"backup_path,omitempty"`
	Outcome           UpgradeOutcome `json:"outcome"`
	FinalState        string         `json:"final_state"`
	RollbackAttempted bool           `json:"rollback_attempted"`
}

// Duration returns the wall clock time the attempt took
func (r UpgradeRecord) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// ScheduleStatus is the lifecycle state of a scheduled upgrade
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleApproved  ScheduleStatus = "approved"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// Open reports whether the entry still occupies its maintenance window
func (s ScheduleStatus) Open() bool {
	return s == SchedulePending || s == ScheduleApproved
}

// ScheduledUpgrade is an upgrade planned for a maintenance window
type ScheduledUpgrade struct {
	ID                string         `json:"id"`
	Component         Component      `json:"component"`
	CurrentVersion    string         `json:"current_version"`
	TargetVersion     string         `json:"target_version"`
	ScheduledTime     time.Time      `json:"scheduled_time"`
	EstimatedDuration Duration       `json:"estimated_duration"`
	ApprovalRequired  bool           `json:"approval_required"`
	Notes             string         `json:"notes,omitempty"`
	Status            ScheduleStatus `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
}

// End returns the end of the entry's maintenance window
func (u ScheduledUpgrade) End() time.Time {
	return u.ScheduledTime.Add(u.EstimatedDuration.Std())
}

// Covers reports whether t falls inside [start, start+duration]
func (u ScheduledUpgrade) Covers(t time.Time) bool {
	return !t.Before(u.ScheduledTime) && !t.After(u.End())
}

// GovernanceProposal is an on-chain software upgrade plan
type GovernanceProposal struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Component     Component `json:"component"`
	TargetVersion string    `json:"target_version"`
	UpgradeHeight int64     `json:"upgrade_height"`
}
