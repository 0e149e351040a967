/*
Package types defines the core data structures shared by every sentinel
package.

The sentinel watches one host running a consensus client and an execution
client. Everything the probe, the detector, the orchestrator and the scheduler
exchange is declared here so that packages depend on plain values rather than
on each other.

# Core Types

Node identity:
  - Component: consensus or execution
  - ServiceIdentity: binary path, systemd unit, RPC endpoint, release repo,
    artifact and build recipe for one component

Health:
  - HealthReport: immutable verdict for one service with typed checks
    (ConsensusChecks or ExecutionChecks), accessible by name via Checks
  - SystemReport: host CPU, memory, disk and load
  - Snapshot: one probe cycle, one report per component
  - IssueSet: detected operational issues by IssueKind

Releases:
  - Version: release tag with a numeric ordering over digit runs

Upgrades:
  - UpgradeRecord: append-only audit entry with an UpgradeOutcome
  - ScheduledUpgrade: queued upgrade with a pending, approved, completed,
    cancelled lifecycle
  - GovernanceProposal: an on-chain upgrade plan keyed by block height

# Version Ordering

Versions compare by the tuple of integer runs found after stripping any
leading non-digit prefix. Missing trailing components count as zero:

	CompareVersions("v1.10.0", "v1.9.0") // 1
	CompareVersions("1.3", "1.3.0")      // 0
	CompareVersions("v0.9.13", "0.10.0") // -1

Lexical comparison is never used.

# Durations

Duration wraps time.Duration so that schedule files carry "15m0s" rather
than nanosecond integers. Unmarshal also accepts a number of seconds.
*/
package types
