/*
Package upgrade replaces a node client binary with a new release and
restores the previous one when the new binary does not come up.

An Orchestrator runs one upgrade at a time per component. The in-process
lock is backed by <BackupDir>/.locks/<component>.lock, so a second sentinel
process (the CLI next to a running monitor) is refused with ErrBusy instead
of racing the first. Every attempt, whatever its outcome, ends in exactly
one types.UpgradeRecord appended to the HistoryLog.

# State Machine

	PreflightCheck ──fail──────────────────────────────► Failed (aborted)
	      │
	      ▼ (dry run stops here ──► Done)
	   Backup ──────fail───────────────────────────────► Failed (aborted)
	      │
	      ▼
	  Download ─────fail───────────────────────────────► Failed (aborted)
	      │
	      ▼
	   Verify ──────fail───────────────────────────────► Failed (aborted)
	      │
	      ▼
	 StopService ───fail──► restart old ──ok───────────► Failed (aborted)
	      │                      └─────fail────────────► Failed (stop_recovery_failed)
	      │
	      ▼
	ReplaceBinary ──fail──┐
	      │               │
	      ▼               │
	StartService ───fail──┤
	      │               ▼
	      ▼          RollingBack ──ok──► RolledBack
	 PostVerify ────fail──┘    │
	      │                    └─fail──► Failed (rollback_failed)
	      ▼
	    Done

Only the states from StopService onward touch the running node. Once the
service is stopped, cancelling the caller's context no longer interrupts
the machine; only the MaxDuration deadline does, and that still leads to a
rollback rather than leaving the node down.

# Backups

Before anything is fetched the current binary is copied to

	<BackupDir>/<component>_<YYYYMMDD_HHMMSS>/

together with the consensus config directory and a metadata.json. Right
before the swap a second copy, <binary>.safety, is taken in the same
directory. Rollback installs the safety copy and falls back to the
primary copy. PruneBackups removes directories older than the retention.

# Fetching

The Installer tries its Retrievers in order. ArtifactRetriever downloads
the release asset with exponential backoff and extracts the binary from a
tar.gz, or uses the download as is when it is not compressed.
SourceBuilder clones the release tag and runs the configured build
command. When the release publishes a checksum the downloaded artifact
must match it.
*/
package upgrade
