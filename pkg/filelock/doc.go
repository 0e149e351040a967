/*
Package filelock coordinates the monitor daemon and one-shot CLI commands
that share the data directory.

Both kinds of process read and rewrite the same files (the upgrade
schedule and history) and may upgrade the same binary. An in-process
mutex cannot see the other process, so each shared resource gets a lock
file next to it:

	<DataDir>/upgrade_schedule.json.lock   schedule read-modify-write
	<DataDir>/upgrade_history.json.lock    history append
	<BackupDir>/.locks/<component>.lock    one upgrade per component

Locks are advisory flock(2) locks and are dropped by the kernel when the
holding process exits, so a crashed command never leaves a stale lock.

# Usage

	lock, err := filelock.Acquire(path + ".lock")
	if err != nil {
		return err
	}
	defer lock.Release()
*/
package filelock
