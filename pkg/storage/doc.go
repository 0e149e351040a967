/*
Package storage persists sentinel state that must survive a restart in a
single bbolt database file (<DataDir>/sentinel.db by default).

Values are JSON encoded, one bucket per concern:

	┌──────────────── sentinel.db ─────────────────┐
	│ reports        consensus | execution          │
	│                _system | _probed_at           │
	│ releases       consensus | execution          │
	│ notifications  <dedupe key> → last sent time  │
	└───────────────────────────────────────────────┘

The reports bucket holds the last probe snapshot, so the monitor can tell
a health transition from a steady state across restarts. The releases
bucket records the newest upstream release seen per component, which keeps
"new release" notifications to one per tag. ShouldNotify implements a
cooldown per notification key with the check and the update in a single
write transaction.

Reads run in db.View and may proceed concurrently; writes are serialised by
db.Update. Each write reports the store's health to the metrics component
registry, which gates readiness.

Missing keys return an error wrapping ErrNotFound.
*/
package storage
