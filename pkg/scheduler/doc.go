/*
Package scheduler keeps the queue of planned node upgrades.

Entries are held in memory, ordered by scheduled time (ties keep insertion
order), and after every change the whole queue is written to a JSON file
with an atomic rename and rendered through an optional CalendarWriter.
When persistence fails the error is logged and the in-memory queue stays
authoritative.

# Lifecycle

	             Approve            MarkCompleted
	  pending ───────────► approved ─────────────► completed
	     │                    │
	     │ Cancel             │ Cancel
	     ▼                    ▼
	 cancelled ◄──────────────┘

Status only moves forward. Approve and Cancel take a 0-based index into
the ordered queue as shown by List and Summary; they return false for an
index out of range or an entry in the wrong state.

# Maintenance Windows

Schedule without an explicit time picks the next daily window (02:00 UTC
by default) strictly after now. If an open entry's window
[start, start+duration] covers that time, the candidate moves to the
entry's end plus ConflictBuffer, and the check repeats until no open
entry covers it:

	existing:  02:00 ──consensus 15m── 02:15
	candidate: 02:00  → 02:15 + 30m = 02:45

Entries scheduled with an explicit time are placed as given.

# Governance

ScheduleGovernance turns an on-chain upgrade height into a time through a
HeightEstimator and schedules the upgrade GovernanceLead earlier, pending
operator approval. FixedIntervalEstimator multiplies the remaining blocks
by a constant block time; SampledEstimator measures the block time from
heights observed by the monitor.
*/
package scheduler
