/*
Package monitor runs the sentinel's periodic loop: probe the node, detect
issues, look for releases and drive scheduled upgrades.

# Tick

Each tick runs these steps in order and then atomically publishes a new
Status for readers such as the HTTP API and the metrics collector:

	┌────────────┐   ┌────────────┐   ┌──────────────┐   ┌──────────────┐
	│  ProbeAll  │──►│   Detect   │──►│ reportHealth │──►│ CheckUpdates │
	│ (Prober)   │   │ (Detector) │   │ events+store │   │ every N min  │
	└────────────┘   └────────────┘   └──────────────┘   └──────┬───────┘
	                                                            │
	┌────────────┐   ┌────────────┐   ┌──────────────┐   ┌──────▼───────┐
	│   prune    │◄──│   runDue   │◄──│  governance  │◄──│ autoSchedule │
	│ schedule,  │   │ 1 upgrade  │   │  proposals   │   │   (policy)   │
	│ backups    │   │  per tick  │   └──────────────┘   └──────────────┘
	└────────────┘   └────────────┘

A failing sub-step is logged and the tick continues. Release checks run at
most once per UpdateCheckInterval.

# Policies

In manual mode nothing is scheduled automatically. In auto mode the policy
decides which newer releases are queued as approved entries in the next
maintenance window:

	manual  never
	patch   same major.minor, newer patch
	any     any newer version

Scheduled entries still pending approval are logged when they fall inside
the due horizon but are never run.

# Events

The runner publishes health.changed on every service transition (the first
tick compares against the snapshot persisted before a restart),
issue.detected for every active issue, and release.found once per new
upstream tag.
*/
package monitor
