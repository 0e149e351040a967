/*
Package events provides the in-memory event broker that connects the
sentinel's producers (monitor loop, scheduler, upgrade orchestrator) to its
consumers (webhook notifiers, metrics).

	Publisher ──► queue (100) ──► deliver ──┬─► history (last 100) ──► Recent
	                                        ├─► Subscriber (buffer 50)
	                                        └─► Subscriber ...

Delivery is best effort: a subscriber whose buffer is full misses the
event and Dropped is incremented. Publish after Stop returns immediately.
The API serves Recent on /events.

# Event Types

	health.changed       node or host verdict flipped
	issue.detected       a new operational issue appeared
	release.found        an upstream version newer than installed
	upgrade.scheduled    entry added to the schedule
	upgrade.approved     pending entry approved
	upgrade.cancelled    entry cancelled
	upgrade.started      orchestration began
	upgrade.succeeded    orchestration finished successfully
	upgrade.failed       aborted, or rollback failed
	upgrade.rolled_back  changed and restored

Metadata carries "component", "version" and, for upgrades, "upgrade_id".
*/
package events
