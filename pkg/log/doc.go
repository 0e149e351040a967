/*
Package log provides structured logging for the sentinel using zerolog.

A single package-level logger is configured once by Init and shared by every
component. Components derive child loggers that carry a "component" field so
that entries from the probe, the orchestrator and the scheduler can be told
apart in the journal or in a log shipper.

# Architecture

	┌──────────────────── LOGGING ─────────────────────────────┐
	│                                                           │
	│   log.Init(Config)                                        │
	│        │                                                  │
	│        ├── console writer (RFC3339) or JSON to stdout     │
	│        └── optional rotating file (lumberjack)            │
	│                                                           │
	│   Component loggers                                       │
	│        WithComponent("health")                            │
	│        WithUpgrade(id, "execution")                       │
	└───────────────────────────────────────────────────────────┘

# Usage

	closer := log.Init(log.Config{
		Level:      log.ParseLevel("info"),
		JSONOutput: false,
		File:       "/var/log/story-sentinel/sentinel.log",
	})
	defer closer.Close()

	logger := log.WithComponent("monitor")
	logger.Info().Dur("interval", interval).Msg("Monitoring loop started")

The rotating file always receives raw JSON entries, even when the primary
output uses the console writer.
*/
package log
