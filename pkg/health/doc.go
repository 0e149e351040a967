/*
Package health evaluates whether the local consensus and execution clients,
and the host they run on, are fit to serve and fit to upgrade.

Every probe returns an immutable types.HealthReport. Sub-check failures
(unreachable RPC, a systemd query that times out, an unreadable journal) are
logged and counted as unhealthy; they never surface as errors to the caller,
so the monitoring loop can always make progress.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                           Prober                              │
	│  Probe(ctx, svc) HealthReport      ProbeSystem(ctx)           │
	│  ProbeAll(ctx, services) Snapshot                             │
	└───┬─────────────┬──────────────┬──────────────┬──────────────┘
	    │             │              │              │
	    ▼             ▼              ▼              ▼
	┌────────┐  ┌───────────┐  ┌───────────┐  ┌─────────────┐
	│Service │  │ RPCClient │  │ LogSource │  │   ProcFS    │
	│Status  │  │ /status   │  │ journalctl│  │ RSS, meminfo│
	│(systemd│  │ /net_info │  │ -u unit   │  │ loadavg, cpu│
	│ D-Bus) │  │ eth_*     │  │ -n lines  │  │ statfs      │
	└────────┘  └───────────┘  └───────────┘  └─────────────┘

# Verdicts

Consensus client, healthy when all hold:
  - unit active (skipped in container mode)
  - /status reachable and catching_up is false
  - peers from /net_info >= MinPeers
  - no "app hash" lines in the last AppHashLogLines journal lines
  - block latency within BlockTimeVariance

Execution client, healthy when all hold:
  - unit active (skipped in container mode)
  - eth_syncing returns false
  - net_peerCount >= MinPeers

Process memory is reported for both but never gates the verdict.

# Block Latency

The prober keeps the last (height, block time, observed at) per service
name. On the next probe:

	height advanced:   latency = Δblock_time / Δheight
	height unchanged:  latency = now - observed_at   (stall)

The first observation of a service always passes.

# Host Resources

ProbeSystem reads memory, disk (statfs on the configured path), load and a
short CPU sample. The host is healthy when available memory exceeds
MinMemoryAvailableGB, free disk exceeds MinDiskGB and CPU is under
MaxCPUPercent. The upgrade preflight relies on this report.
*/
package health
