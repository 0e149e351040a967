/*
Package metrics exposes the sentinel's Prometheus metrics and the component
health registry that backs the /health and /ready endpoints.

# Metrics

All metrics are package-level vectors registered with the default registry
in init(), and served by Handler():

	sentinel_node_healthy{component}                 1 healthy, 0 not
	sentinel_node_block_height{component}            latest block height
	sentinel_node_peers{component}                   connected peers
	sentinel_node_memory_bytes{component}            process RSS
	sentinel_node_sync_progress{component}           0..1
	sentinel_consensus_block_latency_seconds         observed seconds per block
	sentinel_system_cpu_percent                      host CPU
	sentinel_system_memory_available_bytes           host memory available
	sentinel_system_disk_free_bytes                  data filesystem free space
	sentinel_issue_active{issue}                     1 while an issue is detected
	sentinel_update_available{component}             1 when upstream is newer
	sentinel_scheduled_upgrades{status}              schedule entries by status
	sentinel_upgrades_total{component,outcome}       upgrade attempts
	sentinel_upgrade_duration_seconds{component}     upgrade wall time
	sentinel_checks_total                            monitoring ticks
	sentinel_probe_duration_seconds                  probe cycle time
	sentinel_api_requests_total{path,status}         API requests
	sentinel_api_request_duration_seconds{path}      API latency

Gauges are set from an Observation either directly (RecordSnapshot,
RecordIssues, RecordSchedule) or by a Collector polling a Source every 15
seconds.

Timing an operation:

	timer := metrics.NewTimer()
	snapshot := prober.ProbeAll(ctx, services)
	timer.ObserveDuration(metrics.ProbeDuration)

# Component Health

Long-running parts of the process register themselves by name:

	metrics.RegisterComponent(metrics.ComponentStore, true, "open")
	metrics.UpdateComponent(metrics.ComponentMonitor, false, "probe cycle failed")

GetHealth is unhealthy when any registered component is unhealthy.
GetReadiness requires the critical components (monitor, store) to be
registered and healthy. LivenessHandler always answers 200 while the
process runs.
*/
package metrics
