/*
Package config loads, validates and saves the sentinel configuration.

Values are resolved in three layers, later layers winning:

 1. Built-in defaults (Default)
 2. The YAML file, ~/.story-sentinel/config.yaml unless overridden
 3. Environment variables such as STORY_BINARY_PATH, SENTINEL_MIN_PEERS,
    MODE, CHECK_INTERVAL, CONTAINER_MODE and DISCORD_WEBHOOK

Durations in YAML are Go duration strings ("300s", "30m"). Duration
environment variables also accept a bare number of seconds.

The loaded Config is passed by value into each component's constructor;
no package reads configuration from a global.

# Example

	story:
	  binary_path: /usr/local/bin/story
	  service_name: story
	  rpc_port: 26657
	  github_repo: piplabs/story
	story_geth:
	  binary_path: /usr/local/bin/story-geth
	  service_name: story-geth
	  rpc_port: 8545
	  github_repo: piplabs/story-geth
	thresholds:
	  min_peers: 5
	  block_time_variance: 10s
	  memory_limit_gb: 8
	  disk_space_min_gb: 10
	mode: manual
	container_mode: false
	api_allow: [127.0.0.1, 10.0.0.0/8]
	api_rate_limit: 10
	notifications:
	  discord_webhook: https://discord.com/api/webhooks/...
	  min_severity: warning
*/
package config
