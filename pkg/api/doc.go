/*
Package api serves the sentinel's read-only HTTP surface.

The server reads the monitor's published Status and read-only views of the
schedule and upgrade history. It never mutates state; every non-GET request
is answered with 405.

# Endpoints

	GET /health         200 when every service report is healthy,
	                    503 when any is not or no tick has run yet
	GET /ready          component registry (monitor, store, api, notifier)
	GET /live           process liveness
	GET /metrics        Prometheus exposition
	GET /status         last snapshot, issues, installed and available versions
	GET /schedule       scheduled upgrades as JSON
	GET /schedule.ics   the same entries as an iCalendar feed
	GET /history        last N upgrade records (?limit=N, default 20)
	GET /events         recent broker events, newest first (?type=, ?limit=N)
	GET /version        build information

# Request Flow

	request ──► instrument ──► readOnly ──► handler ──► writeJSON
	              │                │                       │
	              │                └─ 405 for non-GET      └─ 500 if encoding fails
	              └─ sentinel_api_requests_total{path,status}
	                 sentinel_api_request_duration_seconds{path}

# Access

WithAccess restricts clients to an allow list of CIDRs or addresses (403
otherwise) and gives every client address its own token bucket (429 when
empty). The peer address is used as is; forwarding headers are ignored.

Host resource readings are part of /status but never change the /health
verdict.

# Usage

	srv := api.NewServer(runner).
		WithSchedule(sched, cfg.CalendarName).
		WithHistory(history).
		WithBuildInfo(api.BuildInfo{Version: Version})

	go func() {
		if err := srv.Start(cfg.APIAddr()); err != nil {
			log.Logger.Error().Err(err).Msg("API server failed")
		}
	}()
	defer srv.Shutdown(context.Background())
*/
package api
