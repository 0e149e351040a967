package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/sentinel/pkg/calendar"
	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/monitor"
	"github.com/cuemby/sentinel/pkg/types"
)

const defaultHistoryLimit = 20

// ServiceHealth is the per-service part of HealthResponse
type ServiceHealth struct {
	Service string `json:"service"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                            `json:"status"`
	Timestamp time.Time                         `json:"timestamp"`
	Version   string                            `json:"version,omitempty"`
	CheckedAt time.Time                         `json:"checked_at,omitempty"`
	Services  map[types.Component]ServiceHealth `json:"services,omitempty"`
}

// StatusResponse is the full monitoring view served by /status
type StatusResponse struct {
	Healthy         bool                              `json:"healthy"`
	Snapshot        types.Snapshot                    `json:"snapshot"`
	Issues          []types.IssueKind                 `json:"issues"`
	Installed       map[types.Component]string        `json:"installed"`
	Updates         map[types.Component]types.Version `json:"updates"`
	LastUpdateCheck time.Time                         `json:"last_update_check"`
	LastUpgrade     *types.UpgradeRecord              `json:"last_upgrade,omitempty"`
	Ticks           int                               `json:"ticks"`
	StartedAt       time.Time                         `json:"started_at"`
	UpdatedAt       time.Time                         `json:"updated_at"`
}

// healthHandler returns 200 when every service report is healthy and 503
// otherwise, including before the first snapshot. Host resources do not
// affect the verdict.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()

	response := HealthResponse{
		Status:    "starting",
		Timestamp: s.now().UTC(),
		Version:   s.build.Version,
	}
	code := http.StatusServiceUnavailable

	if st != nil && st.Ticks > 0 {
		response.CheckedAt = st.Snapshot.CheckedAt
		response.Services = make(map[types.Component]ServiceHealth, len(st.Snapshot.Reports))
		healthy := len(st.Snapshot.Reports) > 0
		for component, report := range st.Snapshot.Reports {
			response.Services[component] = ServiceHealth{
				Service: report.Service,
				Healthy: report.Healthy,
				Message: report.Message,
			}
			healthy = healthy && report.Healthy
		}
		response.Status = "unhealthy"
		if healthy {
			response.Status = "healthy"
			code = http.StatusOK
		}
	}

	writeJSON(w, code, response)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	if st == nil {
		st = &monitor.Status{}
	}

	response := StatusResponse{
		Healthy:         st.Ticks > 0 && st.Snapshot.Healthy(),
		Snapshot:        st.Snapshot,
		Issues:          st.Issues.Active(),
		Installed:       st.Installed,
		Updates:         st.Updates,
		LastUpdateCheck: st.LastUpdateCheck,
		LastUpgrade:     st.LastUpgrade,
		Ticks:           st.Ticks,
		StartedAt:       st.StartedAt,
		UpdatedAt:       st.UpdatedAt,
	}
	if response.Issues == nil {
		response.Issues = []types.IssueKind{}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	if s.schedule == nil {
		http.Error(w, "schedule not available", http.StatusNotFound)
		return
	}
	entries := s.schedule.List()
	if entries == nil {
		entries = []types.ScheduledUpgrade{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) calendarHandler(w http.ResponseWriter, r *http.Request) {
	if s.schedule == nil {
		http.Error(w, "schedule not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(calendar.Render(s.calendarName, s.schedule.List())))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history not available", http.StatusNotFound)
		return
	}

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	records := s.history.Recent(limit)
	if records == nil {
		records = []types.UpgradeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// eventsHandler lists recent events, optionally narrowed by ?type=
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "events not available", http.StatusNotFound)
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	want := events.EventType(r.URL.Query().Get("type"))
	out := []events.Event{}
	for _, e := range s.events.Recent(0) {
		if want != "" && e.Type != want {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultHistoryLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.build)
}

// writeJSON encodes before writing the header so an encode failure can
// still become a 500
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
