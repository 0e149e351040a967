package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/monitor"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type staticStatus struct {
	status *monitor.Status
}

func (s staticStatus) Status() *monitor.Status { return s.status }

type staticSchedule []types.ScheduledUpgrade

func (s staticSchedule) List() []types.ScheduledUpgrade { return s }

type staticHistory []types.UpgradeRecord

func (h staticHistory) Recent(limit int) []types.UpgradeRecord {
	if limit > 0 && len(h) > limit {
		return h[len(h)-limit:]
	}
	return h
}

func statusWith(consensus, execution bool) *monitor.Status {
	return &monitor.Status{
		Ticks: 1,
		Snapshot: types.Snapshot{
			Reports: map[types.Component]types.HealthReport{
				types.ComponentConsensus: {Component: types.ComponentConsensus, Service: "story", Healthy: consensus},
				types.ComponentExecution: {Component: types.ComponentExecution, Service: "story-geth", Healthy: execution, Message: "syncing"},
			},
			System:    types.SystemReport{Healthy: false, Message: "disk low"},
			CheckedAt: now,
		},
		Issues:    types.IssueSet{types.IssueDiskCritical: true},
		Installed: map[types.Component]string{types.ComponentConsensus: "1.2.0"},
	}
}

func newTestServer(st *monitor.Status) *Server {
	s := NewServer(staticStatus{status: st})
	s.now = func() time.Time { return now }
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		status         *monitor.Status
		expectedStatus int
		expectedBody   string
	}{
		{"before first tick", &monitor.Status{}, http.StatusServiceUnavailable, "starting"},
		{"all healthy", statusWith(true, true), http.StatusOK, "healthy"},
		{"execution unhealthy", statusWith(true, false), http.StatusServiceUnavailable, "unhealthy"},
		{"consensus unhealthy", statusWith(false, true), http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, newTestServer(tt.status), "/health")
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedBody, response.Status)
			assert.Equal(t, now, response.Timestamp)
		})
	}
}

func TestHealthIgnoresHostResources(t *testing.T) {
	w := get(t, newTestServer(statusWith(true, true)), "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Services, 2)
	assert.Equal(t, "story-geth", response.Services[types.ComponentExecution].Service)
}

func TestNonGetIsRejected(t *testing.T) {
	s := newTestServer(statusWith(true, true))
	for _, path := range []string{"/health", "/status", "/schedule", "/history", "/metrics"} {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "%s %s", method, path)
		}
	}
}

func TestStatusHandler(t *testing.T) {
	w := get(t, newTestServer(statusWith(true, false)), "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var response StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.False(t, response.Healthy)
	assert.Equal(t, []types.IssueKind{types.IssueDiskCritical}, response.Issues)
	assert.Equal(t, "1.2.0", response.Installed[types.ComponentConsensus])
	assert.Equal(t, 1, response.Ticks)
}

func TestStatusBeforeFirstTick(t *testing.T) {
	w := get(t, newTestServer(nil), "/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"issues":[]`)
}

func TestScheduleEndpoints(t *testing.T) {
	entries := staticSchedule{{
		ID:                "abc",
		Component:         types.ComponentExecution,
		CurrentVersion:    "1.0.1",
		TargetVersion:     "1.0.2",
		ScheduledTime:     now.Add(16 * time.Hour),
		EstimatedDuration: types.Duration(10 * time.Minute),
		Status:            types.ScheduleApproved,
		CreatedAt:         now,
	}}
	s := newTestServer(statusWith(true, true)).WithSchedule(entries, "Node Upgrades")

	w := get(t, s, "/schedule")
	require.Equal(t, http.StatusOK, w.Code)
	var list []types.ScheduledUpgrade
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "abc", list[0].ID)

	w = get(t, s, "/schedule.ics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/calendar"))
	assert.Contains(t, w.Body.String(), "abc@story-sentinel")
	assert.Contains(t, w.Body.String(), "Node Upgrades")
}

func TestScheduleNotConfigured(t *testing.T) {
	s := newTestServer(statusWith(true, true))
	assert.Equal(t, http.StatusNotFound, get(t, s, "/schedule").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/schedule.ics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/history").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/events").Code)
}

type staticEvents []events.Event

func (e staticEvents) Recent(limit int) []events.Event {
	if limit > 0 && limit < len(e) {
		return e[:limit]
	}
	return e
}

func TestEventsFilterByType(t *testing.T) {
	recent := staticEvents{
		*events.NewEvent(events.EventIssueDetected, events.SeverityWarning, "low peers"),
		*events.NewEvent(events.EventReleaseFound, events.SeverityInfo, "v1.5.0 available"),
		*events.NewEvent(events.EventIssueDetected, events.SeverityWarning, "disk almost full"),
	}
	s := newTestServer(statusWith(true, true)).WithEvents(recent)

	w := get(t, s, "/events?type=issue.detected&limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	var out []events.Event
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "low peers", out[0].Message)

	w = get(t, s, "/events")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Len(t, out, 3)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/events?limit=-1").Code)
}

func TestHistoryLimit(t *testing.T) {
	history := staticHistory{
		{ID: "1", Component: types.ComponentConsensus, ToVersion: "1.1.0", Success: true},
		{ID: "2", Component: types.ComponentConsensus, ToVersion: "1.2.0", Success: true},
		{ID: "3", Component: types.ComponentExecution, ToVersion: "1.0.1", Success: false},
	}
	s := newTestServer(statusWith(true, true)).WithHistory(history)

	w := get(t, s, "/history?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var records []types.UpgradeRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&records))
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/history?limit=x").Code)
}

func TestVersionHandler(t *testing.T) {
	s := newTestServer(statusWith(true, true)).WithBuildInfo(BuildInfo{Version: "1.4.0", Commit: "abc123"})

	w := get(t, s, "/version")
	require.Equal(t, http.StatusOK, w.Code)
	var info BuildInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]interface{}{"bad": make(chan int)})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(statusWith(true, true))
	get(t, s, "/health")

	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sentinel_api_requests_total")
}
