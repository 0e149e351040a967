package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/monitor"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/rs/zerolog"
)

// StatusSource exposes the latest monitoring status
type StatusSource interface {
	Status() *monitor.Status
}

// ScheduleView is a read-only view of the upgrade schedule
type ScheduleView interface {
	List() []types.ScheduledUpgrade
}

// HistoryView is a read-only view of past upgrades
type HistoryView interface {
	Recent(limit int) []types.UpgradeRecord
}

// EventView returns recently delivered events, newest first
type EventView interface {
	Recent(limit int) []events.Event
}

// BuildInfo describes the running binary
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Server serves the sentinel's read-only HTTP surface
type Server struct {
	status       StatusSource
	schedule     ScheduleView
	history      HistoryView
	events       EventView
	calendarName string
	build        BuildInfo
	guard        *accessGuard
	now          func() time.Time
	logger       zerolog.Logger

	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates an API server reading from status
func NewServer(status StatusSource) *Server {
	s := &Server{
		status:       status,
		calendarName: "Story Upgrades",
		build:        BuildInfo{Version: "dev"},
		now:          time.Now,
		logger:       log.WithComponent("api"),
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// WithSchedule serves /schedule and /schedule.ics from view
func (s *Server) WithSchedule(view ScheduleView, calendarName string) *Server {
	s.schedule = view
	if calendarName != "" {
		s.calendarName = calendarName
	}
	return s
}

// WithHistory serves /history from view
func (s *Server) WithHistory(view HistoryView) *Server {
	s.history = view
	return s
}

// WithEvents serves /events from view
func (s *Server) WithEvents(view EventView) *Server {
	s.events = view
	return s
}

// WithBuildInfo sets the version reported by /version and /ready
func (s *Server) WithBuildInfo(info BuildInfo) *Server {
	s.build = info
	metrics.SetVersion(info.Version)
	return s
}

// WithAccess restricts clients to the allow list (CIDRs or addresses) and
// limits each client to perSecond requests. Empty and zero disable them.
func (s *Server) WithAccess(allow []string, perSecond float64) (*Server, error) {
	guard, err := newAccessGuard(allow, perSecond, s.logger)
	if err != nil {
		return nil, err
	}
	s.guard = guard
	return s, nil
}

func (s *Server) routes() {
	handle := func(path string, h http.HandlerFunc) {
		s.mux.Handle(path, instrument(path, readOnly(h)))
	}

	handle("/health", s.healthHandler)
	handle("/ready", metrics.ReadyHandler())
	handle("/live", metrics.LivenessHandler())
	handle("/status", s.statusHandler)
	handle("/schedule", s.scheduleHandler)
	handle("/schedule.ics", s.calendarHandler)
	handle("/history", s.historyHandler)
	handle("/events", s.eventsHandler)
	handle("/version", s.versionHandler)
	s.mux.Handle("/metrics", readOnly(metrics.Handler().ServeHTTP))
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	if s.guard == nil {
		return s.mux
	}
	return s.guard.wrap(s.mux)
}

// Start listens on addr and serves until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.RegisterComponent(metrics.ComponentAPI, false, err.Error())
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metrics.RegisterComponent(metrics.ComponentAPI, true, "")
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API listening")

	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return fmt.Errorf("failed to serve HTTP API: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
