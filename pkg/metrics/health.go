package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Component names registered by the sentinel
const (
	ComponentMonitor  = "monitor"
	ComponentStore    = "store"
	ComponentAPI      = "api"
	ComponentNotifier = "notifier"
)

// Overall states reported by GetHealth and GetReadiness
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// criticalComponents must be registered, healthy and fresh for readiness.
// Any other failing component only degrades health.
var criticalComponents = []string{ComponentMonitor, ComponentStore}

// ComponentHealth is the last report of one internal component
type ComponentHealth struct {
	Name    string    `json:"name"`
	Healthy bool      `json:"healthy"`
	Message string    `json:"message,omitempty"`
	Since   time.Time `json:"since"`
	Updated time.Time `json:"updated"`
	Stale   bool      `json:"stale,omitempty"`
}

// HealthStatus is the aggregate served by /ready and /live
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime"`
}

// registry records component reports. Since only moves when the healthy
// flag flips.
type registry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	heartbeats map[string]time.Duration
	startTime  time.Time
	version    string
	now        func() time.Time
}

var healthChecker = newRegistry()

func newRegistry() *registry {
	return &registry{
		components: make(map[string]ComponentHealth),
		heartbeats: make(map[string]time.Duration),
		startTime:  time.Now(),
		now:        time.Now,
	}
}

// Reset forgets every registered component and heartbeat
func Reset() {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.components = make(map[string]ComponentHealth)
	healthChecker.heartbeats = make(map[string]time.Duration)
	ComponentUp.Reset()
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// ExpectHeartbeat marks name stale, and so unhealthy, when it has not
// reported within the given duration
func ExpectHeartbeat(name string, within time.Duration) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.heartbeats[name] = within
}

// RegisterComponent records the first report of a component
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.report(name, healthy, message)
}

// UpdateComponent records a new report of a component
func UpdateComponent(name string, healthy bool, message string) {
	healthChecker.report(name, healthy, message)
}

func (r *registry) report(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	since := now
	if prev, ok := r.components[name]; ok && prev.Healthy == healthy {
		since = prev.Since
	}
	r.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Since:   since,
		Updated: now,
	}
	ComponentUp.WithLabelValues(name).Set(boolGauge(healthy))
}

// snapshot returns every component sorted by name with staleness applied.
// The caller holds at least a read lock.
func (r *registry) snapshot(now time.Time) []ComponentHealth {
	out := make([]ComponentHealth, 0, len(r.components))
	for name, c := range r.components {
		if within, ok := r.heartbeats[name]; ok && now.Sub(c.Updated) > within {
			c.Stale = true
			c.Healthy = false
			c.Message = fmt.Sprintf("no report for %s", now.Sub(c.Updated).Round(time.Second))
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func isCritical(name string) bool {
	for _, c := range criticalComponents {
		if c == name {
			return true
		}
	}
	return false
}

// GetHealth reports unhealthy when a critical component fails and degraded
// when only other components do
func GetHealth() HealthStatus {
	r := healthChecker
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	components := r.snapshot(now)
	status := StatusHealthy
	message := ""
	for _, c := range components {
		if c.Healthy {
			continue
		}
		if isCritical(c.Name) {
			status = StatusUnhealthy
			message = c.Name + ": " + c.Message
			break
		}
		status = StatusDegraded
		message = c.Name + ": " + c.Message
	}

	return r.status(status, message, components, now)
}

// GetReadiness is ready once every critical component has reported healthy
// and, where a heartbeat is expected, recently
func GetReadiness() HealthStatus {
	r := healthChecker
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	components := r.snapshot(now)
	byName := make(map[string]ComponentHealth, len(components))
	for _, c := range components {
		byName[c.Name] = c
	}

	status := StatusReady
	message := ""
	for _, name := range criticalComponents {
		c, ok := byName[name]
		switch {
		case !ok:
			status = StatusNotReady
			message = "waiting for " + name + " to start"
		case !c.Healthy:
			status = StatusNotReady
			message = name + ": " + c.Message
		default:
			continue
		}
		break
	}

	return r.status(status, message, components, now)
}

func (r *registry) status(status, message string, components []ComponentHealth, now time.Time) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  now,
		Components: components,
		Message:    message,
		Version:    r.version,
		Uptime:     now.Sub(r.startTime).Round(time.Second).String(),
	}
}

// ReadyHandler serves GetReadiness, with 503 until ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, readiness)
	}
}

// LivenessHandler serves GetHealth. It answers 200 unless a critical
// component is unhealthy, so a degraded notifier never restarts the process.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, health)
	}
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
