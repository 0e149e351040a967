package api

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-client limiter table; it is reset when full
const maxLimiters = 10000

// accessGuard enforces a client allow list and a per-client request rate
type accessGuard struct {
	allow  []*net.IPNet
	limit  rate.Limit
	burst  int
	logger zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// newAccessGuard parses allow (CIDRs or bare IPs). An empty allow list
// admits every client and a zero rate disables limiting.
func newAccessGuard(allow []string, perSecond float64, logger zerolog.Logger) (*accessGuard, error) {
	g := &accessGuard{
		limit:    rate.Limit(perSecond),
		burst:    int(math.Ceil(perSecond * 2)),
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	if g.burst < 1 {
		g.burst = 1
	}

	for _, entry := range allow {
		cidr := strings.TrimSpace(entry)
		if !strings.Contains(cidr, "/") {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, fmt.Errorf("invalid address %q in api_allow", entry)
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			cidr = fmt.Sprintf("%s/%d", cidr, bits)
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q in api_allow: %w", entry, err)
		}
		g.allow = append(g.allow, ipNet)
	}
	return g, nil
}

func (g *accessGuard) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if !g.allowed(client) {
			g.logger.Warn().Str("client", client).Str("path", r.URL.Path).Msg("Access denied")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !g.admit(client) {
			g.logger.Debug().Str("client", client).Msg("Rate limit exceeded")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *accessGuard) allowed(client string) bool {
	if len(g.allow) == 0 {
		return true
	}
	ip := net.ParseIP(client)
	if ip == nil {
		return false
	}
	for _, n := range g.allow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (g *accessGuard) admit(client string) bool {
	if g.limit <= 0 {
		return true
	}

	g.mu.Lock()
	limiter, ok := g.limiters[client]
	if !ok {
		if len(g.limiters) >= maxLimiters {
			g.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(g.limit, g.burst)
		g.limiters[client] = limiter
	}
	g.mu.Unlock()

	return limiter.Allow()
}

// clientIP is the peer address. Forwarding headers are ignored since the
// API is served directly.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
