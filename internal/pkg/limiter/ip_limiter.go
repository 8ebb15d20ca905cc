// Package limiter throttles room lookups and WebSocket upgrades per client IP.
package limiter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"linkroom/internal/pkg/errs"
	"linkroom/internal/pkg/logx"
	"linkroom/internal/pkg/metrics"
	"linkroom/internal/pkg/resp"
)

// cleanupInterval is how often idle limiters are pruned.
const cleanupInterval = 3 * time.Minute

// IPRateLimiter keeps one token bucket per client IP. Buckets that have refilled are
// dropped periodically, so the map only holds recently active clients.
type IPRateLimiter struct {
	name string

	mu     sync.Mutex
	limits map[string]*rate.Limiter

	r rate.Limit
	b int
}

// NewIPRateLimiter returns a limiter allowing r events per second with bursts of b per IP.
// name labels its log lines and rejection metrics.
func NewIPRateLimiter(name string, r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		name:   name,
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
	}

	go i.cleanUpVisitors()

	return i
}

// ClientIP returns the host part of the request's remote address. Behind chi's RealIP
// middleware this is the forwarded client address.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	if ip == "" {
		ip = "unknown_ip"
	}
	return ip
}

// GetLimiter returns the bucket of ip, creating it on first use.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	limiter, ok := i.limits[ip]
	if !ok {
		limiter = rate.NewLimiter(i.r, i.b)
		i.limits[ip] = limiter
	}
	return limiter
}

// Allow consumes a token for the request's client IP and reports whether one was available.
func (i *IPRateLimiter) Allow(r *http.Request) bool {
	ip := ClientIP(r)
	if i.GetLimiter(ip).Allow() {
		return true
	}

	metrics.RateLimitRejections.WithLabelValues(i.name).Inc()
	logx.Warn("Request rejected: Rate limit exceeded.", "limiter", i.name, "ip", ip)
	return false
}

func (i *IPRateLimiter) cleanUpVisitors() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for now := range ticker.C {
		removed, remaining := i.prune(now)
		if removed > 0 {
			logx.Debug("Rate limiter cleanup finished.", "limiter", i.name, "removed", removed, "remaining", remaining)
		}
	}
}

// prune removes the limiters whose token bucket is full at now, i.e. IPs that have been
// idle long enough to have no effect on their next request.
func (i *IPRateLimiter) prune(now time.Time) (removed, remaining int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for ip, limiter := range i.limits {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(i.limits, ip)
			removed++
		}
	}
	return removed, len(i.limits)
}

// Middleware rejects requests over the limit with ErrRateLimitExceeded (HTTP 429).
func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !i.Allow(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		next.ServeHTTP(w, r)
	})
}
