package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientIdleTTL is how long an unused client limiter is kept.
const clientIdleTTL = 10 * time.Minute

type clientLimiter struct {
	*rate.Limiter
	seen time.Time
}

// clientLimiters hands out one token bucket per client address. Idle buckets
// are swept on access, at most once per TTL.
type clientLimiters struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newClientLimiters(requestsPerMinute int) *clientLimiters {
	return &clientLimiters{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(requestsPerMinute) / 60),
		burst:   max(requestsPerMinute, 1),
		now:     time.Now,
	}
}

// allow takes a token for client and, when none is left, returns how long
// until the next one.
func (c *clientLimiters) allow(client string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if now.Sub(c.lastSweep) > clientIdleTTL {
		for k, l := range c.clients {
			if now.Sub(l.seen) > clientIdleTTL {
				delete(c.clients, k)
			}
		}

		c.lastSweep = now
	}

	l, ok := c.clients[client]
	if !ok {
		l = &clientLimiter{Limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[client] = l
	}

	l.seen = now

	if l.AllowN(now, 1) {
		return true, 0
	}

	missing := 1 - l.TokensAt(now)

	return false, time.Duration(missing / float64(c.limit) * float64(time.Second))
}

// rateLimit rejects clients that exceed requestsPerMinute with 429 and a
// Retry-After header.
func rateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	limiters := newClientLimiters(requestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiters.allow(clientAddr(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr prefers the first X-Forwarded-For hop over the peer address.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")

		return strings.TrimSpace(first)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}

	return r.RemoteAddr
}
