package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// idleBucketTTL is how long a client bucket survives without requests.
const idleBucketTTL = 10 * time.Minute

// RateLimiter is a per-client-IP token bucket refilled at rate tokens per
// second up to burst.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientBucket
	rate      float64
	burst     float64
	now       func() time.Time
	lastSweep time.Time
}

type clientBucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing rps requests per second
// with a burst of twice that. A non-positive rps disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientBucket),
		rate:    float64(rps),
		burst:   float64(rps * 2),
		now:     time.Now,
	}
}

// Allow takes one token from the bucket of clientIP.
func (rl *RateLimiter) Allow(clientIP string) bool {
	ok, _ := rl.take(clientIP)
	return ok
}

// take refills and debits the bucket. When empty it reports how long until
// the next token.
func (rl *RateLimiter) take(clientIP string) (bool, time.Duration) {
	if rl.rate <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b, ok := rl.clients[clientIP]
	if !ok {
		b = &clientBucket{tokens: rl.burst, lastSeen: now}
		rl.clients[clientIP] = b
	}
	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rate)
	b.lastSeen = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
		return false, wait
	}
	b.tokens--
	return true, 0
}

// sweep drops buckets idle past idleBucketTTL, at most once per TTL.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < idleBucketTTL {
		return
	}
	rl.lastSweep = now
	for ip, b := range rl.clients {
		if now.Sub(b.lastSeen) >= idleBucketTTL {
			delete(rl.clients, ip)
		}
	}
}

// Clients returns the number of tracked client buckets.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects clients over their budget with 429 and a Retry-After
// header in whole seconds.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := rl.take(c.ClientIP())
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "rate limit exceeded",
				"retry_after_seconds": secs,
			})
			return
		}
		c.Next()
	}
}

// SecurityHeaders sets response hardening headers. JSON endpoints are
// additionally barred from framing and caching.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Server", "craftkeeper")

		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")
		}

		c.Next()
	}
}

// RequestLogger logs each request at debug, client errors at info and
// server errors at warn, and feeds the request metrics.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := routeLabel(c)
		observeRequest(route, c.Request.Method, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Warn()
		case status >= http.StatusBadRequest:
			event = logger.Info()
		default:
			event = logger.Debug()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}

// routeLabel is the matched route template, keeping metric cardinality
// bounded for unknown paths.
func routeLabel(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return "unmatched"
}
