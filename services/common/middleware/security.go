package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	mu    sync.Mutex
	ips   map[string]*limiterEntry
	rate  rate.Limit
	burst int
	ttl   time.Duration
}

// NewRateLimiter creates a new rate limiter. Entries idle for longer than
// ttl are dropped on the next lookup.
func NewRateLimiter(r rate.Limit, b int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		ips:   make(map[string]*limiterEntry),
		rate:  r,
		burst: b,
		ttl:   ttl,
	}
}

// GetLimiter returns the rate limiter for the given IP
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for k, e := range rl.ips {
		if now.Sub(e.lastSeen) > rl.ttl {
			delete(rl.ips, k)
		}
	}

	entry, ok := rl.ips[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.ips[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// RateLimitMiddleware rejects callers that exceed perMinute requests.
func RateLimitMiddleware(perMinute, burst int) gin.HandlerFunc {
	limiter := NewRateLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst, 5*time.Minute)

	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}
		c.Next()
	}
}

// CORSMiddleware allows the customer display page, which may be served from
// another origin, to read terminal state. An allowlist of "*" or an empty
// one allows all.
func CORSMiddleware(allowedOrigins string) gin.HandlerFunc {
	var allowed []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(o), "/")); o != "" {
			allowed = append(allowed, o)
		}
	}

	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowed
	}
	return cors.New(cfg)
}
