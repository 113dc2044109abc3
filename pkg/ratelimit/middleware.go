package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
	// OnLimited is called for every rejected request.
	OnLimited func(clientIP string)
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters holds one token bucket per client IP.
type clientLimiters struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
}

func newClientLimiters(cfg RateLimitConfig) *clientLimiters {
	return &clientLimiters{
		entries: make(map[string]*entry),
		limit:   rate.Limit(cfg.RPS),
		burst:   cfg.Burst,
	}
}

// allow takes a token for ip and reports the tokens left afterwards.
func (l *clientLimiters) allow(ip string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ip]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now

	if !e.limiter.AllowN(now, 1) {
		return false, 0
	}
	return true, max(int(e.limiter.TokensAt(now)), 0)
}

// sweep drops clients not seen within maxAge.
func (l *clientLimiters) sweep(now time.Time, maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, e := range l.entries {
		if now.Sub(e.lastSeen) > maxAge {
			delete(l.entries, ip)
			removed++
		}
	}
	return removed
}

func (l *clientLimiters) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RateLimitMiddleware limits requests per client IP. Idle clients are evicted
// until ctx ends.
func RateLimitMiddleware(ctx context.Context, config RateLimitConfig) gin.HandlerFunc {
	limiters := newClientLimiters(config)

	go func() {
		ticker := time.NewTicker(config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limiters.sweep(now, config.MaxAge)
			}
		}
	}()

	limitHeader := strconv.FormatFloat(config.RPS, 'f', -1, 64)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		ok, remaining := limiters.allow(clientIP, time.Now())
		c.Header("X-RateLimit-Limit", limitHeader)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			if config.OnLimited != nil {
				config.OnLimited(clientIP)
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		c.Next()
	}
}
