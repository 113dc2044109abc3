package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var limited []string
	cfg := RateLimitConfig{
		RPS:             1,
		Burst:           2,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
		OnLimited:       func(ip string) { limited = append(limited, ip) },
	}

	router := gin.New()
	router.GET("/ws", RateLimitMiddleware(ctx, cfg), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, []string{"10.0.0.1"}, limited)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "limits are per client IP")
}

func TestClientLimitersSweep(t *testing.T) {
	l := newClientLimiters(RateLimitConfig{RPS: 1, Burst: 1})
	start := time.Unix(1700000000, 0)

	ok, remaining := l.allow("a", start)
	assert.True(t, ok)
	assert.Equal(t, 0, remaining)

	ok, _ = l.allow("a", start)
	assert.False(t, ok, "bucket is empty within the same instant")

	l.allow("b", start.Add(30*time.Second))
	assert.Equal(t, 2, l.len())

	assert.Equal(t, 1, l.sweep(start.Add(45*time.Second), 20*time.Second))
	assert.Equal(t, 1, l.len())
}
