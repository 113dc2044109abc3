package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"relay/internal/bridge"
	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/logger"
	"relay/internal/ws"
	"relay/pkg/bootstrap"
	"relay/pkg/health"
	"relay/pkg/logging"
	"relay/pkg/metrics"
	"relay/pkg/middleware"
	"relay/pkg/ratelimit"
	"relay/pkg/tracing"
)

const prometheusContentType = "text/plain; version=0.0.4; charset=utf-8"

type App struct {
	*bootstrap.Base
	hub            *ws.Hub
	health         *health.CheckerRegistry
	router         *gin.Engine
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(ctx, a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.InitStrategies(); err != nil {
		return err
	}

	a.hub = ws.NewHub(a.Logger.With("component", "ws"))

	a.health = health.NewCheckerRegistry()
	for _, s := range a.Strategies {
		a.health.Register(bridge.HealthChecker(s))
	}

	a.initRouter(ctx)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) initRouter(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	var wsMiddlewares []gin.HandlerFunc
	if rl := a.Config.Server.RateLimit; rl.Enabled {
		rateLimitConfig := ratelimit.DefaultConfig()
		rateLimitConfig.RPS = rl.RPS
		rateLimitConfig.Burst = rl.Burst
		rateLimitConfig.OnLimited = func(string) {
			a.Metrics.RecordError(metrics.ErrorRateLimited)
		}
		wsMiddlewares = append(wsMiddlewares, ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled on /ws", "rps", rl.RPS, "burst", rl.Burst)
	}

	ws.NewHandler(a.hub, a.Config.Server.AllowedOrigins, a.Logger.With("component", "ws")).
		RegisterRoutes(router, wsMiddlewares...)

	router.GET("/health", func(c *gin.Context) {
		h := a.health.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/status", func(c *gin.Context) {
		states := make(map[string]bridge.ConnectionState, len(a.Strategies))
		for _, s := range a.Strategies {
			states[s.ID()] = s.State()
		}
		c.JSON(http.StatusOK, gin.H{
			"brokers":    states,
			"ws_clients": a.hub.ClientCount(),
		})
	})

	router.GET("/metrics", func(c *gin.Context) {
		text, err := a.Metrics.Prometheus()
		if err != nil {
			c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics export failed", "error_code": "INTERNAL_ERROR"})
			return
		}
		c.Data(http.StatusOK, prometheusContentType, []byte(text))
	})

	router.GET("/metrics/json", func(c *gin.Context) {
		body, err := a.Metrics.JSON()
		if err != nil {
			c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics export failed", "error_code": "INTERNAL_ERROR"})
			return
		}
		c.Data(http.StatusOK, "application/json", body)
	})

	router.GET("/metrics/statsd", func(c *gin.Context) {
		prefix := c.DefaultQuery("prefix", "relay")
		c.String(http.StatusOK, strings.Join(a.Metrics.StatsD(prefix), "\n"))
	})

	a.router = router
}

// Run serves the admin endpoints and runs one subscription per broker until
// ctx is done or any of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	})

	for _, s := range a.Strategies {
		g.Go(func() error {
			subCtx := logging.WithServiceName(gCtx, constants.ServiceName)
			return s.Subscribe(subCtx, a.hub.Broadcast)
		})
	}

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down relay server")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			tctx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
			defer cancel()
			if err := a.tracerProvider.Shutdown(tctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
