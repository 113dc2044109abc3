package bootstrap

import (
	"context"
	"fmt"

	"relay/internal/bridge"
	"relay/internal/config"
	"relay/internal/logger"
	"relay/pkg/metrics"
)

// Base holds what every bridge process shares: configuration, logging, the
// metrics collector and one strategy per configured broker.
type Base struct {
	Config     *config.Config
	Logger     logger.Logger
	Metrics    *metrics.Collector
	Strategies []bridge.Strategy
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.NewCollector(),
	}
}

// InitStrategies builds a strategy for every configured broker.
func (b *Base) InitStrategies(opts ...func(*bridge.Dependencies)) error {
	deps := bridge.Dependencies{
		Metrics:   b.Metrics,
		Logger:    b.Logger,
		QueueSize: b.Config.Bridge.QueueSize,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	strategies, err := bridge.NewRegistry(deps).CreateAll(b.Config.Bridge.Brokers)
	if err != nil {
		return fmt.Errorf("failed to create broker strategies: %w", err)
	}

	for _, s := range strategies {
		b.Logger.Infow("Broker strategy configured",
			"broker", s.ID(),
			"type", s.Name(),
		)
	}
	b.Strategies = strategies
	return nil
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if err := b.Logger.Sync(); err != nil {
		b.Logger.Debugw("Logger sync failed", "error", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
