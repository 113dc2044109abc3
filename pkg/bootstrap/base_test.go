package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/bridge"
	"relay/internal/config"
	"relay/internal/logger"
)

func TestInitStrategies(t *testing.T) {
	cfg := &config.Config{Bridge: config.BridgeConfig{
		QueueSize: 8,
		Brokers: []config.BrokerConfig{
			{Name: "stream", Type: "kafka", TopicPrefix: "realtime"},
			{Name: "cache", Type: "redis", DefaultTopic: "events"},
		},
	}}

	b := NewBase(cfg, logger.NopLogger())
	var seen bridge.Dependencies
	require.NoError(t, b.InitStrategies(func(d *bridge.Dependencies) { seen = *d }))

	require.Len(t, b.Strategies, 2)
	assert.Equal(t, "stream", b.Strategies[0].ID())
	assert.Equal(t, "redis", b.Strategies[1].Name())
	assert.Equal(t, 8, seen.QueueSize)
	assert.Same(t, b.Metrics, seen.Metrics)
}

func TestInitStrategiesUnknownType(t *testing.T) {
	cfg := &config.Config{Bridge: config.BridgeConfig{
		Brokers: []config.BrokerConfig{{Name: "x", Type: "nats"}},
	}}

	err := NewBase(cfg, logger.NopLogger()).InitStrategies()
	assert.Error(t, err)
}

func TestShutdownCollectsErrors(t *testing.T) {
	b := NewBase(&config.Config{}, logger.NopLogger())

	assert.NoError(t, b.Shutdown(context.Background(), nil))

	err := b.Shutdown(context.Background(), func(context.Context) []error {
		return []error{errors.New("server close failed")}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server close failed")
}
