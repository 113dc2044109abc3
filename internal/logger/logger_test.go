package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"relay/pkg/logging"
)

func observed() (*SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &SugaredLogger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestContextFields(t *testing.T) {
	l, logs := observed()
	l.SetServiceName("relay-server")

	ctx := logging.WithBroker(context.Background(), "orders-kafka")
	ctx = logging.WithTopic(ctx, "realtime_orders")
	l.InfowCtx(ctx, "consumed", "count", 3)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "orders-kafka", fields["broker"])
	assert.Equal(t, "realtime_orders", fields["topic"])
	assert.Equal(t, "relay-server", fields["service_name"])
	assert.EqualValues(t, 3, fields["count"])
}

func TestWithKeepsServiceName(t *testing.T) {
	l, logs := observed()
	l.SetServiceName("relay-server")

	l.With("component", "ws").WarnwCtx(context.Background(), "slow client")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "ws", entry.ContextMap()["component"])
	assert.Equal(t, "relay-server", entry.ContextMap()["service_name"])
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		l, err := New(level, "console")
		require.NoError(t, err, level)
		assert.NotNil(t, l)
	}
}
