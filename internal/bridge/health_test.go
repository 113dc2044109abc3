package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/config"
	"relay/pkg/health"
)

func TestStateError(t *testing.T) {
	assert.NoError(t, stateError(ConnectionState{Status: StatusConsuming}))
	assert.NoError(t, stateError(ConnectionState{Status: StatusSubscribed}))

	var degraded *health.DegradedError
	err := stateError(ConnectionState{Status: StatusBackoff, ConsecutiveFailures: 3, CurrentDelay: 4 * time.Second, LastError: "refused"})
	require.ErrorAs(t, err, &degraded)
	assert.Equal(t, "retrying in 4s after 3 consecutive failures: refused", err.Error())

	assert.ErrorAs(t, stateError(ConnectionState{Status: StatusConnecting}), &degraded)

	err = stateError(ConnectionState{Status: StatusDisconnected})
	require.Error(t, err)
	assert.False(t, assertDegraded(err))
}

func assertDegraded(err error) bool {
	_, ok := err.(*health.DegradedError)
	return ok
}

func TestHealthCheckerName(t *testing.T) {
	s, err := NewRegistry(Dependencies{}).Create(config.BrokerConfig{Name: "orders", Type: "redis"})
	require.NoError(t, err)

	checker := HealthChecker(s)
	assert.Equal(t, "orders", checker.Name())
	assert.Error(t, checker.Check(context.Background()), "a strategy that never ran is disconnected")
}
