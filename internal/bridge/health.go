package bridge

import (
	"context"
	"fmt"

	"relay/pkg/health"
)

// HealthChecker reports a strategy as healthy while subscribed, degraded
// while connecting or backing off, and unhealthy once stopped.
func HealthChecker(s Strategy) health.Checker {
	return health.NewFuncChecker(s.ID(), func(context.Context) error {
		return stateError(s.State())
	})
}

func stateError(state ConnectionState) error {
	switch state.Status {
	case StatusSubscribed, StatusConsuming:
		return nil
	case StatusConnecting:
		return health.Degraded(fmt.Errorf("connecting after %d consecutive failures", state.ConsecutiveFailures))
	case StatusBackoff:
		return health.Degraded(fmt.Errorf("retrying in %s after %d consecutive failures: %s",
			state.CurrentDelay, state.ConsecutiveFailures, state.LastError))
	default:
		return fmt.Errorf("disconnected")
	}
}
