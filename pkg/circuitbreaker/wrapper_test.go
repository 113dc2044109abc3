package circuitbreaker

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdTripsAfterExceeding(t *testing.T) {
	var transitions []gobreaker.State
	cfg := ThresholdConfig("orders-kafka", 10)
	cfg.OnStateChange = func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	}
	w := NewWrapper(cfg)

	fault := errors.New("fetch failed")
	for i := 0; i < 10; i++ {
		w.Record(fault)
		require.True(t, w.IsClosed(), "failure %d must not trip", i+1)
	}

	w.Record(fault)
	assert.True(t, w.IsOpen())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
	assert.Equal(t, "orders-kafka", w.Name())
}

func TestSuccessesDoNotResetTotalFailures(t *testing.T) {
	w := NewWrapper(ThresholdConfig("t", 2))

	w.Record(errors.New("a"))
	w.Record(nil)
	w.Record(errors.New("b"))
	w.Record(nil)
	assert.True(t, w.IsClosed())
	assert.Equal(t, uint32(2), w.Counts().TotalFailures)

	w.Record(errors.New("c"))
	assert.True(t, w.IsOpen())
}

func TestExecuteWithContextCancelled(t *testing.T) {
	w := NewWrapper(ThresholdConfig("t", 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := w.ExecuteWithContext(ctx, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
