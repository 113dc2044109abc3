package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func route(channel string) Route {
	return Route{Channel: channel, Event: "message", Data: json.RawMessage(`{"c":"` + channel + `"}`)}
}

func TestBufferFlushesOnBatchSize(t *testing.T) {
	start := time.Now()
	b := NewBuffer(3, time.Hour, start)

	b.Add(route("a"))
	b.Add(route("b"))
	assert.False(t, b.ShouldFlush(start))

	b.Add(route("c"))
	assert.True(t, b.ShouldFlush(start))

	batch := b.Flush(start)
	require.Len(t, batch, 3)
	assert.Equal(t, []string{"a", "b", "c"}, channels(batch))
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Bytes())
}

func TestBufferFlushesOnInterval(t *testing.T) {
	start := time.Now()
	b := NewBuffer(100, 50*time.Millisecond, start)

	assert.False(t, b.ShouldFlush(start.Add(time.Second)), "empty buffer never flushes")

	b.Add(route("a"))
	assert.False(t, b.ShouldFlush(start.Add(49*time.Millisecond)))
	assert.True(t, b.ShouldFlush(start.Add(50*time.Millisecond)))
}

func TestBufferFlushRestartsInterval(t *testing.T) {
	start := time.Now()
	b := NewBuffer(100, 50*time.Millisecond, start)

	later := start.Add(40 * time.Millisecond)
	assert.Nil(t, b.Flush(later))

	b.Add(route("a"))
	assert.False(t, b.ShouldFlush(start.Add(60*time.Millisecond)))
	assert.True(t, b.ShouldFlush(later.Add(50*time.Millisecond)))
}

func TestBufferTracksBytes(t *testing.T) {
	b := NewBuffer(10, time.Second, time.Now())
	b.Add(Route{Data: json.RawMessage(`{"a":1}`)})
	b.Add(Route{Data: json.RawMessage(`{}`)})
	assert.Equal(t, 9, b.Bytes())
	assert.Equal(t, 2, b.Len())
}

func TestBufferBatchedFlushKeepsOrder(t *testing.T) {
	start := time.Now()
	b := NewBuffer(2, time.Hour, start)

	var delivered []Route
	for _, c := range []string{"m1", "m2", "m3", "m4", "m5"} {
		b.Add(route(c))
		if b.ShouldFlush(start) {
			delivered = append(delivered, b.Flush(start)...)
		}
	}
	delivered = append(delivered, b.Flush(start)...)

	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, channels(delivered))
}

func channels(routes []Route) []string {
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = r.Channel
	}
	return out
}
