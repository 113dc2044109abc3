package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return t }
}

func TestRecordConsumeAggregates(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))

	c.RecordConsume("realtime_orders", 4*time.Millisecond, true)
	c.RecordConsume("realtime_orders", 6*time.Millisecond, false)
	c.RecordPublish("orders", 2*time.Millisecond, true)

	snap := c.GetAll()
	orders := snap.Consumers["realtime_orders"]
	assert.Equal(t, uint64(2), orders.Count)
	assert.Equal(t, uint64(1), orders.Failures)
	assert.InDelta(t, 10.0, orders.TotalLatencyMs, 1e-9)
	assert.InDelta(t, 5.0, orders.AvgLatencyMs, 1e-9)
	assert.NotZero(t, orders.LastEventTime)

	assert.Equal(t, uint64(1), snap.Producers["orders"].Count)
	assert.Equal(t, uint64(1), snap.Latency.Count, "only publishes feed the histogram")
}

func TestHistogramIsCumulative(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))

	c.RecordPublish("t", 500*time.Microsecond, true) // 0.0005s
	c.RecordPublish("t", 30*time.Millisecond, true)  // 0.03s
	c.RecordPublish("t", 20*time.Second, true)       // beyond the last bound

	buckets := c.GetAll().Latency.Buckets
	require.Len(t, buckets, len(LatencyBuckets)+1)

	want := map[string]uint64{
		"0.001": 1,
		"0.005": 1,
		"0.025": 1,
		"0.05":  2,
		"10":    2,
		"+Inf":  3,
	}
	for _, b := range buckets {
		if n, ok := want[b.UpperBound]; ok {
			assert.Equal(t, n, b.Count, "le=%s", b.UpperBound)
		}
	}

	for i := 1; i < len(buckets); i++ {
		assert.GreaterOrEqual(t, buckets[i].Count, buckets[i-1].Count)
	}
}

func TestRecordBatchSkipsHistogram(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))

	c.RecordBatch("realtime_orders", 10, 100*time.Millisecond, true)
	c.RecordBatch("realtime_orders", 0, time.Second, true)

	snap := c.GetAll()
	assert.Equal(t, uint64(10), snap.Consumers["realtime_orders"].Count)
	assert.InDelta(t, 10.0, snap.Consumers["realtime_orders"].AvgLatencyMs, 1e-9)
	assert.Zero(t, snap.Latency.Count)
}

func TestConnectionErrorsAndMemory(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))

	c.RecordConnection("orders-kafka", EventConnect)
	c.RecordConnection("orders-kafka", EventDisconnect)
	c.RecordConnection("orders-kafka", EventReconnect)
	c.RecordConnection("orders-kafka", EventFailure)
	c.RecordConnection("orders-kafka", EventFailure)
	c.RecordError(ErrorMalformedPayload)
	c.UpdateMemoryMetrics("orders-kafka", 3, 512, 7)

	snap := c.GetAll()
	assert.Equal(t, ConnectionSummary{Connects: 1, Disconnects: 1, Reconnects: 1, Failures: 2}, snap.Connections["orders-kafka"])
	assert.Equal(t, uint64(1), snap.Errors[ErrorMalformedPayload])
	assert.Equal(t, MemoryStats{QueueSize: 3, BufferBytes: 512, Pending: 7}, snap.Memory["orders-kafka"])
}

func TestExportsAreIdempotent(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	c.RecordConsume("realtime_orders", 3*time.Millisecond, true)
	c.RecordPublish("orders", time.Millisecond, false)
	c.RecordConnection("orders-kafka", EventConnect)
	c.RecordError(ErrorBroker)
	c.UpdateMemoryMetrics("orders-kafka", 1, 2, 3)

	first, err := c.Prometheus()
	require.NoError(t, err)
	second, err := c.Prometheus()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	j1, err := c.JSON()
	require.NoError(t, err)
	j2, err := c.JSON()
	require.NoError(t, err)
	assert.Equal(t, j1, j2)

	assert.Equal(t, c.StatsD("relay"), c.StatsD("relay"))
}

func TestPrometheusExposition(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	c.RecordConsume("realtime_orders", 2*time.Millisecond, true)
	c.RecordPublish("orders", 2*time.Millisecond, true)
	c.RecordConnection("orders-kafka", EventConnect)

	text, err := c.Prometheus()
	require.NoError(t, err)

	assert.Contains(t, text, `relay_consumer_messages_total{topic="realtime_orders"} 1`)
	assert.Contains(t, text, `relay_connection_events_total{broker="orders-kafka",event="connect"} 1`)
	assert.Contains(t, text, "# TYPE relay_message_latency_seconds histogram")
	assert.Contains(t, text, `relay_message_latency_seconds_bucket{le="0.001"} 0`)
	assert.Contains(t, text, `relay_message_latency_seconds_bucket{le="0.005"} 1`)
	assert.Contains(t, text, `relay_message_latency_seconds_bucket{le="+Inf"} 1`)
	assert.Contains(t, text, "relay_uptime_seconds 0")
}

func TestJSONSummary(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	c.RecordConsume("realtime_orders", time.Millisecond, true)

	raw, err := c.JSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"uptime_seconds", "consumers", "producers", "connections", "errors", "memory", "latency_histogram"} {
		assert.Contains(t, decoded, key)
	}
}

func TestStatsD(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	c.RecordConsume("realtime.orders", 2*time.Millisecond, true)
	c.RecordError(ErrorHandler)

	lines := c.StatsD("relay")
	assert.Contains(t, lines, "relay.consumer.realtime_orders.count:1|g")
	assert.Contains(t, lines, "relay.consumer.realtime_orders.avg_latency_ms:2|g")
	assert.Contains(t, lines, "relay.errors.handler:1|g")
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for _, topic := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.RecordConsume(topic, time.Millisecond, true)
				c.RecordPublish(topic, time.Millisecond, true)
				c.RecordConnection(topic, EventConnect)
				c.RecordError(ErrorBroker)
				if i%50 == 0 {
					_, _ = c.Prometheus()
				}
			}
		}(topic)
	}
	wg.Wait()

	snap := c.GetAll()
	for _, topic := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, uint64(500), snap.Consumers[topic].Count)
		assert.Equal(t, uint64(500), snap.Connections[topic].Connects)
	}
	assert.Equal(t, uint64(2000), snap.Errors[ErrorBroker])
	assert.Equal(t, uint64(2000), snap.Latency.Count)
}

func TestReset(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	c.RecordConsume("t", time.Millisecond, true)
	c.RecordError(ErrorBroker)

	c.Reset()

	snap := c.GetAll()
	assert.Empty(t, snap.Consumers)
	assert.Empty(t, snap.Errors)
	assert.Zero(t, snap.Latency.Count)
}

func TestExportsAreIdempotentWithRealClock(t *testing.T) {
	c := NewCollector()
	c.RecordConsume("realtime_orders", 3*time.Millisecond, true)
	c.RecordPublish("orders", time.Millisecond, true)

	// A pair may straddle a whole second, so allow a couple of attempts.
	var j1, j2 []byte
	var p1, p2 string
	for attempt := 0; attempt < 3; attempt++ {
		var err error
		j1, err = c.JSON()
		require.NoError(t, err)
		p1, err = c.Prometheus()
		require.NoError(t, err)
		j2, err = c.JSON()
		require.NoError(t, err)
		p2, err = c.Prometheus()
		require.NoError(t, err)
		if string(j1) == string(j2) && p1 == p2 {
			break
		}
	}
	assert.Equal(t, string(j1), string(j2))
	assert.Equal(t, p1, p2)
}

func TestInvalidUTF8Keys(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	c.RecordConsume("orders\xff", time.Millisecond, false)
	c.RecordBatch("orders\xfe", 2, time.Millisecond, true)
	c.RecordPublish("chan\xff", time.Millisecond, true)
	c.RecordConnection("broker\xff", EventConnect)
	c.RecordError("type\xff")
	c.UpdateMemoryMetrics("broker\xff", 1, 2, 3)

	var text string
	require.NotPanics(t, func() {
		var err error
		text, err = c.Prometheus()
		require.NoError(t, err)
	})
	assert.Contains(t, text, "topic=\"orders\uFFFD\"")
	assert.Contains(t, text, "channel=\"chan\uFFFD\"")

	snap := c.GetAll()
	assert.Equal(t, uint64(3), snap.Consumers["orders\uFFFD"].Count)
	assert.Equal(t, uint64(1), snap.Errors["type\uFFFD"])
}
