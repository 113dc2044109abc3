package metrics

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LatencyBuckets are the upper bounds, in seconds, of the latency histogram.
// The implicit last bucket is +Inf.
var LatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type ConnectionEvent string

const (
	EventConnect    ConnectionEvent = "connect"
	EventDisconnect ConnectionEvent = "disconnect"
	EventReconnect  ConnectionEvent = "reconnect"
	EventFailure    ConnectionEvent = "failure"
)

const (
	ErrorBroker           = "broker"
	ErrorMalformedPayload = "malformed_payload"
	ErrorHandler          = "handler"
	ErrorQueueFull        = "queue_full"
	ErrorCircuitOpen      = "circuit_open"
	ErrorConnect          = "connect"
	ErrorFilter           = "filter"
	ErrorRateLimited      = "rate_limited"
)

type flowStats struct {
	mu            sync.Mutex
	count         uint64
	failures      uint64
	totalLatency  time.Duration
	lastEventTime time.Time
}

type connectionStats struct {
	mu     sync.Mutex
	events map[ConnectionEvent]uint64
}

// MemoryStats are point-in-time gauges reported by one subscription task.
type MemoryStats struct {
	QueueSize   int `json:"queue_size"`
	BufferBytes int `json:"buffer_bytes"`
	Pending     int `json:"pending"`
}

type histogram struct {
	mu      sync.Mutex
	buckets []uint64
	count   uint64
	sum     float64
}

func newHistogram() *histogram {
	return &histogram{buckets: make([]uint64, len(LatencyBuckets))}
}

// observe increments every bucket whose bound is >= seconds, which keeps the
// stored counts cumulative.
func (h *histogram) observe(seconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, bound := range LatencyBuckets {
		if seconds <= bound {
			h.buckets[i]++
		}
	}
	h.count++
	h.sum += seconds
}

// Collector aggregates bridge metrics. One instance is shared by every
// subscription task; keys are disjoint per task, so writers contend only on
// map insertion.
type Collector struct {
	clock func() time.Time

	mu          sync.RWMutex
	startedAt   time.Time
	consumers   map[string]*flowStats
	producers   map[string]*flowStats
	connections map[string]*connectionStats
	memory      map[string]MemoryStats
	errors      map[string]uint64
	latency     *histogram

	descs descriptors
}

type Option func(*Collector)

// WithClock replaces time.Now, mainly so exports are reproducible in tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Collector) {
		c.clock = clock
	}
}

func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		clock: time.Now,
		descs: newDescriptors(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Reset()
	return c
}

// Reset drops every aggregate and restarts the uptime clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startedAt = c.clock()
	c.consumers = make(map[string]*flowStats)
	c.producers = make(map[string]*flowStats)
	c.connections = make(map[string]*connectionStats)
	c.memory = make(map[string]MemoryStats)
	c.errors = make(map[string]uint64)
	c.latency = newHistogram()
}

type flowKind int

const (
	consumerFlow flowKind = iota
	producerFlow
)

func (c *Collector) flows(kind flowKind) map[string]*flowStats {
	if kind == producerFlow {
		return c.producers
	}
	return c.consumers
}

// labelValue replaces invalid UTF-8 in broker supplied names, which the
// Prometheus exposition format rejects.
func labelValue(key string) string {
	return strings.ToValidUTF8(key, "\uFFFD")
}

func (c *Collector) flow(kind flowKind, key string) *flowStats {
	key = labelValue(key)
	c.mu.RLock()
	s, ok := c.flows(kind)[key]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.flows(kind)
	if s, ok = m[key]; !ok {
		s = &flowStats{}
		m[key] = s
	}
	return s
}

func (c *Collector) record(s *flowStats, n uint64, latency time.Duration, success bool) {
	now := c.clock()

	s.mu.Lock()
	s.count += n
	s.totalLatency += latency
	if !success {
		s.failures += n
	}
	s.lastEventTime = now
	s.mu.Unlock()
}

// RecordConsume records one message taken from a broker topic.
func (c *Collector) RecordConsume(topic string, latency time.Duration, success bool) {
	c.record(c.flow(consumerFlow, topic), 1, latency, success)
}

// RecordPublish records one message handed to the realtime layer on channel.
// Only publishes feed the latency histogram.
func (c *Collector) RecordPublish(channel string, latency time.Duration, success bool) {
	c.record(c.flow(producerFlow, channel), 1, latency, success)
	c.histogram().observe(latency.Seconds())
}

// RecordBatch records size consumed messages at once.
func (c *Collector) RecordBatch(topic string, size int, totalLatency time.Duration, success bool) {
	if size <= 0 {
		return
	}

	c.record(c.flow(consumerFlow, topic), uint64(size), totalLatency, success)
}

func (c *Collector) histogram() *histogram {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latency
}

func (c *Collector) RecordConnection(key string, event ConnectionEvent) {
	key = labelValue(key)
	c.mu.RLock()
	s, ok := c.connections[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if s, ok = c.connections[key]; !ok {
			s = &connectionStats{events: make(map[ConnectionEvent]uint64)}
			c.connections[key] = s
		}
		c.mu.Unlock()
	}

	s.mu.Lock()
	s.events[event]++
	s.mu.Unlock()
}

func (c *Collector) RecordError(errType string) {
	c.mu.Lock()
	c.errors[labelValue(errType)]++
	c.mu.Unlock()
}

func (c *Collector) UpdateMemoryMetrics(key string, queueSize, bufferBytes, pending int) {
	c.mu.Lock()
	c.memory[labelValue(key)] = MemoryStats{
		QueueSize:   queueSize,
		BufferBytes: bufferBytes,
		Pending:     pending,
	}
	c.mu.Unlock()
}

type FlowSummary struct {
	Count          uint64  `json:"count"`
	Failures       uint64  `json:"failures"`
	TotalLatencyMs float64 `json:"total_latency_ms"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	LastEventTime  float64 `json:"last_event_time"`
}

type ConnectionSummary struct {
	Connects    uint64 `json:"connects"`
	Disconnects uint64 `json:"disconnects"`
	Reconnects  uint64 `json:"reconnects"`
	Failures    uint64 `json:"failures"`
}

type BucketCount struct {
	UpperBound string `json:"le"`
	Count      uint64 `json:"count"`
}

type HistogramSnapshot struct {
	Buckets []BucketCount `json:"buckets"`
	Count   uint64        `json:"count"`
	Sum     float64       `json:"sum"`
}

// Snapshot is a consistent, read-only copy of every aggregate.
type Snapshot struct {
	UptimeSeconds float64                      `json:"uptime_seconds"`
	Consumers     map[string]FlowSummary       `json:"consumers"`
	Producers     map[string]FlowSummary       `json:"producers"`
	Connections   map[string]ConnectionSummary `json:"connections"`
	Errors        map[string]uint64            `json:"errors"`
	Memory        map[string]MemoryStats       `json:"memory"`
	Latency       HistogramSnapshot            `json:"latency_histogram"`
}

// GetAll returns a snapshot of every aggregate. It never mutates state.
func (c *Collector) GetAll() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: c.clock().Sub(c.startedAt).Truncate(time.Second).Seconds(),
		Consumers:     summarizeFlows(c.consumers),
		Producers:     summarizeFlows(c.producers),
		Connections:   make(map[string]ConnectionSummary, len(c.connections)),
		Errors:        make(map[string]uint64, len(c.errors)),
		Memory:        make(map[string]MemoryStats, len(c.memory)),
	}

	for key, s := range c.connections {
		s.mu.Lock()
		snap.Connections[key] = ConnectionSummary{
			Connects:    s.events[EventConnect],
			Disconnects: s.events[EventDisconnect],
			Reconnects:  s.events[EventReconnect],
			Failures:    s.events[EventFailure],
		}
		s.mu.Unlock()
	}
	for k, v := range c.errors {
		snap.Errors[k] = v
	}
	for k, v := range c.memory {
		snap.Memory[k] = v
	}

	h := c.latency
	h.mu.Lock()
	snap.Latency = HistogramSnapshot{Count: h.count, Sum: h.sum}
	for i, bound := range LatencyBuckets {
		snap.Latency.Buckets = append(snap.Latency.Buckets, BucketCount{
			UpperBound: formatBound(bound),
			Count:      h.buckets[i],
		})
	}
	snap.Latency.Buckets = append(snap.Latency.Buckets, BucketCount{UpperBound: "+Inf", Count: h.count})
	h.mu.Unlock()

	return snap
}

func summarizeFlows(m map[string]*flowStats) map[string]FlowSummary {
	out := make(map[string]FlowSummary, len(m))
	for key, s := range m {
		s.mu.Lock()
		sum := FlowSummary{
			Count:          s.count,
			Failures:       s.failures,
			TotalLatencyMs: float64(s.totalLatency) / float64(time.Millisecond),
		}
		if s.count > 0 {
			sum.AvgLatencyMs = sum.TotalLatencyMs / float64(s.count)
		}
		if !s.lastEventTime.IsZero() {
			sum.LastEventTime = float64(s.lastEventTime.UnixNano()) / 1e9
		}
		s.mu.Unlock()
		out[key] = sum
	}
	return out
}

func formatBound(b float64) string {
	return strconv.FormatFloat(b, 'g', -1, 64)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
