package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "relay"

type descriptors struct {
	uptime            *prometheus.Desc
	consumerMessages  *prometheus.Desc
	consumerFailures  *prometheus.Desc
	consumerLatency   *prometheus.Desc
	consumerLastEvent *prometheus.Desc
	producerMessages  *prometheus.Desc
	producerFailures  *prometheus.Desc
	producerLatency   *prometheus.Desc
	producerLastEvent *prometheus.Desc
	connectionEvents  *prometheus.Desc
	errors            *prometheus.Desc
	queueSize         *prometheus.Desc
	bufferBytes       *prometheus.Desc
	pending           *prometheus.Desc
	latency           *prometheus.Desc
}

func newDescriptors() descriptors {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return descriptors{
		uptime:            desc("uptime_seconds", "Seconds since the collector was created or reset"),
		consumerMessages:  desc("consumer_messages_total", "Messages consumed from a broker topic (count)", "topic"),
		consumerFailures:  desc("consumer_failures_total", "Consumed messages that failed processing (count)", "topic"),
		consumerLatency:   desc("consumer_latency_milliseconds_total", "Accumulated consume-to-flush latency in milliseconds", "topic"),
		consumerLastEvent: desc("consumer_last_event_timestamp_seconds", "Unix time of the last consumed message", "topic"),
		producerMessages:  desc("producer_messages_total", "Messages delivered to a realtime channel (count)", "channel"),
		producerFailures:  desc("producer_failures_total", "Deliveries rejected by the message handler (count)", "channel"),
		producerLatency:   desc("producer_latency_milliseconds_total", "Accumulated receive-to-delivery latency in milliseconds", "channel"),
		producerLastEvent: desc("producer_last_event_timestamp_seconds", "Unix time of the last delivery", "channel"),
		connectionEvents:  desc("connection_events_total", "Broker connection lifecycle events (count)", "broker", "event"),
		errors:            desc("errors_total", "Errors by type (count)", "type"),
		queueSize:         desc("queue_size", "Batches waiting for the message handler", "broker"),
		bufferBytes:       desc("buffer_bytes", "Payload bytes held in the message buffer", "broker"),
		pending:           desc("pending_messages", "Messages held in the message buffer", "broker"),
		latency:           desc("message_latency_seconds", "Per-message latency from broker receipt to delivery"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	d := c.descs
	for _, desc := range []*prometheus.Desc{
		d.uptime,
		d.consumerMessages, d.consumerFailures, d.consumerLatency, d.consumerLastEvent,
		d.producerMessages, d.producerFailures, d.producerLatency, d.producerLastEvent,
		d.connectionEvents, d.errors,
		d.queueSize, d.bufferBytes, d.pending,
		d.latency,
	} {
		ch <- desc
	}
}

// Collect implements prometheus.Collector from a snapshot, so scraping never
// mutates the aggregates. Series that cannot be built are skipped.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.GetAll()
	d := c.descs

	emit := func(desc *prometheus.Desc, vt prometheus.ValueType, v float64, labels ...string) {
		m, err := prometheus.NewConstMetric(desc, vt, v, labels...)
		if err != nil {
			return
		}
		ch <- m
	}

	emit(d.uptime, prometheus.GaugeValue, snap.UptimeSeconds)

	emitFlows := func(flows map[string]FlowSummary, messages, failures, latency, lastEvent *prometheus.Desc) {
		for key, f := range flows {
			emit(messages, prometheus.CounterValue, float64(f.Count), key)
			emit(failures, prometheus.CounterValue, float64(f.Failures), key)
			emit(latency, prometheus.CounterValue, f.TotalLatencyMs, key)
			emit(lastEvent, prometheus.GaugeValue, f.LastEventTime, key)
		}
	}
	emitFlows(snap.Consumers, d.consumerMessages, d.consumerFailures, d.consumerLatency, d.consumerLastEvent)
	emitFlows(snap.Producers, d.producerMessages, d.producerFailures, d.producerLatency, d.producerLastEvent)

	for key, conn := range snap.Connections {
		for event, v := range map[ConnectionEvent]uint64{
			EventConnect:    conn.Connects,
			EventDisconnect: conn.Disconnects,
			EventReconnect:  conn.Reconnects,
			EventFailure:    conn.Failures,
		} {
			emit(d.connectionEvents, prometheus.CounterValue, float64(v), key, string(event))
		}
	}

	for errType, v := range snap.Errors {
		emit(d.errors, prometheus.CounterValue, float64(v), errType)
	}

	for key, m := range snap.Memory {
		emit(d.queueSize, prometheus.GaugeValue, float64(m.QueueSize), key)
		emit(d.bufferBytes, prometheus.GaugeValue, float64(m.BufferBytes), key)
		emit(d.pending, prometheus.GaugeValue, float64(m.Pending), key)
	}

	buckets := make(map[float64]uint64, len(LatencyBuckets))
	for i, bound := range LatencyBuckets {
		buckets[bound] = snap.Latency.Buckets[i].Count
	}
	if h, err := prometheus.NewConstHistogram(d.latency, snap.Latency.Count, snap.Latency.Sum, buckets); err == nil {
		ch <- h
	}
}

// Prometheus renders the aggregates in the Prometheus text exposition format.
// Families and series are sorted, so the output only changes when state does.
func (c *Collector) Prometheus() (string, error) {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		return "", fmt.Errorf("failed to register collector: %w", err)
	}

	families, err := reg.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// JSON renders GetAll as JSON. Map keys are emitted sorted.
func (c *Collector) JSON() ([]byte, error) {
	return json.Marshal(c.GetAll())
}

// StatsD renders the aggregates as StatsD gauge lines under prefix, sorted.
func (c *Collector) StatsD(prefix string) []string {
	snap := c.GetAll()
	var lines []string

	gauge := func(value float64, parts ...string) {
		for i, p := range parts {
			parts[i] = statsdName(p)
		}
		name := strings.Join(append([]string{prefix}, parts...), ".")
		lines = append(lines, name+":"+strconv.FormatFloat(value, 'f', -1, 64)+"|g")
	}

	gauge(snap.UptimeSeconds, "uptime_seconds")
	for _, topic := range sortedKeys(snap.Consumers) {
		f := snap.Consumers[topic]
		gauge(float64(f.Count), "consumer", topic, "count")
		gauge(float64(f.Failures), "consumer", topic, "failures")
		gauge(f.AvgLatencyMs, "consumer", topic, "avg_latency_ms")
	}
	for _, channel := range sortedKeys(snap.Producers) {
		f := snap.Producers[channel]
		gauge(float64(f.Count), "producer", channel, "count")
		gauge(float64(f.Failures), "producer", channel, "failures")
		gauge(f.AvgLatencyMs, "producer", channel, "avg_latency_ms")
	}
	for _, key := range sortedKeys(snap.Connections) {
		conn := snap.Connections[key]
		gauge(float64(conn.Connects), "connection", key, "connects")
		gauge(float64(conn.Disconnects), "connection", key, "disconnects")
		gauge(float64(conn.Reconnects), "connection", key, "reconnects")
		gauge(float64(conn.Failures), "connection", key, "failures")
	}
	for _, errType := range sortedKeys(snap.Errors) {
		gauge(float64(snap.Errors[errType]), "errors", errType)
	}
	for _, key := range sortedKeys(snap.Memory) {
		m := snap.Memory[key]
		gauge(float64(m.QueueSize), "memory", key, "queue_size")
		gauge(float64(m.BufferBytes), "memory", key, "buffer_bytes")
		gauge(float64(m.Pending), "memory", key, "pending")
	}

	return lines
}

var statsdReplacer = strings.NewReplacer(".", "_", ":", "_", "|", "_", "@", "_", " ", "_")

func statsdName(s string) string {
	return statsdReplacer.Replace(s)
}
