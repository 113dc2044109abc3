package bridge

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"relay/internal/logger"
	apperrors "relay/pkg/errors"
	"relay/pkg/metrics"
	"relay/pkg/tracing"
)

// MessageHandler delivers one message to the realtime transport. Returning an
// error counts the delivery as failed; it never stops the subscription.
type MessageHandler func(channel, event string, data json.RawMessage) error

// Dispatcher hands flushed batches from the consume loop to the handler on a
// separate goroutine, so a slow transport never stalls broker polling. When
// its queue is full the batch is dropped and counted.
type Dispatcher struct {
	broker  string
	queue   chan []Route
	handler MessageHandler
	metrics *metrics.Collector
	logger  logger.Logger
	dropLog *rate.Limiter
	clock   func() time.Time
}

func NewDispatcher(brokerName string, size int, handler MessageHandler, collector *metrics.Collector, log logger.Logger) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{
		broker:  brokerName,
		queue:   make(chan []Route, size),
		handler: handler,
		metrics: collector,
		logger:  log,
		dropLog: rate.NewLimiter(rate.Every(time.Second), 1),
		clock:   time.Now,
	}
}

// Enqueue never blocks. It reports false when the batch was dropped.
func (d *Dispatcher) Enqueue(batch []Route) bool {
	if len(batch) == 0 {
		return true
	}
	select {
	case d.queue <- batch:
		return true
	default:
	}

	for range batch {
		d.metrics.RecordError(metrics.ErrorQueueFull)
	}
	if d.dropLog.Allow() {
		d.logger.Warnw("Delivery queue full, dropping batch",
			"broker", d.broker,
			"batch_size", len(batch),
			"queue_capacity", cap(d.queue),
			"error", apperrors.ErrQueueFull,
		)
	}
	return false
}

// Len is the number of batches waiting for delivery.
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

// Run delivers batches until ctx is done, then delivers whatever is already
// queued and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case batch := <-d.queue:
			d.deliver(ctx, batch)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case batch := <-d.queue:
			d.deliver(context.Background(), batch)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, batch []Route) {
	headers := make([]map[string]string, 0, len(batch))
	for _, r := range batch {
		headers = append(headers, r.Headers)
	}
	_, span := tracing.StartSpan(ctx, "relay.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithLinks(tracing.LinksFromHeaders(headers...)...),
		trace.WithAttributes(
			attribute.String("relay.broker", d.broker),
			attribute.Int("relay.batch_size", len(batch)),
		),
	)
	defer span.End()

	failed := 0
	for _, r := range batch {
		err := apperrors.Call(func() error {
			return d.handler(r.Channel, r.Event, r.Data)
		})
		d.metrics.RecordPublish(r.Channel, d.clock().Sub(r.ReceivedAt), err == nil)
		if err != nil {
			failed++
			d.metrics.RecordError(metrics.ErrorHandler)
			d.logger.Warnw("Message handler failed",
				"broker", d.broker,
				"topic", r.Topic,
				"channel", r.Channel,
				"event", r.Event,
				"error", apperrors.ErrHandler.WithCause(err),
			)
		}
	}

	if failed > 0 {
		span.SetStatus(codes.Error, "handler failures")
		span.SetAttributes(attribute.Int("relay.failed", failed))
	}
}
