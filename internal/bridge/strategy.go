package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"relay/internal/broker"
	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/logger"
	"relay/pkg/cel"
	"relay/pkg/circuitbreaker"
	apperrors "relay/pkg/errors"
	"relay/pkg/logging"
	"relay/pkg/metrics"
)

// Strategy consumes one configured broker and hands every routed message to
// a MessageHandler. Subscribe blocks until ctx is done and absorbs every
// broker failure by reconnecting.
type Strategy interface {
	// Name is the broker family, e.g. "kafka".
	Name() string
	// ID is the configured broker name, unique per process.
	ID() string
	Supports(brokerType string) bool
	Subscribe(ctx context.Context, handler MessageHandler) error
	State() ConnectionState
}

// Dependencies are shared by every strategy a registry builds.
type Dependencies struct {
	Metrics   *metrics.Collector
	Logger    logger.Logger
	QueueSize int
	// NewFactory builds the client factory for a broker; broker.NewFactory
	// when nil.
	NewFactory        func(cfg config.BrokerConfig, log logger.Logger) (broker.Factory, error)
	SupervisorOptions []SupervisorOption
	Clock             func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Metrics == nil {
		d.Metrics = metrics.NewCollector()
	}
	if d.Logger == nil {
		d.Logger = logger.NopLogger()
	}
	if d.QueueSize <= 0 {
		d.QueueSize = constants.DefaultQueueSize
	}
	if d.NewFactory == nil {
		d.NewFactory = broker.NewFactory
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// subscription is the consume loop shared by every broker family. Families
// differ only in how they pick the topics they subscribe to.
type subscription struct {
	kind       config.Kind
	cfg        config.BrokerConfig
	router     Router
	filter     *cel.Filter
	supervisor *Supervisor
	metrics    *metrics.Collector
	logger     logger.Logger
	queueSize  int
	clock      func() time.Time
	running    atomic.Bool
}

func newSubscription(kind config.Kind, cfg config.BrokerConfig, topics func(config.BrokerConfig) []string, deps Dependencies) (*subscription, error) {
	deps = deps.withDefaults()
	config.ApplyBrokerDefaults(&cfg)

	factory, err := deps.NewFactory(cfg, deps.Logger)
	if err != nil {
		return nil, apperrors.ErrUnsupportedBroker.WithCause(err).WithDetail("broker", cfg.Name)
	}

	var filter *cel.Filter
	if cfg.Filter != "" {
		filter, err = cel.NewFilter(cfg.Filter)
		if err != nil {
			return nil, apperrors.ErrValidation.WithCause(err).WithDetail("field", cfg.Name+".filter")
		}
	}

	log := deps.Logger.With("broker", cfg.Name, "type", kind.String())
	router := NewRouter(cfg.TopicPrefix)
	router.clock = deps.Clock

	return &subscription{
		kind:       kind,
		cfg:        cfg,
		router:     router,
		filter:     filter,
		supervisor: NewSupervisor(cfg.Name, factory, topics(cfg), cfg.Backoff.BaseDelay, cfg.Backoff.MaxDelay, deps.Metrics, log, deps.SupervisorOptions...),
		metrics:    deps.Metrics,
		logger:     log,
		queueSize:  deps.QueueSize,
		clock:      deps.Clock,
	}, nil
}

func (s *subscription) Name() string {
	return s.kind.String()
}

func (s *subscription) ID() string {
	return s.cfg.Name
}

func (s *subscription) Supports(brokerType string) bool {
	kind, err := config.ParseKind(brokerType)
	return err == nil && kind == s.kind
}

func (s *subscription) State() ConnectionState {
	return s.supervisor.State()
}

func (s *subscription) Subscribe(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return apperrors.ErrValidation.WithDetail("message", "message handler is required")
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("subscription %q is already running", s.cfg.Name)
	}
	defer s.running.Store(false)

	ctx = logging.WithBroker(ctx, s.cfg.Name)
	dispatcher := NewDispatcher(s.cfg.Name, s.queueSize, handler, s.metrics, s.logger)

	// The dispatcher outlives the consume loop so the final flush is
	// delivered before Subscribe returns.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(dispatchCtx)
	}()

	s.logger.InfowCtx(ctx, "Starting subscription",
		"topics", s.supervisor.topics,
		"topic_prefix", s.cfg.TopicPrefix,
		"batch_size", s.cfg.BatchSize,
		"flush_interval", s.cfg.FlushInterval(),
	)

	s.supervisor.Run(ctx, func(ctx context.Context, client broker.Client) error {
		return s.consume(ctx, client, dispatcher)
	})

	stopDispatch()
	wg.Wait()
	s.metrics.UpdateMemoryMetrics(s.cfg.Name, 0, 0, 0)

	s.logger.InfowCtx(ctx, "Subscription stopped")
	return nil
}

// consume polls until ctx ends, the session closes or the error threshold is
// exceeded. Pending messages are flushed on every idle poll, whenever the
// buffer is due, and on exit.
func (s *subscription) consume(ctx context.Context, client broker.Client, d *Dispatcher) error {
	buf := NewBuffer(s.cfg.BatchSize, s.cfg.FlushInterval(), s.clock())
	breaker := s.newBreaker(ctx)

	flush := func() {
		now := s.clock()
		if batch := buf.Flush(now); len(batch) > 0 {
			s.recordBatch(batch, now)
			d.Enqueue(batch)
		}
		s.metrics.UpdateMemoryMetrics(s.cfg.Name, d.Len(), buf.Bytes(), buf.Len())
	}
	defer flush()

	for ctx.Err() == nil {
		msg := client.Poll(ctx, s.cfg.PollTimeout())

		switch {
		case msg.HasError:
			if errors.Is(msg.Err, broker.ErrSessionClosed) {
				return msg.Err
			}
			s.metrics.RecordError(metrics.ErrorBroker)
			breaker.Record(msg.Err)
			s.logger.WarnwCtx(ctx, "Broker poll failed",
				"error", msg.Err,
				"errors", breaker.Counts().TotalFailures,
				"threshold", s.cfg.ErrorThreshold,
			)
			if breaker.IsOpen() {
				return apperrors.ErrDegraded.WithCause(msg.Err).WithDetail("threshold", s.cfg.ErrorThreshold)
			}
		case msg.Idle():
			flush()
		default:
			s.accept(ctx, msg, buf)
			if buf.ShouldFlush(s.clock()) {
				flush()
			}
		}
	}

	return ctx.Err()
}

func (s *subscription) newBreaker(ctx context.Context) *circuitbreaker.Wrapper {
	cfg := circuitbreaker.ThresholdConfig(s.cfg.Name, s.cfg.ErrorThreshold)
	cfg.OnStateChange = func(name string, _, to gobreaker.State) {
		if to != gobreaker.StateOpen {
			return
		}
		s.metrics.RecordError(metrics.ErrorCircuitOpen)
		s.logger.ErrorwCtx(ctx, "Broker error threshold exceeded, reconnecting",
			"breaker", name,
			"threshold", s.cfg.ErrorThreshold,
		)
	}
	return circuitbreaker.NewWrapper(cfg)
}

// accept routes and filters one record into buf. Malformed or filtered
// records are dropped without affecting the rest of the stream.
func (s *subscription) accept(ctx context.Context, msg broker.Message, buf *Buffer) {
	route, err := s.router.Route(msg)
	if err != nil {
		s.metrics.RecordError(metrics.ErrorMalformedPayload)
		s.metrics.RecordConsume(msg.Topic, 0, false)
		s.logger.WarnwCtx(logging.WithTopic(ctx, msg.Topic), "Dropping malformed message",
			"error", err,
			"payload_bytes", len(msg.Payload),
		)
		return
	}

	if s.filter != nil {
		matched, err := s.filter.Match(ctx, cel.Vars{
			Topic:   route.Topic,
			Channel: route.Channel,
			Event:   route.Event,
			Key:     route.Key,
			Data:    route.Data,
		})
		if err != nil {
			s.metrics.RecordError(metrics.ErrorFilter)
			s.logger.WarnwCtx(logging.WithTopic(ctx, msg.Topic), "Filter evaluation failed, dropping message",
				"error", err,
				"channel", route.Channel,
			)
			return
		}
		if !matched {
			s.logger.DebugwCtx(ctx, "Message filtered out", "channel", route.Channel)
			return
		}
	}

	buf.Add(route)
}

func (s *subscription) recordBatch(batch []Route, now time.Time) {
	type topicTotals struct {
		count   int
		latency time.Duration
	}

	totals := make(map[string]*topicTotals)
	for _, r := range batch {
		t, ok := totals[r.Topic]
		if !ok {
			t = &topicTotals{}
			totals[r.Topic] = t
		}
		t.count++
		t.latency += now.Sub(r.ReceivedAt)
	}
	for topic, t := range totals {
		s.metrics.RecordBatch(topic, t.count, t.latency, true)
	}
}

// explicitTopics subscribes to the configured topics, or to the default
// topic when neither topics nor a prefix is set. A nil result asks the client
// to discover topics by prefix.
func explicitTopics(cfg config.BrokerConfig) []string {
	if len(cfg.Topics) > 0 {
		return cfg.Topics
	}
	if cfg.TopicPrefix == "" && cfg.DefaultTopic != "" {
		return []string{cfg.DefaultTopic}
	}
	return nil
}

// KafkaStrategy consumes Kafka topics through a consumer group.
type KafkaStrategy struct {
	*subscription
}

func NewKafkaStrategy(cfg config.BrokerConfig, deps Dependencies) (Strategy, error) {
	sub, err := newSubscription(config.KindKafka, cfg, explicitTopics, deps)
	if err != nil {
		return nil, err
	}
	return &KafkaStrategy{subscription: sub}, nil
}

// RabbitMQStrategy consumes every routing key published to one exchange
// through an exclusive, server-named queue.
type RabbitMQStrategy struct {
	*subscription
}

func NewRabbitMQStrategy(cfg config.BrokerConfig, deps Dependencies) (Strategy, error) {
	sub, err := newSubscription(config.KindRabbitMQ, cfg, func(config.BrokerConfig) []string {
		return nil
	}, deps)
	if err != nil {
		return nil, err
	}
	return &RabbitMQStrategy{subscription: sub}, nil
}

// RedisStrategy consumes Redis pub/sub channels, by name or by prefix
// pattern.
type RedisStrategy struct {
	*subscription
}

func NewRedisStrategy(cfg config.BrokerConfig, deps Dependencies) (Strategy, error) {
	sub, err := newSubscription(config.KindRedis, cfg, explicitTopics, deps)
	if err != nil {
		return nil, err
	}
	return &RedisStrategy{subscription: sub}, nil
}
