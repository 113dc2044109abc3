package broker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/logger"
)

// RabbitMQClient consumes every message published to a topic exchange through
// an exclusive, auto-deleting queue, so each bridge process sees the full stream.
type RabbitMQClient struct {
	cfg         config.RabbitMQConfig
	consumerTag string
	conn        *amqp.Connection
	ch          *amqp.Channel
	closed      chan *amqp.Error
	deliveries  <-chan amqp.Delivery
	logger      logger.Logger
}

func NewRabbitMQClient(cfg config.RabbitMQConfig, log logger.Logger) *RabbitMQClient {
	return &RabbitMQClient{
		cfg:         cfg,
		consumerTag: "relay-" + uuid.NewString(),
		logger:      log,
	}
}

func (c *RabbitMQClient) url() string {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.cfg.Host,
		Port:     c.cfg.Port,
		Username: c.cfg.User,
		Password: c.cfg.Password,
		Vhost:    c.cfg.VHost,
	}.String()
}

// contextDial returns an amqp dial function bound to ctx. Cancelling ctx
// aborts the TCP dial and expires the handshake deadline; release detaches ctx
// once the connection is open.
func contextDial(ctx context.Context, timeout time.Duration) (dial func(network, addr string) (net.Conn, error), release func()) {
	var stop func() bool
	dialer := &net.Dialer{Timeout: timeout}

	dial = func(network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		// Cleared by amqp once the connection is open.
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return nil, err
		}
		stop = context.AfterFunc(ctx, func() {
			conn.SetDeadline(time.Now())
		})
		return conn, nil
	}
	release = func() {
		if stop != nil {
			stop()
		}
	}
	return dial, release
}

func (c *RabbitMQClient) Connect(ctx context.Context) error {
	dial, release := contextDial(ctx, constants.AMQPDialTimeout)
	conn, err := amqp.DialConfig(c.url(), amqp.Config{
		Heartbeat: constants.AMQPHeartbeat,
		Locale:    "en_US",
		Dial:      dial,
	})
	release()
	if err != nil {
		return fmt.Errorf("failed to dial rabbitmq %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(c.cfg.Exchange, c.cfg.ExchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", c.cfg.Exchange, err)
	}

	c.conn = conn
	c.ch = ch
	c.closed = ch.NotifyClose(make(chan *amqp.Error, 1))
	return nil
}

// Subscribe binds with the wildcard key regardless of topics; channel routing
// happens on the routing key after delivery.
func (c *RabbitMQClient) Subscribe(ctx context.Context, topics []string) error {
	if c.ch == nil {
		return ErrSessionClosed
	}

	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.ch.QueueBind(q.Name, constants.WildcardBindingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, c.cfg.Exchange, err)
	}

	deliveries, err := c.ch.ConsumeWithContext(ctx, q.Name, c.consumerTag, true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", q.Name, err)
	}

	c.logger.Infow("Bound RabbitMQ queue",
		"queue", q.Name,
		"exchange", c.cfg.Exchange,
		"binding_key", constants.WildcardBindingKey,
	)

	c.deliveries = deliveries
	return nil
}

func (c *RabbitMQClient) Poll(ctx context.Context, timeout time.Duration) Message {
	if c.deliveries == nil {
		return Failure(ErrSessionClosed)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d, ok := <-c.deliveries:
		if !ok {
			return Failure(ErrSessionClosed)
		}
		return c.toMessage(d)
	case amqpErr := <-c.closed:
		if amqpErr != nil {
			return Failure(fmt.Errorf("%w: %v", ErrSessionClosed, amqpErr))
		}
		return Failure(ErrSessionClosed)
	case <-timer.C:
		return Timeout()
	case <-ctx.Done():
		return Timeout()
	}
}

func (c *RabbitMQClient) toMessage(d amqp.Delivery) Message {
	topic := d.RoutingKey
	if topic == "" {
		topic = d.Exchange
	}

	msg := Message{
		Topic:      topic,
		RoutingKey: d.RoutingKey,
		Payload:    d.Body,
		ReceivedAt: time.Now(),
	}
	if len(d.Headers) > 0 {
		msg.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			if s, ok := v.(string); ok {
				msg.Headers[k] = s
			}
		}
	}
	return msg
}

func (c *RabbitMQClient) Close() error {
	var err error
	if c.ch != nil {
		err = c.ch.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if closeErr := c.conn.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.ch = nil
	c.conn = nil
	c.deliveries = nil
	return err
}
