package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"relay/internal/config"
	"relay/internal/logger"
)

// RedisClient consumes Redis pub/sub channels. Explicit topics are subscribed
// by name; otherwise every channel carrying the prefix is pattern-subscribed.
type RedisClient struct {
	cfg         config.RedisConfig
	topicPrefix string
	client      *redis.Client
	pubsub      *redis.PubSub
	logger      logger.Logger
}

func NewRedisClient(cfg config.BrokerConfig, log logger.Logger) *RedisClient {
	return &RedisClient{
		cfg:         cfg.Redis,
		topicPrefix: cfg.TopicPrefix,
		logger:      log,
	}
}

func (c *RedisClient) Connect(ctx context.Context) error {
	c.client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port),
		Password: c.cfg.Password,
		DB:       c.cfg.DB,
	})

	if err := c.client.Ping(ctx).Err(); err != nil {
		c.client.Close()
		c.client = nil
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Subscribe(ctx context.Context, topics []string) error {
	if c.client == nil {
		return ErrSessionClosed
	}

	if len(topics) > 0 {
		c.pubsub = c.client.Subscribe(ctx, topics...)
	} else {
		c.pubsub = c.client.PSubscribe(ctx, prefixPatterns(c.topicPrefix)...)
	}

	// Wait for the subscription confirmation so failures surface here.
	if _, err := c.pubsub.Receive(ctx); err != nil {
		c.pubsub.Close()
		c.pubsub = nil
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	c.logger.Infow("Subscribed to Redis channels",
		"topics", topics,
		"patterns", prefixPatterns(c.topicPrefix),
	)
	return nil
}

// prefixPatterns builds one glob per separator with the prefix escaped.
// Without a prefix every channel matches.
func prefixPatterns(prefix string) []string {
	if prefix == "" {
		return []string{"*"}
	}
	escaped := globEscaper.Replace(prefix)
	patterns := make([]string, 0, len(PrefixSeparators))
	for _, sep := range PrefixSeparators {
		patterns = append(patterns, escaped+sep+"?*")
	}
	return patterns
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func (c *RedisClient) Poll(ctx context.Context, timeout time.Duration) Message {
	if c.pubsub == nil {
		return Failure(ErrSessionClosed)
	}

	received, err := c.pubsub.ReceiveTimeout(ctx, timeout)
	if err != nil {
		var netErr net.Error
		switch {
		case ctx.Err() != nil:
			return Timeout()
		case errors.As(err, &netErr) && netErr.Timeout():
			return Timeout()
		case errors.Is(err, redis.ErrClosed):
			return Failure(ErrSessionClosed)
		default:
			return Failure(err)
		}
	}

	switch m := received.(type) {
	case *redis.Message:
		return Message{
			Topic:      m.Channel,
			Payload:    []byte(m.Payload),
			ReceivedAt: time.Now(),
		}
	default:
		// Subscription confirmations and pongs carry no record.
		return Timeout()
	}
}

func (c *RedisClient) Close() error {
	var err error
	if c.pubsub != nil {
		err = c.pubsub.Close()
		c.pubsub = nil
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		c.client = nil
	}
	return err
}
