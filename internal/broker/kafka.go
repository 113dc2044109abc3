package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/logger"
	"relay/pkg/retry"
)

type KafkaClient struct {
	brokers      []string
	groupID      string
	topicPrefix  string
	defaultTopic string
	dialer       *kafka.Dialer
	reader       *kafka.Reader
	logger       logger.Logger
}

func NewKafkaClient(cfg config.BrokerConfig, groupID string, log logger.Logger) *KafkaClient {
	return &KafkaClient{
		brokers:      cfg.Kafka.Brokers,
		groupID:      groupID,
		topicPrefix:  cfg.TopicPrefix,
		defaultTopic: cfg.DefaultTopic,
		dialer: &kafka.Dialer{
			Timeout:   constants.KafkaDialTimeout,
			DualStack: true,
		},
		logger: log,
	}
}

// Connect verifies that at least one seed broker answers.
func (c *KafkaClient) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *KafkaClient) dial(ctx context.Context) (*kafka.Conn, error) {
	var lastErr error
	for _, addr := range c.brokers {
		conn, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to dial kafka brokers %v: %w", c.brokers, lastErr)
}

// Subscribe joins the consumer group on topics. With no explicit topics, every
// topic carrying the configured prefix is discovered from cluster metadata,
// falling back to the default topic when none exist yet.
func (c *KafkaClient) Subscribe(ctx context.Context, topics []string) error {
	if len(topics) == 0 {
		discovered, err := c.discoverTopics(ctx)
		if err != nil {
			return err
		}
		topics = discovered
	}
	if len(topics) == 0 && c.defaultTopic != "" {
		topics = []string{c.defaultTopic}
	}
	if len(topics) == 0 {
		return fmt.Errorf("no kafka topics match prefix %q", c.topicPrefix)
	}

	c.logger.Infow("Creating Kafka reader",
		"topics", topics,
		"brokers", c.brokers,
		"group_id", c.groupID,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.brokers,
		GroupID:        c.groupID,
		GroupTopics:    topics,
		Dialer:         c.dialer,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        constants.DefaultPollTimeout,
		StartOffset:    kafka.LastOffset,
		CommitInterval: constants.KafkaCommitInterval,
	})
	return nil
}

func (c *KafkaClient) discoverTopics(ctx context.Context) ([]string, error) {
	if c.topicPrefix == "" {
		return nil, nil
	}

	var partitions []kafka.Partition
	err := retry.Retry(ctx, retry.DefaultPolicy(), func() error {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		partitions, err = conn.ReadPartitions()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read kafka metadata: %w", err)
	}

	return matchTopics(partitions, c.topicPrefix), nil
}

func matchTopics(partitions []kafka.Partition, prefix string) []string {
	seen := make(map[string]bool)
	var topics []string
	for _, p := range partitions {
		if seen[p.Topic] {
			continue
		}
		if _, ok := TrimTopicPrefix(p.Topic, prefix); !ok {
			continue
		}
		seen[p.Topic] = true
		topics = append(topics, p.Topic)
	}
	sort.Strings(topics)
	return topics
}

func (c *KafkaClient) Poll(ctx context.Context, timeout time.Duration) Message {
	if c.reader == nil {
		return Failure(ErrSessionClosed)
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m, err := c.reader.ReadMessage(pollCtx)
	if err != nil {
		switch {
		case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded):
			return Timeout()
		case errors.Is(err, io.EOF):
			return Failure(ErrSessionClosed)
		default:
			return Failure(err)
		}
	}

	msg := Message{
		Topic:      m.Topic,
		Payload:    m.Value,
		ReceivedAt: time.Now(),
	}
	if len(m.Key) > 0 {
		msg.RoutingKey = string(m.Key)
	}
	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}

func (c *KafkaClient) Close() error {
	if c.reader == nil {
		return nil
	}
	err := c.reader.Close()
	c.reader = nil
	return err
}
