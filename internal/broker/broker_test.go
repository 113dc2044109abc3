package broker

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/config"
	"relay/internal/logger"
)

func TestMessageSignals(t *testing.T) {
	assert.True(t, Timeout().Idle())
	assert.True(t, EOF("realtime_orders").Idle())

	failure := Failure(errors.New("broker down"))
	assert.True(t, failure.HasError)
	assert.False(t, failure.Idle())
}

func TestMatchTopics(t *testing.T) {
	partitions := []kafka.Partition{
		{Topic: "realtime_orders", ID: 0},
		{Topic: "realtime_orders", ID: 1},
		{Topic: "billing", ID: 0},
		{Topic: "realtime.users.created", ID: 0},
		{Topic: "realtimestats", ID: 0},
		{Topic: "realtime_", ID: 0},
	}

	assert.Equal(t, []string{"realtime.users.created", "realtime_orders"}, matchTopics(partitions, "realtime"))
	assert.Empty(t, matchTopics(partitions, "audit"))
}

func TestTrimTopicPrefix(t *testing.T) {
	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{topic: "realtime_orders", want: "orders", ok: true},
		{topic: "realtime.users.created", want: "users.created", ok: true},
		{topic: "realtimestats"},
		{topic: "realtime_"},
		{topic: "orders"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := TrimTopicPrefix(tt.topic, "realtime")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrefixPatterns(t *testing.T) {
	assert.Equal(t, []string{"realtime_?*", "realtime.?*"}, prefixPatterns("realtime"))
	assert.Equal(t, []string{"*"}, prefixPatterns(""))
	assert.Equal(t, []string{`rt\*_?*`, `rt\*.?*`}, prefixPatterns("rt*"))
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.BrokerConfig
		want interface{}
	}{
		{name: "kafka alias", cfg: config.BrokerConfig{Name: "k", Type: "kafka-improved"}, want: &KafkaClient{}},
		{name: "rabbitmq", cfg: config.BrokerConfig{Name: "r", Type: "rabbitmq"}, want: &RabbitMQClient{}},
		{name: "redis", cfg: config.BrokerConfig{Name: "p", Type: "redis"}, want: &RedisClient{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := NewFactory(tt.cfg, logger.NopLogger())
			require.NoError(t, err)

			client, err := factory()
			require.NoError(t, err)
			assert.IsType(t, tt.want, client)
		})
	}

	_, err := NewFactory(config.BrokerConfig{Type: "nats"}, logger.NopLogger())
	assert.Error(t, err)
}

func TestKafkaGroupSuffixStablePerFactory(t *testing.T) {
	factory, err := NewFactory(config.BrokerConfig{
		Name:  "k",
		Type:  "kafka",
		Kafka: config.KafkaConfig{ConsumerGroup: "relay"},
	}, logger.NopLogger())
	require.NoError(t, err)

	a, _ := factory()
	b, _ := factory()
	assert.Equal(t, a.(*KafkaClient).groupID, b.(*KafkaClient).groupID)
	assert.Contains(t, a.(*KafkaClient).groupID, "relay-")

	other, err := NewFactory(config.BrokerConfig{Name: "k", Type: "kafka", Kafka: config.KafkaConfig{ConsumerGroup: "relay"}}, logger.NopLogger())
	require.NoError(t, err)
	c, _ := other()
	assert.NotEqual(t, a.(*KafkaClient).groupID, c.(*KafkaClient).groupID)
}

func TestPollBeforeSubscribeIsSessionClosed(t *testing.T) {
	ctx := context.Background()
	for _, c := range []Client{
		NewKafkaClient(config.BrokerConfig{}, "g", logger.NopLogger()),
		NewRabbitMQClient(config.RabbitMQConfig{}, logger.NopLogger()),
		NewRedisClient(config.BrokerConfig{}, logger.NopLogger()),
	} {
		msg := c.Poll(ctx, time.Millisecond)
		assert.True(t, msg.HasError)
		assert.ErrorIs(t, msg.Err, ErrSessionClosed)
		assert.NoError(t, c.Close())
	}
}

func TestRabbitMQConnectHonoursContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept and stay silent so the AMQP handshake never completes.
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	client := NewRabbitMQClient(config.RabbitMQConfig{
		Host:         "127.0.0.1",
		Port:         addr.Port,
		User:         "guest",
		Password:     "guest",
		VHost:        "/",
		Exchange:     "realtime",
		ExchangeType: "topic",
	}, logger.NopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = client.Connect(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestContextDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dial, release := contextDial(ctx, time.Second)
	defer release()

	_, err := dial("tcp", "127.0.0.1:1")
	assert.Error(t, err)
}
