package constants

import "time"

const (
	ServiceName = "relay-server"
)

const (
	DefaultPollTimeout    = 100 * time.Millisecond
	DefaultBatchSize      = 100
	DefaultFlushInterval  = 50 * time.Millisecond
	DefaultErrorThreshold = 10
	DefaultQueueSize      = 256
)

const (
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

const (
	DefaultEvent         = "message"
	DefaultConsumerGroup = "relay"
	DefaultExchangeType  = "topic"
	WildcardBindingKey   = "#"
)

const (
	KafkaCommitInterval = 1 * time.Second
	KafkaDialTimeout    = 10 * time.Second
	AMQPHeartbeat       = 10 * time.Second
	AMQPDialTimeout     = 30 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)
