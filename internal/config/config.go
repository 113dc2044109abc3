package config

import (
	"time"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port                int             `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration   `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration   `mapstructure:"write_timeout_seconds"`
	AllowedOrigins      []string        `mapstructure:"allowed_origins"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BridgeConfig struct {
	// QueueSize bounds the number of batches waiting for the message handler per broker.
	QueueSize int            `mapstructure:"queue_size"`
	Brokers   []BrokerConfig `mapstructure:"brokers"`
}

// BrokerConfig describes one subscription task.
type BrokerConfig struct {
	Name            string         `mapstructure:"name"`
	Type            string         `mapstructure:"type"`
	TopicPrefix     string         `mapstructure:"topic_prefix"`
	DefaultTopic    string         `mapstructure:"default_topic"`
	Topics          []string       `mapstructure:"topics"`
	PollTimeoutMs   int            `mapstructure:"poll_timeout_ms"`
	BatchSize       int            `mapstructure:"batch_size"`
	FlushIntervalMs int            `mapstructure:"flush_interval_ms"`
	ErrorThreshold  int            `mapstructure:"error_threshold"`
	Filter          string         `mapstructure:"filter"`
	Backoff         BackoffConfig  `mapstructure:"backoff"`
	Kafka           KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ        RabbitMQConfig `mapstructure:"rabbitmq"`
	Redis           RedisConfig    `mapstructure:"redis"`
}

type BackoffConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type RabbitMQConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	VHost        string `mapstructure:"vhost"`
	Exchange     string `mapstructure:"exchange"`
	ExchangeType string `mapstructure:"exchange_type"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func (b BrokerConfig) PollTimeout() time.Duration {
	return time.Duration(b.PollTimeoutMs) * time.Millisecond
}

func (b BrokerConfig) FlushInterval() time.Duration {
	return time.Duration(b.FlushIntervalMs) * time.Millisecond
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
