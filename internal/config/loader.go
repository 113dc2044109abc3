package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"relay/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)
	ApplyDefaults(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", "10s")
	v.SetDefault("server.write_timeout_seconds", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("bridge.queue_size", constants.DefaultQueueSize)
	v.SetDefault("tracing.service_name", constants.ServiceName)
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	v.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	v.BindEnv("logging.level", "LOGGING_LEVEL")
	v.BindEnv("logging.format", "LOGGING_FORMAT")

	v.BindEnv("bridge.queue_size", "BRIDGE_QUEUE_SIZE")

	v.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	v.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

// applyEnvOverrides handles settings that live inside the broker list, which
// viper cannot bind by key.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BRIDGE_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := splitList(brokersEnv)
		if len(brokers) > 0 {
			for i := range cfg.Bridge.Brokers {
				if cfg.Bridge.Brokers[i].Kind() == KindKafka {
					cfg.Bridge.Brokers[i].Kafka.Brokers = brokers
				}
			}
		}
	}

	if host := v.GetString("BRIDGE_RABBITMQ_HOST"); host != "" {
		for i := range cfg.Bridge.Brokers {
			if cfg.Bridge.Brokers[i].Kind() == KindRabbitMQ {
				cfg.Bridge.Brokers[i].RabbitMQ.Host = host
			}
		}
	}

	if host := v.GetString("BRIDGE_REDIS_HOST"); host != "" {
		for i := range cfg.Bridge.Brokers {
			if cfg.Bridge.Brokers[i].Kind() == KindRedis {
				cfg.Bridge.Brokers[i].Redis.Host = host
			}
		}
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ApplyDefaults fills every unset per-broker tuning knob.
func ApplyDefaults(cfg *Config) {
	if cfg.Bridge.QueueSize <= 0 {
		cfg.Bridge.QueueSize = constants.DefaultQueueSize
	}

	for i := range cfg.Bridge.Brokers {
		ApplyBrokerDefaults(&cfg.Bridge.Brokers[i])
	}
}

// ApplyBrokerDefaults fills the unset knobs of a single broker entry.
func ApplyBrokerDefaults(b *BrokerConfig) {
	if b.Name == "" {
		b.Name = b.Kind().String()
	}
	if b.PollTimeoutMs <= 0 {
		b.PollTimeoutMs = int(constants.DefaultPollTimeout.Milliseconds())
	}
	if b.BatchSize <= 0 {
		b.BatchSize = constants.DefaultBatchSize
	}
	if b.FlushIntervalMs <= 0 {
		b.FlushIntervalMs = int(constants.DefaultFlushInterval.Milliseconds())
	}
	if b.ErrorThreshold <= 0 {
		b.ErrorThreshold = constants.DefaultErrorThreshold
	}
	if b.Backoff.BaseDelay <= 0 {
		b.Backoff.BaseDelay = constants.DefaultBaseDelay
	}
	if b.Backoff.MaxDelay <= 0 {
		b.Backoff.MaxDelay = constants.DefaultMaxDelay
	}

	switch b.Kind() {
	case KindKafka:
		if b.Kafka.ConsumerGroup == "" {
			b.Kafka.ConsumerGroup = constants.DefaultConsumerGroup
		}
	case KindRabbitMQ:
		if b.RabbitMQ.Port == 0 {
			b.RabbitMQ.Port = 5672
		}
		if b.RabbitMQ.User == "" {
			b.RabbitMQ.User = "guest"
			b.RabbitMQ.Password = "guest"
		}
		if b.RabbitMQ.VHost == "" {
			b.RabbitMQ.VHost = "/"
		}
		if b.RabbitMQ.ExchangeType == "" {
			b.RabbitMQ.ExchangeType = constants.DefaultExchangeType
		}
	case KindRedis:
		if b.Redis.Port == 0 {
			b.Redis.Port = 6379
		}
	}
}
