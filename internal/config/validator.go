package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBridge(cfg.Bridge); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst <= 0) {
		return &ValidationError{
			Field:   "server.rate_limit",
			Message: "rps and burst must be positive when rate limiting is enabled",
		}
	}

	return nil
}

func validateBridge(cfg BridgeConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "bridge.brokers",
			Message: "at least one broker subscription is required",
		}
	}

	seen := make(map[string]bool, len(cfg.Brokers))
	for i, b := range cfg.Brokers {
		field := fmt.Sprintf("bridge.brokers[%d]", i)

		if seen[b.Name] {
			return &ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate broker name: %s", b.Name),
			}
		}
		seen[b.Name] = true

		if err := validateBroker(field, b); err != nil {
			return err
		}
	}

	return nil
}

func validateBroker(field string, cfg BrokerConfig) error {
	kind, err := ParseKind(cfg.Type)
	if err != nil {
		return &ValidationError{
			Field:   field + ".type",
			Message: fmt.Sprintf("%v (supported: kafka, rabbitmq, redis)", err),
		}
	}

	if cfg.Backoff.MaxDelay < cfg.Backoff.BaseDelay {
		return &ValidationError{
			Field:   field + ".backoff.max_delay",
			Message: "max_delay must be greater than or equal to base_delay",
		}
	}

	switch kind {
	case KindKafka:
		return validateKafka(field, cfg)
	case KindRabbitMQ:
		return validateRabbitMQ(field, cfg.RabbitMQ)
	case KindRedis:
		return validateRedis(field, cfg.Redis)
	}

	return nil
}

func validateKafka(field string, cfg BrokerConfig) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   field + ".kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Kafka.Brokers {
		if strings.TrimSpace(broker) == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("%s.kafka.brokers[%d]", field, i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if len(cfg.Topics) == 0 && cfg.DefaultTopic == "" && cfg.TopicPrefix == "" {
		return &ValidationError{
			Field:   field + ".topics",
			Message: "one of topics, default_topic or topic_prefix is required",
		}
	}

	return nil
}

func validateRabbitMQ(field string, cfg RabbitMQConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   field + ".rabbitmq.host",
			Message: "RabbitMQ host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   field + ".rabbitmq.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.Exchange == "" {
		return &ValidationError{
			Field:   field + ".rabbitmq.exchange",
			Message: "RabbitMQ exchange is required",
		}
	}

	validTypes := map[string]bool{"topic": true, "fanout": true, "direct": true, "headers": true}
	if !validTypes[cfg.ExchangeType] {
		return &ValidationError{
			Field:   field + ".rabbitmq.exchange_type",
			Message: fmt.Sprintf("invalid exchange type: %s (valid: topic, fanout, direct, headers)", cfg.ExchangeType),
		}
	}

	return nil
}

func validateRedis(field string, cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   field + ".redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   field + ".redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}
