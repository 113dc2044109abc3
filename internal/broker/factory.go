package broker

import (
	"fmt"

	"github.com/google/uuid"

	"relay/internal/config"
	"relay/internal/logger"
)

// NewFactory returns a constructor of fresh clients for cfg. The Kafka
// consumer group suffix is fixed for the life of the factory, so a reconnect
// resumes from the group's committed offsets while every bridge process still
// receives every partition.
func NewFactory(cfg config.BrokerConfig, log logger.Logger) (Factory, error) {
	log = log.With("broker", cfg.Name)

	switch cfg.Kind() {
	case config.KindKafka:
		groupID := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, uuid.NewString())
		return func() (Client, error) {
			return NewKafkaClient(cfg, groupID, log), nil
		}, nil
	case config.KindRabbitMQ:
		return func() (Client, error) {
			return NewRabbitMQClient(cfg.RabbitMQ, log), nil
		}, nil
	case config.KindRedis:
		return func() (Client, error) {
			return NewRedisClient(cfg, log), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
