package config

import (
	"fmt"
	"strings"
)

// Kind is the closed set of broker families the bridge can consume from.
type Kind int

const (
	KindUnknown Kind = iota
	KindKafka
	KindRabbitMQ
	KindRedis
)

var kindAliases = map[string]Kind{
	"kafka":          KindKafka,
	"kafka-improved": KindKafka,
	"redpanda":       KindKafka,
	"rabbitmq":       KindRabbitMQ,
	"rabbit":         KindRabbitMQ,
	"amqp":           KindRabbitMQ,
	"redis":          KindRedis,
	"redis-pubsub":   KindRedis,
}

func (k Kind) String() string {
	switch k {
	case KindKafka:
		return "kafka"
	case KindRabbitMQ:
		return "rabbitmq"
	case KindRedis:
		return "redis"
	default:
		return "unknown"
	}
}

// ParseKind resolves a configured broker type, including aliases, to its Kind.
func ParseKind(name string) (Kind, error) {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("unknown broker type: %q", name)
}

// Aliases returns every configured name that resolves to k.
func (k Kind) Aliases() []string {
	var names []string
	for name, kind := range kindAliases {
		if kind == k {
			names = append(names, name)
		}
	}
	return names
}

func (b BrokerConfig) Kind() Kind {
	k, _ := ParseKind(b.Type)
	return k
}
