package bridge

import (
	"fmt"
	"sort"

	"relay/internal/config"
	apperrors "relay/pkg/errors"
)

type Constructor func(cfg config.BrokerConfig, deps Dependencies) (Strategy, error)

// Registry builds strategies by configured broker type.
type Registry struct {
	deps         Dependencies
	constructors map[config.Kind]Constructor
}

func NewRegistry(deps Dependencies) *Registry {
	return &Registry{
		deps: deps.withDefaults(),
		constructors: map[config.Kind]Constructor{
			config.KindKafka:    NewKafkaStrategy,
			config.KindRabbitMQ: NewRabbitMQStrategy,
			config.KindRedis:    NewRedisStrategy,
		},
	}
}

// Register replaces the constructor used for kind.
func (r *Registry) Register(kind config.Kind, ctor Constructor) {
	r.constructors[kind] = ctor
}

// Types lists every broker type name the registry accepts, aliases included.
func (r *Registry) Types() []string {
	var names []string
	for kind := range r.constructors {
		names = append(names, kind.Aliases()...)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Create(cfg config.BrokerConfig) (Strategy, error) {
	kind, err := config.ParseKind(cfg.Type)
	if err != nil {
		return nil, apperrors.ErrUnsupportedBroker.WithCause(err).WithDetail("type", cfg.Type)
	}

	ctor, ok := r.constructors[kind]
	if !ok {
		return nil, apperrors.ErrUnsupportedBroker.WithDetail("type", cfg.Type)
	}
	return ctor(cfg, r.deps)
}

// CreateAll builds one strategy per broker entry, failing on the first entry
// that cannot be built.
func (r *Registry) CreateAll(cfgs []config.BrokerConfig) ([]Strategy, error) {
	strategies := make([]Strategy, 0, len(cfgs))
	for i, cfg := range cfgs {
		s, err := r.Create(cfg)
		if err != nil {
			return nil, fmt.Errorf("bridge.brokers[%d] (%s): %w", i, cfg.Name, err)
		}
		strategies = append(strategies, s)
	}
	return strategies, nil
}
