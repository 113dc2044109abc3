package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"relay/internal/broker"
	"relay/internal/logger"
	apperrors "relay/pkg/errors"
	"relay/pkg/metrics"
	"relay/pkg/retry"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusSubscribed
	StatusConsuming
	StatusBackoff
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusSubscribed:
		return "subscribed"
	case StatusConsuming:
		return "consuming"
	case StatusBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionState is a snapshot of one subscription's connection lifecycle.
type ConnectionState struct {
	Status              Status        `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CurrentDelay        time.Duration `json:"current_delay"`
	LastError           string        `json:"last_error,omitempty"`
}

// ConsumeFunc runs the consume loop on a connected, subscribed client. It
// returns when the client should be abandoned and a new one dialed.
type ConsumeFunc func(ctx context.Context, client broker.Client) error

type SupervisorOption func(*Supervisor)

// WithWait replaces the backoff sleep. wait reports false when ctx ended
// first.
func WithWait(wait func(ctx context.Context, d time.Duration) bool) SupervisorOption {
	return func(s *Supervisor) {
		s.wait = wait
	}
}

// Supervisor keeps one broker session alive: it dials, subscribes, runs the
// consume loop and, whenever any of those fails, waits out an exponential
// delay before starting over. Delays reset after every successful connect.
type Supervisor struct {
	name      string
	factory   broker.Factory
	topics    []string
	baseDelay time.Duration
	backoff   *backoff.ExponentialBackOff
	metrics   *metrics.Collector
	logger    logger.Logger
	wait      func(ctx context.Context, d time.Duration) bool

	mu            sync.RWMutex
	state         ConnectionState
	everConnected bool
}

func NewSupervisor(name string, factory broker.Factory, topics []string, baseDelay, maxDelay time.Duration, collector *metrics.Collector, log logger.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		name:      name,
		factory:   factory,
		topics:    topics,
		baseDelay: baseDelay,
		backoff:   retry.ReconnectBackoff(baseDelay, maxDelay),
		metrics:   collector,
		logger:    log,
		wait:      sleepContext,
		state: ConnectionState{
			Status:       StatusDisconnected,
			CurrentDelay: baseDelay,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run loops until ctx is done. Every error is absorbed here; none escapes.
func (s *Supervisor) Run(ctx context.Context, consume ConsumeFunc) {
	defer s.setStatus(StatusDisconnected)

	for ctx.Err() == nil {
		s.setStatus(StatusConnecting)

		client, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.RecordConnection(s.name, metrics.EventFailure)
			s.metrics.RecordError(metrics.ErrorConnect)
			if !s.backOff(ctx, err) {
				return
			}
			continue
		}

		s.connected()
		s.setStatus(StatusConsuming)

		err = s.consume(ctx, client, consume)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = broker.ErrSessionClosed
		}
		if !s.backOff(ctx, err) {
			return
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) (broker.Client, error) {
	client, err := s.factory()
	if err != nil {
		return nil, apperrors.ErrConnect.WithCause(err)
	}

	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, apperrors.ErrConnect.WithCause(err)
	}

	if err := client.Subscribe(ctx, s.topics); err != nil {
		_ = client.Close()
		return nil, apperrors.ErrSubscribe.WithCause(err)
	}

	return client, nil
}

func (s *Supervisor) connected() {
	s.backoff.Reset()

	s.mu.Lock()
	event := metrics.EventConnect
	if s.everConnected {
		event = metrics.EventReconnect
	}
	s.everConnected = true
	s.state.ConsecutiveFailures = 0
	s.state.CurrentDelay = s.baseDelay
	s.state.LastError = ""
	s.state.Status = StatusSubscribed
	s.mu.Unlock()

	s.metrics.RecordConnection(s.name, event)
	s.logger.Infow("Broker subscription established",
		"broker", s.name,
		"event", event,
		"topics", s.topics,
	)
}

// consume runs fn and always closes the client afterwards. A panic in the
// loop is converted into an error so the supervisor reconnects.
func (s *Supervisor) consume(ctx context.Context, client broker.Client, fn ConsumeFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
		if closeErr := client.Close(); closeErr != nil {
			s.logger.Warnw("Failed to close broker client",
				"broker", s.name,
				"error", closeErr,
			)
		}
		s.metrics.RecordConnection(s.name, metrics.EventDisconnect)
	}()

	return fn(ctx, client)
}

// backOff records the failure and sleeps for the next delay. It reports false
// if ctx ended while waiting.
func (s *Supervisor) backOff(ctx context.Context, cause error) bool {
	delay := s.backoff.NextBackOff()

	s.mu.Lock()
	s.state.ConsecutiveFailures++
	s.state.CurrentDelay = delay
	s.state.LastError = cause.Error()
	s.state.Status = StatusBackoff
	failures := s.state.ConsecutiveFailures
	s.mu.Unlock()

	s.logger.Warnw("Broker session failed, backing off",
		"broker", s.name,
		"consecutive_failures", failures,
		"delay", delay,
		"error", cause,
	)

	return s.wait(ctx, delay)
}

func (s *Supervisor) setStatus(status Status) {
	s.mu.Lock()
	s.state.Status = status
	s.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
