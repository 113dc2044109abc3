package broker

import (
	"context"
	"errors"
	"strings"
	"time"
)

// PrefixSeparators may follow a topic prefix. A topic only belongs to the
// prefix when one of them comes next and something follows it.
var PrefixSeparators = []string{"_", "."}

// TrimTopicPrefix returns the part of topic after prefix and a separator.
func TrimTopicPrefix(topic, prefix string) (string, bool) {
	for _, sep := range PrefixSeparators {
		if rest, ok := strings.CutPrefix(topic, prefix+sep); ok && rest != "" {
			return rest, true
		}
	}
	return "", false
}

// ErrSessionClosed reports that the broker ended the consuming session; the
// caller must reconnect.
var ErrSessionClosed = errors.New("broker session closed")

// Message is the normalized envelope every client produces, whether it carries
// a record or only a poll signal.
type Message struct {
	Topic      string
	RoutingKey string
	Payload    []byte
	Headers    map[string]string
	ReceivedAt time.Time

	HasError  bool
	IsEOF     bool
	IsTimeout bool
	Err       error
}

// Idle reports a poll that returned no record and no fault.
func (m Message) Idle() bool {
	return m.IsEOF || m.IsTimeout
}

func Timeout() Message {
	return Message{IsTimeout: true}
}

func EOF(topic string) Message {
	return Message{Topic: topic, IsEOF: true}
}

func Failure(err error) Message {
	return Message{HasError: true, Err: err}
}

// Client is one broker session. Implementations are not safe for concurrent
// use; a subscription task owns its client exclusively.
type Client interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topics []string) error
	// Poll waits at most timeout for the next record. It never blocks past ctx.
	Poll(ctx context.Context, timeout time.Duration) Message
	Close() error
}

// Factory builds a fresh, unconnected client for every connection attempt.
type Factory func() (Client, error)
