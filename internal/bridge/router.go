package bridge

import (
	"encoding/json"
	"strings"
	"time"

	"relay/internal/broker"
	"relay/internal/constants"
	apperrors "relay/pkg/errors"
)

var emptyObject = json.RawMessage(`{}`)

// Route is a broker record resolved to its realtime destination.
type Route struct {
	Topic   string
	Channel string
	Event   string
	// Key is the record key when it differs from the channel.
	Key        string
	Data       json.RawMessage
	Headers    map[string]string
	ReceivedAt time.Time
}

// Router maps topics to channels. Topics named "<prefix>_<rest>" or
// "<prefix>.<rest>" route to <rest>; dots become colons in every channel.
type Router struct {
	prefix string
	clock  func() time.Time
}

func NewRouter(prefix string) Router {
	return Router{prefix: prefix, clock: time.Now}
}

// Channel derives the channel for a topic without looking at any payload.
func (r Router) Channel(topic string) string {
	rest := topic
	if r.prefix != "" {
		if trimmed, ok := broker.TrimTopicPrefix(topic, r.prefix); ok {
			rest = trimmed
		}
	}
	return strings.ReplaceAll(rest, ".", ":")
}

// Route decodes the payload and resolves channel, event and data. A payload
// that is not a JSON object fails with ErrMalformedPayload.
func (r Router) Route(msg broker.Message) (Route, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &fields); err != nil {
		return Route{}, apperrors.ErrMalformedPayload.WithCause(err).WithDetail("topic", msg.Topic)
	}
	if fields == nil {
		return Route{}, apperrors.ErrMalformedPayload.WithDetail("topic", msg.Topic)
	}

	route := Route{
		Topic:      msg.Topic,
		Channel:    r.Channel(msg.Topic),
		Event:      constants.DefaultEvent,
		Data:       emptyObject,
		Headers:    msg.Headers,
		ReceivedAt: msg.ReceivedAt,
	}
	if route.ReceivedAt.IsZero() {
		route.ReceivedAt = r.clock()
	}

	if channel := stringField(fields, "channel"); channel != "" {
		route.Channel = channel
	}
	if event := stringField(fields, "event"); event != "" {
		route.Event = event
	}
	if data, ok := fields["data"]; ok && !isNull(data) {
		route.Data = data
	}

	key := stringField(fields, "key")
	if key == "" {
		key = msg.RoutingKey
	}
	if key != route.Channel {
		route.Key = key
	}

	return route, nil
}

// stringField returns fields[name] when it is a JSON string; other kinds are
// ignored so a numeric "channel" falls back to the derived one.
func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
