package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/broker"
	apperrors "relay/pkg/errors"
)

func TestRouterChannel(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		topic  string
		want   string
	}{
		{name: "underscore prefix", prefix: "realtime", topic: "realtime_orders", want: "orders"},
		{name: "dot prefix", prefix: "realtime", topic: "realtime.orders.created", want: "orders:created"},
		{name: "no prefix match", prefix: "realtime", topic: "audit.log", want: "audit:log"},
		{name: "empty prefix", prefix: "", topic: "users.42", want: "users:42"},
		{name: "prefix only", prefix: "realtime", topic: "realtime_", want: "realtime_"},
		{name: "prefix substring", prefix: "realtime", topic: "realtimeorders", want: "realtimeorders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewRouter(tt.prefix).Channel(tt.topic))
		})
	}
}

func TestRouterRoute(t *testing.T) {
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	router := NewRouter("realtime")

	tests := []struct {
		name        string
		msg         broker.Message
		wantChannel string
		wantEvent   string
		wantData    string
		wantKey     string
	}{
		{
			name:        "derived channel with defaults",
			msg:         broker.Message{Topic: "realtime_orders", Payload: []byte(`{"id":1}`)},
			wantChannel: "orders",
			wantEvent:   "message",
			wantData:    `{}`,
		},
		{
			name:        "payload overrides",
			msg:         broker.Message{Topic: "realtime_orders", Payload: []byte(`{"channel":"vip","event":"created","data":{"id":7}}`)},
			wantChannel: "vip",
			wantEvent:   "created",
			wantData:    `{"id":7}`,
		},
		{
			name:        "empty channel ignored",
			msg:         broker.Message{Topic: "realtime.users.online", Payload: []byte(`{"channel":"","data":[1,2]}`)},
			wantChannel: "users:online",
			wantEvent:   "message",
			wantData:    `[1,2]`,
		},
		{
			name:        "non-string channel ignored",
			msg:         broker.Message{Topic: "realtime_orders", Payload: []byte(`{"channel":42,"data":null}`)},
			wantChannel: "orders",
			wantEvent:   "message",
			wantData:    `{}`,
		},
		{
			name:        "routing key kept",
			msg:         broker.Message{Topic: "events", RoutingKey: "user-9", Payload: []byte(`{}`)},
			wantChannel: "events",
			wantEvent:   "message",
			wantData:    `{}`,
			wantKey:     "user-9",
		},
		{
			name:        "payload key wins",
			msg:         broker.Message{Topic: "events", RoutingKey: "user-9", Payload: []byte(`{"key":"user-1"}`)},
			wantChannel: "events",
			wantEvent:   "message",
			wantData:    `{}`,
			wantKey:     "user-1",
		},
		{
			name:        "key equal to channel dropped",
			msg:         broker.Message{Topic: "orders.eu", RoutingKey: "orders.eu", Payload: []byte(`{"channel":"orders.eu"}`)},
			wantChannel: "orders.eu",
			wantEvent:   "message",
			wantData:    `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.ReceivedAt = received
			route, err := router.Route(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantChannel, route.Channel)
			assert.Equal(t, tt.wantEvent, route.Event)
			assert.JSONEq(t, tt.wantData, string(route.Data))
			assert.Equal(t, tt.wantKey, route.Key)
			assert.Equal(t, tt.msg.Topic, route.Topic)
			assert.Equal(t, received, route.ReceivedAt)
		})
	}
}

func TestRouterRouteMalformed(t *testing.T) {
	router := NewRouter("")

	for _, payload := range []string{`not json`, `[1,2,3]`, `"text"`, `null`, ``} {
		t.Run(payload, func(t *testing.T) {
			_, err := router.Route(broker.Message{Topic: "t", Payload: []byte(payload)})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrMalformedPayload)
			assert.True(t, apperrors.IsMalformed(err))
		})
	}
}

func TestRouterStampsMissingReceiveTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	router := NewRouter("")
	router.clock = func() time.Time { return now }

	route, err := router.Route(broker.Message{Topic: "t", Payload: []byte(`{"data":{"a":1}}`)})
	require.NoError(t, err)
	assert.Equal(t, now, route.ReceivedAt)
	assert.Equal(t, json.RawMessage(`{"a":1}`), route.Data)
}
