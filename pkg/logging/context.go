package logging

import (
	"context"
)

const (
	TraceIDKey     = "trace_id"
	BrokerKey      = "broker"
	TopicKey       = "topic"
	ServiceNameKey = "service_name"
)

type ctxKey string

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

func WithBroker(ctx context.Context, broker string) context.Context {
	return context.WithValue(ctx, ctxKey(BrokerKey), broker)
}

func WithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, ctxKey(TopicKey), topic)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ctxKey(ServiceNameKey), serviceName)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetBroker(ctx context.Context) string {
	return stringValue(ctx, BrokerKey)
}

func GetTopic(ctx context.Context) string {
	return stringValue(ctx, TopicKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func stringValue(ctx context.Context, key string) string {
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

// GetLogFields returns the context values as zap-style key/value pairs, in a fixed order.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	for _, key := range []string{TraceIDKey, BrokerKey, TopicKey, ServiceNameKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
