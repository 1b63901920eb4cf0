package logging

import (
	"context"
)

type contextKey string

const (
	topicKey       contextKey = "topic"
	partitionKey   contextKey = "partition"
	offsetKey      contextKey = "offset"
	docTypeKey     contextKey = "doc_type"
	sourceKey      contextKey = "source"
	serviceNameKey contextKey = "service_name"
)

func WithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, topicKey, topic)
}

// WithMessage records the partition and offset of the message being processed.
func WithMessage(ctx context.Context, partition int, offset int64) context.Context {
	ctx = context.WithValue(ctx, partitionKey, partition)
	return context.WithValue(ctx, offsetKey, offset)
}

func WithDocType(ctx context.Context, docType string) context.Context {
	return context.WithValue(ctx, docTypeKey, docType)
}

func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, serviceNameKey, serviceName)
}

func GetTopic(ctx context.Context) string {
	if topic, ok := ctx.Value(topicKey).(string); ok {
		return topic
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(serviceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

// GetLogFields flattens the context metadata into zap key/value pairs.
// Decrypted payload contents are never placed in the context, so nothing
// sensitive can leak through here.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 12)

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	if topic := GetTopic(ctx); topic != "" {
		fields = append(fields, "topic", topic)
	}

	if partition, ok := ctx.Value(partitionKey).(int); ok {
		fields = append(fields, "partition", partition)
	}

	if offset, ok := ctx.Value(offsetKey).(int64); ok {
		fields = append(fields, "offset", offset)
	}

	if docType, ok := ctx.Value(docTypeKey).(string); ok && docType != "" {
		fields = append(fields, "doc_type", docType)
	}

	if source, ok := ctx.Value(sourceKey).(string); ok && source != "" {
		fields = append(fields, "source", source)
	}

	return fields
}
