package broker

import (
	"context"
	"fmt"

	"logpipe/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, env models.Envelope) error
	Close() error
}

type Consumer interface {
	// Run consumes until ctx is canceled. It never returns under normal
	// operation.
	Run(ctx context.Context, handler HandlerFunc) error
	Close() error
}

// HandlerFunc processes one raw Kafka message value. A nil return commits
// the offset; poison messages (undecryptable, unparseable, rejected by
// the backend) are the handler's job to log and swallow, so they also
// advance. A non-nil return means the work must be retried before the
// offset may move, which is how transient sink failures backpressure the
// topic.
type HandlerFunc func(ctx context.Context, value []byte) error

// PublishError wraps a broker-side publish failure after retries were
// exhausted; the caller decides whether losing the record is acceptable.
type PublishError struct {
	Topic string
	cause error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Topic, e.cause)
}

func (e *PublishError) Unwrap() error {
	return e.cause
}

func NewPublishError(topic string, cause error) *PublishError {
	return &PublishError{Topic: topic, cause: cause}
}
