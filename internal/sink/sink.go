// Package sink delivers parsed documents to their storage backend.
package sink

import (
	"context"
	"errors"
	"fmt"

	"logpipe/pkg/models"
)

// Kind splits sink failures into the two classes the consumer cares
// about: Transient failures are retried without advancing the offset,
// Rejected documents are logged and dropped.
type Kind string

const (
	Transient Kind = "transient"
	Rejected  Kind = "rejected"
)

type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink write failed (%s): %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func NewTransient(cause error) *Error {
	return &Error{Kind: Transient, cause: cause}
}

func NewRejected(cause error) *Error {
	return &Error{Kind: Rejected, cause: cause}
}

// IsTransient reports whether err should be retried against the backend.
func IsTransient(err error) bool {
	var sinkErr *Error
	return errors.As(err, &sinkErr) && sinkErr.Kind == Transient
}

// Sink writes one document per call. Implementations own a single
// long-lived connection to their backend and are safe for use from the
// consumer's single processing goroutine.
type Sink interface {
	Write(ctx context.Context, doc models.Document) error
	Ping(ctx context.Context) error
	Close() error
}
