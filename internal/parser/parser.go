// Package parser normalizes decrypted log payloads into structured
// documents, one grammar per Kafka topic.
package parser

import (
	"errors"
	"fmt"

	"logpipe/internal/constants"
	"logpipe/pkg/models"
)

// ErrIgnored marks records that are valid but intentionally dropped, like
// the duplicated task-queue log lines that carry no task id. The consumer
// advances past them without counting a parse failure.
var ErrIgnored = errors.New("record ignored")

// ParseError carries the offending raw input so the consumer can log it
// for diagnosis. It never escalates beyond skipping the message.
type ParseError struct {
	DocType models.DocType
	Raw     []byte
	cause   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s record: %v", e.DocType, e.cause)
}

func (e *ParseError) Unwrap() error {
	return e.cause
}

func newParseError(docType models.DocType, raw []byte, cause error) *ParseError {
	return &ParseError{DocType: docType, Raw: raw, cause: cause}
}

// Parser turns the decrypted plaintext of one Kafka message into a
// Document tagged with its DocType.
type Parser interface {
	Parse(plaintext []byte) (models.Document, error)
	DocType() models.DocType
}

// ForTopic selects the grammar bound to a topic. Reserved topics (ntp,
// other) have no grammar yet.
func ForTopic(topic string) (Parser, error) {
	switch topic {
	case constants.TopicWeb:
		return NewWebParser(), nil
	case constants.TopicWorker:
		return NewWorkerParser(), nil
	case constants.TopicDNS:
		return NewDNSParser(), nil
	case constants.TopicFirewall:
		return NewFirewallParser(), nil
	default:
		return nil, fmt.Errorf("no parser for topic %q", topic)
	}
}
