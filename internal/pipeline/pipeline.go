// Package pipeline composes the per-message processing chain: decode the
// envelope, decrypt, parse, write to the bound backend.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"logpipe/internal/cipher"
	"logpipe/internal/logger"
	"logpipe/internal/parser"
	"logpipe/internal/sink"
	"logpipe/pkg/logging"
	"logpipe/pkg/metrics"
	"logpipe/pkg/models"
)

// rawSample bounds how much of a bad input makes it into the logs.
// Enough to diagnose the grammar mismatch, not enough to dump payloads.
const rawSample = 256

// Handler implements broker.HandlerFunc for one topic binding. Per the
// offset contract it returns an error only for transient sink failures;
// every per-message failure mode is logged and swallowed here so the
// offset advances past poison messages.
type Handler struct {
	topic   string
	backend string
	codec   *cipher.Codec
	parser  parser.Parser
	sink    sink.Sink
	logger  logger.Logger
}

func NewHandler(topic, backend string, codec *cipher.Codec, p parser.Parser, s sink.Sink, log logger.Logger) *Handler {
	return &Handler{
		topic:   topic,
		backend: backend,
		codec:   codec,
		parser:  p,
		sink:    s,
		logger:  log,
	}
}

func (h *Handler) Handle(ctx context.Context, value []byte) error {
	var env models.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		h.poison(ctx, "malformed_envelope", err, value)
		return nil
	}

	plaintext, err := h.codec.Decrypt(env)
	if err != nil {
		var decErr *cipher.DecryptError
		reason := "decrypt_error"
		if errors.As(err, &decErr) {
			reason = string(decErr.Reason)
		}
		// Ciphertext only; nothing sensitive to sample here.
		h.poison(ctx, reason, err, nil)
		return nil
	}

	doc, err := h.parser.Parse(plaintext)
	if err != nil {
		if errors.Is(err, parser.ErrIgnored) {
			metrics.MessagesConsumedTotal.WithLabelValues(h.topic, "ignored").Inc()
			return nil
		}
		var parseErr *parser.ParseError
		if errors.As(err, &parseErr) {
			h.poison(ctx, "parse_error", err, parseErr.Raw)
			return nil
		}
		h.poison(ctx, "parse_error", err, plaintext)
		return nil
	}

	docCtx := logging.WithDocType(ctx, string(doc.Type))

	start := time.Now()
	err = h.sink.Write(ctx, doc)
	metrics.SinkWriteDuration.WithLabelValues(h.backend).Observe(float64(time.Since(start).Milliseconds()))

	switch {
	case err == nil:
		metrics.MessagesConsumedTotal.WithLabelValues(h.topic, "processed").Inc()
		metrics.SinkWritesTotal.WithLabelValues(h.backend, "ok").Inc()
		return nil
	case sink.IsTransient(err):
		// Backpressure: the caller retries and the offset stays put.
		metrics.SinkWritesTotal.WithLabelValues(h.backend, "transient").Inc()
		return err
	default:
		// The backend refused the document; retrying a schema
		// mismatch forever would wedge the topic.
		metrics.SinkWritesTotal.WithLabelValues(h.backend, "rejected").Inc()
		metrics.PoisonMessagesTotal.WithLabelValues(h.topic, "rejected").Inc()
		h.logger.ErrorwCtx(docCtx, "Backend rejected document, dropping it", "error", err)
		return nil
	}
}

func (h *Handler) poison(ctx context.Context, reason string, err error, raw []byte) {
	metrics.MessagesConsumedTotal.WithLabelValues(h.topic, "poison").Inc()
	metrics.PoisonMessagesTotal.WithLabelValues(h.topic, reason).Inc()

	fields := []interface{}{"reason", reason, "error", err}
	if len(raw) > 0 {
		sample := raw
		if len(sample) > rawSample {
			sample = sample[:rawSample]
		}
		fields = append(fields, "raw", string(sample))
	}
	h.logger.ErrorwCtx(ctx, "Skipping poison message", fields...)
}
