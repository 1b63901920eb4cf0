package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"logpipe/internal/config"
	"logpipe/internal/constants"
	"logpipe/internal/logger"
	pkgerrors "logpipe/pkg/errors"
	"logpipe/pkg/logging"
	"logpipe/pkg/metrics"
	"logpipe/pkg/models"
	"logpipe/pkg/retry"
)

// writeGrace bounds how long an in-flight write or a final commit may run
// once shutdown has been requested.
const writeGrace = 30 * time.Second

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, env models.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Key:   []byte(uuid.NewString()),
			Value: body,
			Time:  time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// messageReader is the slice of kafka.Reader the consumer needs; tests
// substitute a scripted fake.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer pulls one topic in commit-after-process order. Message
// processing is single-threaded per reader, which preserves the offset
// ordering guarantee within a partition.
type KafkaConsumer struct {
	topic  string
	reader messageReader
	policy retry.Policy
	logger logger.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, retryCfg config.RetryConfig, log logger.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumerWithReader(cfg.Topic, reader, retryCfg, log)
}

func newConsumerWithReader(topic string, reader messageReader, retryCfg config.RetryConfig, log logger.Logger) *KafkaConsumer {
	// Sink backpressure retries forever; only the backoff schedule is
	// configurable.
	policy := retry.ForeverPolicy()
	if retryCfg.InitialInterval > 0 {
		policy.InitialInterval = retryCfg.InitialInterval
	}
	if retryCfg.MaxInterval > 0 {
		policy.MaxInterval = retryCfg.MaxInterval
	}
	if retryCfg.Multiplier > 0 {
		policy.Multiplier = retryCfg.Multiplier
	}

	return &KafkaConsumer{
		topic:  topic,
		reader: reader,
		policy: policy,
		logger: log,
	}
}

func (c *KafkaConsumer) Run(ctx context.Context, handler HandlerFunc) error {
	runCtx := logging.WithTopic(ctx, c.topic)
	c.logger.InfowCtx(runCtx, "Started consuming")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(runCtx, "Stopped consuming", "reason", "shutdown requested")
				return nil
			}
			c.logger.ErrorwCtx(runCtx, "Error fetching kafka message", "error", err)
			time.Sleep(time.Second)
			continue
		}

		msgCtx := logging.WithMessage(runCtx, m.Partition, m.Offset)

		if err := c.processWithRetry(msgCtx, handler, m.Value); err != nil {
			// Only cancellation mid-retry lands here. The offset is
			// not committed; the message is reprocessed on restart.
			c.logger.WarnwCtx(msgCtx, "Shutdown during processing, offset not committed", "error", err)
			return nil
		}

		// The commit must survive cancellation so a message whose
		// write finished during shutdown is not replayed.
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeGrace)
		err = c.reader.CommitMessages(commitCtx, m)
		cancel()
		if err != nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to commit offset", "error", err)
		}

		if ctx.Err() != nil {
			c.logger.InfowCtx(runCtx, "Stopped consuming", "reason", "shutdown requested")
			return nil
		}
	}
}

// processWithRetry drives one message to a terminal state: handled (commit),
// poisoned by a panic (commit), or abandoned because shutdown interrupted
// the retry loop (no commit). Each attempt runs detached from the parent
// context so an in-flight write can finish during shutdown; the backoff
// loop itself stops as soon as the parent is canceled.
func (c *KafkaConsumer) processWithRetry(ctx context.Context, handler HandlerFunc, value []byte) error {
	return retry.RetryWithCallback(ctx, c.policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.ErrorwCtx(ctx, "Panic while processing message, skipping it",
					"error", pkgerrors.RecoverPanic(r),
				)
				metrics.PoisonMessagesTotal.WithLabelValues(c.topic, "panic").Inc()
				err = nil
			}
		}()
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeGrace)
		defer cancel()
		return handler(attemptCtx, value)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.SinkRetriesTotal.WithLabelValues(c.topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
