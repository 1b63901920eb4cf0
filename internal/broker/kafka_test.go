package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"logpipe/internal/config"
	"logpipe/internal/logger"
)

// fakeReader feeds a scripted sequence of messages and records commits.
// Once the script is exhausted it cancels the run context, which is how a
// test ends a Run loop deterministically.
type fakeReader struct {
	cancel    context.CancelFunc
	msgs      []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func scriptedMessages(values ...string) []kafka.Message {
	msgs := make([]kafka.Message, 0, len(values))
	for i, v := range values {
		msgs = append(msgs, kafka.Message{
			Topic:     "web",
			Partition: 0,
			Offset:    int64(i),
			Value:     []byte(v),
		})
	}
	return msgs
}

func fastRetryCfg() config.RetryConfig {
	return config.RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
	}
}

func TestConsumerCommitsAfterProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: scriptedMessages("a", "b")}
	c := newConsumerWithReader("web", reader, fastRetryCfg(), logger.NopLogger())

	var handled []string
	err := c.Run(ctx, func(ctx context.Context, value []byte) error {
		handled = append(handled, string(value))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, handled)
	require.Len(t, reader.committed, 2)
	assert.Equal(t, int64(0), reader.committed[0].Offset)
	assert.Equal(t, int64(1), reader.committed[1].Offset)
}

func TestConsumerRetriesTransientFailureBeforeCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: scriptedMessages("a")}
	c := newConsumerWithReader("web", reader, fastRetryCfg(), logger.NopLogger())

	attempts := 0
	err := c.Run(ctx, func(ctx context.Context, value []byte) error {
		attempts++
		if attempts < 3 {
			return errors.New("backend unavailable")
		}
		return nil
	})
	require.NoError(t, err)

	// The offset must not move until the write finally succeeds.
	assert.Equal(t, 3, attempts)
	require.Len(t, reader.committed, 1)
	assert.Equal(t, int64(0), reader.committed[0].Offset)
}

func TestConsumerBackoffDelaysIncrease(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := &logger.SugaredLogger{SugaredLogger: zap.New(core).Sugar()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: scriptedMessages("a")}
	c := newConsumerWithReader("web", reader, config.RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2.0,
	}, log)

	attempts := 0
	err := c.Run(ctx, func(ctx context.Context, value []byte) error {
		attempts++
		if attempts < 4 {
			return errors.New("backend unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, reader.committed, 1)

	// Each retry log reports the upcoming delay; the schedule must grow
	// while the backend stays down.
	var delays []time.Duration
	for _, entry := range logs.FilterMessage("Retrying message processing").All() {
		d, ok := entry.ContextMap()["next_delay"].(time.Duration)
		require.True(t, ok, "next_delay field missing or not a duration")
		delays = append(delays, d)
	}
	require.Len(t, delays, 3)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
}

func TestConsumerSkipsPanickingMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: scriptedMessages("bad", "good")}
	c := newConsumerWithReader("web", reader, fastRetryCfg(), logger.NopLogger())

	var handled []string
	err := c.Run(ctx, func(ctx context.Context, value []byte) error {
		if string(value) == "bad" {
			panic("grammar exploded")
		}
		handled = append(handled, string(value))
		return nil
	})
	require.NoError(t, err)

	// The panicking message is committed like any other poison message so
	// it cannot wedge the partition.
	assert.Equal(t, []string{"good"}, handled)
	require.Len(t, reader.committed, 2)
}

func TestConsumerShutdownDuringRetryDoesNotCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: func() {}, msgs: scriptedMessages("a")}
	c := newConsumerWithReader("web", reader, fastRetryCfg(), logger.NopLogger())

	attempts := 0
	err := c.Run(ctx, func(ctx context.Context, value []byte) error {
		attempts++
		cancel()
		return errors.New("backend unavailable")
	})
	require.NoError(t, err)

	// Uncommitted on purpose: the message is reprocessed after restart.
	assert.GreaterOrEqual(t, attempts, 1)
	assert.Empty(t, reader.committed)
}

func TestConsumerCloseClosesReader(t *testing.T) {
	reader := &fakeReader{cancel: func() {}}
	c := newConsumerWithReader("web", reader, fastRetryCfg(), logger.NopLogger())

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}
