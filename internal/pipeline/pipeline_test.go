package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/cipher"
	"logpipe/internal/logger"
	"logpipe/internal/parser"
	"logpipe/internal/sink"
	"logpipe/pkg/models"
)

type fakeSink struct {
	docs []models.Document
	errs []error
}

func (s *fakeSink) Write(ctx context.Context, doc models.Document) error {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	s.docs = append(s.docs, doc)
	return nil
}

func (s *fakeSink) Ping(ctx context.Context) error { return nil }

func (s *fakeSink) Close() error { return nil }

func newTestHandler(t *testing.T, topic, backend string, s sink.Sink) (*Handler, *cipher.Codec) {
	t.Helper()

	codec, err := cipher.New(bytes.Repeat([]byte{0x42}, cipher.KeySize))
	require.NoError(t, err)

	p, err := parser.ForTopic(topic)
	require.NoError(t, err)

	return NewHandler(topic, backend, codec, p, s, logger.NopLogger()), codec
}

func sealed(t *testing.T, codec *cipher.Codec, plaintext []byte) []byte {
	t.Helper()

	env, err := codec.Encrypt(plaintext)
	require.NoError(t, err)
	value, err := json.Marshal(env)
	require.NoError(t, err)
	return value
}

func TestHandlerDeliversResolverDocument(t *testing.T) {
	s := &fakeSink{}
	h, codec := newTestHandler(t, "dns", "elasticsearch", s)

	record := models.LogRecord{
		Name: "vlab-dns",
		Log:  "11-Apr-2019 15:50:01.123 client @0x7f5e4c1b2: 10.7.1.2#52312 (example.com): query: example.com IN A + (10.7.1.1)",
	}
	plaintext, err := record.Marshal()
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), sealed(t, codec, plaintext)))

	require.Len(t, s.docs, 1)
	doc := s.docs[0]
	assert.Equal(t, models.DocTypeDNS, doc.Type)
	assert.Equal(t, time.Date(2019, time.April, 11, 15, 50, 1, 0, time.UTC), doc.Timestamp)
	assert.Equal(t, "10.7.1.2", doc.Fields["client_ip"])
	assert.Equal(t, true, doc.Fields["query"])
	assert.Equal(t, false, doc.Fields["update"])
}

func TestHandlerDeliversFirewallDocument(t *testing.T) {
	s := &fakeSink{}
	h, codec := newTestHandler(t, "firewall", "influxdb", s)

	plaintext := []byte(`{"user":"alice","source":"10.7.1.2","target":"192.168.1.50","time":1554998203}`)

	require.NoError(t, h.Handle(context.Background(), sealed(t, codec, plaintext)))

	require.Len(t, s.docs, 1)
	doc := s.docs[0]
	assert.Equal(t, models.DocTypeFirewall, doc.Type)
	assert.Equal(t, time.Unix(1554998203, 0).UTC(), doc.Timestamp)
	assert.Equal(t, "alice", doc.Tags["username"])
	assert.Equal(t, 1, doc.Fields["packets"])
}

func TestHandlerMalformedEnvelopeIsPoison(t *testing.T) {
	s := &fakeSink{}
	h, _ := newTestHandler(t, "dns", "elasticsearch", s)

	require.NoError(t, h.Handle(context.Background(), []byte("not an envelope")))
	assert.Empty(t, s.docs)
}

func TestHandlerUndecryptableMessageIsPoison(t *testing.T) {
	s := &fakeSink{}
	h, _ := newTestHandler(t, "dns", "elasticsearch", s)

	otherCodec, err := cipher.New(bytes.Repeat([]byte{0x7a}, cipher.KeySize))
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), sealed(t, otherCodec, []byte("payload"))))
	assert.Empty(t, s.docs)
}

func TestHandlerUnparseableMessageIsPoison(t *testing.T) {
	s := &fakeSink{}
	h, codec := newTestHandler(t, "dns", "elasticsearch", s)

	require.NoError(t, h.Handle(context.Background(), sealed(t, codec, []byte("not a log record"))))
	assert.Empty(t, s.docs)
}

func TestHandlerIgnoresDuplicateWorkerLogging(t *testing.T) {
	s := &fakeSink{}
	h, codec := newTestHandler(t, "worker", "elasticsearch", s)

	// The queue framework's own copy of the line carries no task id.
	record := models.LogRecord{
		Name: "vlab-worker",
		Log:  "[2019-04-11 15:51:10,530: WARNING/ForkPoolWorker-11] Task starting",
	}
	plaintext, err := record.Marshal()
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), sealed(t, codec, plaintext)))
	assert.Empty(t, s.docs)
}

func TestHandlerPropagatesTransientSinkFailure(t *testing.T) {
	s := &fakeSink{errs: []error{sink.NewTransient(errors.New("connection refused"))}}
	h, codec := newTestHandler(t, "firewall", "influxdb", s)

	plaintext := []byte(`{"user":"alice","source":"10.7.1.2","target":"192.168.1.50","time":1554998203}`)
	value := sealed(t, codec, plaintext)

	err := h.Handle(context.Background(), value)
	require.Error(t, err)
	assert.True(t, sink.IsTransient(err))

	// Retrying the same message succeeds once the backend recovers.
	require.NoError(t, h.Handle(context.Background(), value))
	assert.Len(t, s.docs, 1)
}

func TestHandlerDropsRejectedDocument(t *testing.T) {
	s := &fakeSink{errs: []error{sink.NewRejected(errors.New("mapper_parsing_exception"))}}
	h, codec := newTestHandler(t, "firewall", "influxdb", s)

	plaintext := []byte(`{"user":"alice","source":"10.7.1.2","target":"192.168.1.50","time":1554998203}`)

	require.NoError(t, h.Handle(context.Background(), sealed(t, codec, plaintext)))
	assert.Empty(t, s.docs)
}
