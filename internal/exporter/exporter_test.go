package exporter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/broker"
	"logpipe/internal/cipher"
	"logpipe/internal/config"
	"logpipe/internal/logger"
	"logpipe/pkg/models"
	"logpipe/pkg/retry"
)

type published struct {
	topic string
	env   models.Envelope
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []published
	errs []error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, env models.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	p.msgs = append(p.msgs, published{topic: topic, env: env})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
	}
}

func newTestExporter(t *testing.T, cfg config.ExporterConfig, producer broker.Producer) (*Exporter, *cipher.Codec) {
	t.Helper()
	codec, err := cipher.New(bytes.Repeat([]byte{0x42}, cipher.KeySize))
	require.NoError(t, err)
	return New(cfg, codec, producer, fastPolicy(), logger.NopLogger()), codec
}

func TestExportEncryptsAndRoutes(t *testing.T) {
	producer := &fakeProducer{}
	e, codec := newTestExporter(t, config.ExporterConfig{}, producer)

	err := e.export(context.Background(), "vlab_insightiq-api_1", "10.7.1.2 - - [11/Apr/2019:15:50:01 +0000] \"GET / HTTP/1.1\" 200 612")
	require.NoError(t, err)

	require.Len(t, producer.msgs, 1)
	assert.Equal(t, "web", producer.msgs[0].topic)

	// Only the intended consumer can read the payload back.
	plaintext, err := codec.Decrypt(producer.msgs[0].env)
	require.NoError(t, err)
	record, err := models.UnmarshalLogRecord(plaintext)
	require.NoError(t, err)
	assert.Equal(t, "vlab_insightiq-api_1", record.Name)
	assert.Contains(t, record.Log, "GET / HTTP/1.1")
}

func TestExportRetriesTransientPublishFailure(t *testing.T) {
	producer := &fakeProducer{errs: []error{
		errors.New("broker not available"),
		errors.New("broker not available"),
	}}
	e, _ := newTestExporter(t, config.ExporterConfig{}, producer)

	err := e.export(context.Background(), "dns", "11-Apr-2019 15:50:01.123 client: query")
	require.NoError(t, err)
	require.Len(t, producer.msgs, 1)
	assert.Equal(t, "dns", producer.msgs[0].topic)
}

func TestExportSurfacesExhaustedRetries(t *testing.T) {
	producer := &fakeProducer{errs: []error{
		errors.New("broker not available"),
		errors.New("broker not available"),
		errors.New("broker not available"),
	}}
	e, _ := newTestExporter(t, config.ExporterConfig{}, producer)

	err := e.export(context.Background(), "dns", "some line")
	require.Error(t, err)

	var pubErr *broker.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, "dns", pubErr.Topic)
	assert.Empty(t, producer.msgs)
}

func TestScanDiscoversWatchDirSources(t *testing.T) {
	watchDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "insightiq-api.log"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "dns.log"), []byte(""), 0o644))
	// Non-log files are not sources.
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "notes.txt"), []byte(""), 0o644))

	staticPath := filepath.Join(t.TempDir(), "firewall.json")
	require.NoError(t, os.WriteFile(staticPath, []byte(""), 0o644))

	e, _ := newTestExporter(t, config.ExporterConfig{
		WatchDir: watchDir,
		Sources:  []config.SourceConfig{{Name: "firewall", Path: staticPath}},
	}, &fakeProducer{})

	ctx, cancel := context.WithCancel(context.Background())
	e.scan(ctx)

	e.mu.Lock()
	names := make([]string, 0, len(e.followers))
	for name := range e.followers {
		names = append(names, name)
	}
	e.mu.Unlock()
	assert.ElementsMatch(t, []string{"insightiq-api", "dns", "firewall"}, names)

	// Rescanning does not double-follow a source.
	e.scan(ctx)
	e.mu.Lock()
	assert.Len(t, e.followers, 3)
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

func TestScanSkipsMissingStaticSource(t *testing.T) {
	e, _ := newTestExporter(t, config.ExporterConfig{
		Sources: []config.SourceConfig{{Name: "ghost", Path: "/nonexistent/ghost.log"}},
	}, &fakeProducer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.scan(ctx)

	e.mu.Lock()
	assert.Empty(t, e.followers)
	e.mu.Unlock()
}
