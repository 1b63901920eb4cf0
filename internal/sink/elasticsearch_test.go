package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/config"
	"logpipe/pkg/models"
)

func secretFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestElasticsearchSink(t *testing.T, serverURL string) *ElasticsearchSink {
	t.Helper()
	s, err := NewElasticsearchSink(config.ElasticsearchConfig{
		Server:       serverURL,
		User:         "monitor",
		PasswordFile: secretFile(t, "hunter2\n"),
		DocType:      "dns_logs",
	})
	require.NoError(t, err)
	s.now = func() time.Time {
		return time.Date(2019, time.April, 11, 15, 50, 1, 0, time.UTC)
	}
	return s
}

func TestElasticsearchSinkWritesDailyIndex(t *testing.T) {
	var (
		gotPath string
		gotBody map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodPost {
			gotPath = r.URL.Path
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &gotBody))
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"result":"created"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestElasticsearchSink(t, srv.URL)

	err := s.Write(context.Background(), models.Document{
		Type:      models.DocTypeDNS,
		Timestamp: time.Date(2019, time.April, 11, 15, 50, 1, 0, time.UTC),
		Fields: map[string]interface{}{
			"service":   "vlab-dns",
			"client_ip": "10.7.1.2",
			"query":     true,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "/logs-2019.04.11/_doc", gotPath)
	assert.Equal(t, "2019/04/11 15:50:01", gotBody["timestamp"])
	assert.Equal(t, "dns_logs", gotBody["doc_type"])
	assert.Equal(t, "10.7.1.2", gotBody["client_ip"])
	assert.Equal(t, true, gotBody["query"])
}

func TestElasticsearchSinkFallsBackToWallClock(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &gotBody))
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"result":"created"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestElasticsearchSink(t, srv.URL)

	err := s.Write(context.Background(), models.Document{
		Type:   models.DocTypeWeb,
		Fields: map[string]interface{}{"service": "vlab-api"},
	})
	require.NoError(t, err)

	// No timestamp in the document means ingestion time is used.
	assert.Equal(t, "2019/04/11 15:50:01", gotBody["timestamp"])
}

func TestElasticsearchSinkClassifiesErrorResponses(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "mapping conflict is rejected", status: http.StatusBadRequest, wantTransient: false},
		{name: "throttling is transient", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "request timeout is transient", status: http.StatusRequestTimeout, wantTransient: true},
		{name: "server error is transient", status: http.StatusInternalServerError, wantTransient: true},
		{name: "gateway error is transient", status: http.StatusBadGateway, wantTransient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Elastic-Product", "Elasticsearch")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			s := newTestElasticsearchSink(t, srv.URL)
			err := s.Write(context.Background(), models.Document{
				Type:   models.DocTypeWeb,
				Fields: map[string]interface{}{"service": "vlab-api"},
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, IsTransient(err))
		})
	}
}

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		name   string
		server string
		want   string
	}{
		{name: "bare host", server: "es.vlab.local", want: "https://es.vlab.local:9200"},
		{name: "host with port", server: "es.vlab.local:9243", want: "https://es.vlab.local:9243"},
		{name: "full url passes through", server: "http://127.0.0.1:9200", want: "http://127.0.0.1:9200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeAddr(tt.server, 9200))
		})
	}
}
