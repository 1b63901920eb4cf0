package curator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/config"
	"logpipe/internal/logger"
)

func newTestCurator(t *testing.T, serverURL string, cfg config.CuratorConfig) *Curator {
	t.Helper()
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{serverURL},
	})
	require.NoError(t, err)
	return New(client, cfg, logger.NopLogger())
}

func catIndicesBody(t *testing.T, names []string) []byte {
	t.Helper()
	rows := make([]map[string]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, map[string]string{"index": name})
	}
	body, err := json.Marshal(rows)
	require.NoError(t, err)
	return body
}

func TestPruneIndicesDeletesOldestBeyondLimit(t *testing.T) {
	indices := []string{"logs-settings", ".kibana"}
	base := time.Date(2019, time.March, 28, 0, 0, 0, 0, time.UTC)
	for day := 0; day < 32; day++ {
		indices = append(indices, "logs-"+base.AddDate(0, 0, day).Format("2006.01.02"))
	}

	var deleted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		switch {
		case strings.HasPrefix(r.URL.Path, "/_cat/indices"):
			w.Write(catIndicesBody(t, indices))
		case r.Method == http.MethodDelete:
			deleted = append(deleted, strings.TrimPrefix(r.URL.Path, "/"))
			w.Write([]byte(`{"acknowledged":true}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := newTestCurator(t, srv.URL, config.CuratorConfig{MaxIndices: 30})
	require.NoError(t, c.PruneIndices(context.Background()))

	// 32 dated indices with a window of 30: only the two oldest go, and
	// the non-dated names sharing the prefix are untouched.
	assert.Equal(t, []string{"logs-2019.03.28", "logs-2019.03.29"}, deleted)
}

func TestPruneIndicesKeepsEverythingUnderLimit(t *testing.T) {
	indices := []string{"logs-2019.04.10", "logs-2019.04.11"}

	var deletes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodDelete {
			deletes++
			w.Write([]byte(`{"acknowledged":true}`))
			return
		}
		w.Write(catIndicesBody(t, indices))
	}))
	defer srv.Close()

	c := newTestCurator(t, srv.URL, config.CuratorConfig{MaxIndices: 30})
	require.NoError(t, c.PruneIndices(context.Background()))
	assert.Zero(t, deletes)
}

func TestPruneIndicesSurfacesDeleteFailures(t *testing.T) {
	base := time.Date(2019, time.March, 28, 0, 0, 0, 0, time.UTC)
	var indices []string
	for day := 0; day < 3; day++ {
		indices = append(indices, "logs-"+base.AddDate(0, 0, day).Format("2006.01.02"))
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"blocked"}`))
			return
		}
		w.Write(catIndicesBody(t, indices))
	}))
	defer srv.Close()

	c := newTestCurator(t, srv.URL, config.CuratorConfig{MaxIndices: 1})
	err := c.PruneIndices(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs-2019.03.28")
	assert.Contains(t, err.Error(), "logs-2019.03.29")
}

func TestAddFieldDataMapsEveryIndex(t *testing.T) {
	indices := []string{"logs-2019.04.10", "logs-2019.04.11"}

	var (
		gotPath string
		gotBody map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodPut {
			gotPath = r.URL.Path
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &gotBody))
			w.Write([]byte(`{"acknowledged":true}`))
			return
		}
		w.Write(catIndicesBody(t, indices))
	}))
	defer srv.Close()

	c := newTestCurator(t, srv.URL, config.CuratorConfig{})
	require.NoError(t, c.AddFieldData(context.Background()))

	assert.Equal(t, "/logs-2019.04.10,logs-2019.04.11/_mapping", gotPath)
	props, ok := gotBody["properties"].(map[string]interface{})
	require.True(t, ok)
	txid, ok := props["transaction_id"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "text", txid["type"])
	assert.Equal(t, true, txid["fielddata"])
}

func TestAddFieldDataSkipsWhenNoIndices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodPut {
			t.Error("no mapping request expected without indices")
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestCurator(t, srv.URL, config.CuratorConfig{})
	require.NoError(t, c.AddFieldData(context.Background()))
}

func TestListIndicesErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	c := newTestCurator(t, srv.URL, config.CuratorConfig{MaxIndices: 30})
	err := c.PruneIndices(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprint(http.StatusServiceUnavailable))
}
