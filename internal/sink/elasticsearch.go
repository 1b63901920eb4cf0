package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"logpipe/internal/config"
	"logpipe/internal/constants"
	"logpipe/pkg/models"
)

// esTimeLayout is the timestamp format written into documents; the index
// infers the date type from it, which the dashboards depend on.
const esTimeLayout = "2006/01/02 15:04:05"

// ElasticsearchSink indexes one document per write under a daily rolling
// index (logs-YYYY.MM.dd), tagging each document with the configured
// doc_type so dashboards can filter per log category.
type ElasticsearchSink struct {
	client  *elasticsearch.Client
	docType string
	now     func() time.Time
}

// NewElasticsearchClient builds the authenticated client shared by the
// sink and the index curator: basic auth from the mounted secret file,
// TLS verification per config.
func NewElasticsearchClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	password, err := config.ReadSecretFile(cfg.PasswordFile)
	if err != nil {
		return nil, err
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{normalizeAddr(cfg.Server, constants.DefaultElasticsearchPort)},
		Username:  cfg.User,
		Password:  password,
		Transport: &http.Transport{
			TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.SkipVerify},
			ResponseHeaderTimeout: constants.DefaultHTTPTimeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return client, nil
}

func NewElasticsearchSink(cfg config.ElasticsearchConfig) (*ElasticsearchSink, error) {
	client, err := NewElasticsearchClient(cfg)
	if err != nil {
		return nil, err
	}

	return &ElasticsearchSink{
		client:  client,
		docType: cfg.DocType,
		now:     time.Now,
	}, nil
}

func (s *ElasticsearchSink) Write(ctx context.Context, doc models.Document) error {
	body, err := json.Marshal(s.document(doc))
	if err != nil {
		return NewRejected(fmt.Errorf("failed to marshal document: %w", err))
	}

	req := esapi.IndexRequest{
		Index: s.indexName(),
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return NewTransient(fmt.Errorf("index request: %w", err))
	}
	defer res.Body.Close()

	if res.IsError() {
		return classifyStatus(res.StatusCode, res.Body)
	}
	io.Copy(io.Discard, res.Body)
	return nil
}

func (s *ElasticsearchSink) Ping(ctx context.Context) error {
	res, err := esapi.PingRequest{}.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping returned %d", res.StatusCode)
	}
	io.Copy(io.Discard, res.Body)
	return nil
}

func (s *ElasticsearchSink) Close() error {
	return nil
}

func (s *ElasticsearchSink) document(doc models.Document) map[string]interface{} {
	out := make(map[string]interface{}, len(doc.Fields)+2)
	for k, v := range doc.Fields {
		out[k] = v
	}
	// Lines with no parseable source time (web tracebacks) are stamped
	// with ingestion time; their structured attributes stay null, which
	// is how dashboards tell them apart from access lines.
	ts := doc.Timestamp
	if !doc.HasTimestamp() {
		ts = s.now()
	}
	out["timestamp"] = ts.Format(esTimeLayout)
	out["doc_type"] = s.docType
	return out
}

func (s *ElasticsearchSink) indexName() string {
	return s.now().Format(constants.IndexPrefix + "-2006.01.02")
}

// classifyStatus maps an error response onto the retry contract: mapping
// and validation failures (4xx) are rejections the caller drops, anything
// else is worth retrying.
func classifyStatus(status int, body io.Reader) error {
	detail, _ := io.ReadAll(io.LimitReader(body, 512))
	err := fmt.Errorf("elasticsearch returned %d: %s", status, bytes.TrimSpace(detail))

	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return NewTransient(err)
	case status >= 400 && status < 500:
		return NewRejected(err)
	default:
		return NewTransient(err)
	}
}

// normalizeAddr accepts the bare IP/FQDN the deployment manifests use and
// turns it into the https base URL the client wants.
func normalizeAddr(server string, defaultPort int) string {
	if strings.Contains(server, "://") {
		return server
	}
	if strings.Contains(server, ":") {
		return fmt.Sprintf("https://%s", server)
	}
	return fmt.Sprintf("https://%s:%d", server, defaultPort)
}
