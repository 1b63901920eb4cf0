// Package curator runs the periodic Elasticsearch housekeeping jobs: it
// prunes the oldest daily indices past the retention window and keeps
// transaction_id aggregatable on every index.
package curator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"golang.org/x/sync/errgroup"

	"logpipe/internal/config"
	"logpipe/internal/constants"
	"logpipe/internal/logger"
	"logpipe/pkg/metrics"
	"logpipe/pkg/scheduler"
)

// indexDateLayout matches the consumer's daily rolling index names.
const indexDateLayout = constants.IndexPrefix + "-2006.01.02"

type Curator struct {
	client *elasticsearch.Client
	cfg    config.CuratorConfig
	logger logger.Logger
}

func New(client *elasticsearch.Client, cfg config.CuratorConfig, log logger.Logger) *Curator {
	return &Curator{
		client: client,
		cfg:    cfg,
		logger: log,
	}
}

// Run drives both jobs on their own schedules until ctx is canceled. A
// failing job logs and waits for its next tick; Elasticsearch being down
// must not crash-loop the service.
func (c *Curator) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched := scheduler.New(c.cfg.PruneInterval, c.cfg.Jitter)
		return sched.Run(gCtx, func(ctx context.Context) error {
			c.runJob(ctx, "prune_indices", c.PruneIndices)
			return nil
		})
	})
	g.Go(func() error {
		sched := scheduler.New(c.cfg.FieldDataInterval, c.cfg.Jitter)
		return sched.Run(gCtx, func(ctx context.Context) error {
			c.runJob(ctx, "add_field_data", c.AddFieldData)
			return nil
		})
	})

	return g.Wait()
}

func (c *Curator) runJob(ctx context.Context, name string, job func(context.Context) error) {
	if err := job(ctx); err != nil {
		metrics.CuratorRunsTotal.WithLabelValues(name, "error").Inc()
		c.logger.ErrorwCtx(ctx, "Housekeeping job failed", "job", name, "error", err)
		return
	}
	metrics.CuratorRunsTotal.WithLabelValues(name, "ok").Inc()
}

// PruneIndices deletes the oldest daily indices beyond MaxIndices.
// Expiring a day of logs means dropping its whole index, which is why
// each day gets one.
func (c *Curator) PruneIndices(ctx context.Context) error {
	indices, err := c.listIndices(ctx)
	if err != nil {
		return err
	}

	type datedIndex struct {
		name string
		day  time.Time
	}
	dated := make([]datedIndex, 0, len(indices))
	for _, name := range indices {
		day, err := time.Parse(indexDateLayout, name)
		if err != nil {
			// Foreign index sharing the prefix; leave it alone.
			continue
		}
		dated = append(dated, datedIndex{name: name, day: day})
	}

	excess := len(dated) - c.cfg.MaxIndices
	c.logger.InfowCtx(ctx, "Checked daily indices", "total", len(dated), "pruning", max(excess, 0))
	if excess <= 0 {
		return nil
	}

	sort.Slice(dated, func(i, j int) bool { return dated[i].day.Before(dated[j].day) })

	var errs []error
	for _, idx := range dated[:excess] {
		if err := c.deleteIndex(ctx, idx.name); err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.IndicesPrunedTotal.Inc()
		c.logger.InfowCtx(ctx, "Pruned index", "index", idx.name)
	}
	return errors.Join(errs...)
}

// AddFieldData enables fielddata on transaction_id for every daily
// index, which is what lets the dashboards offer it as a drop-down.
func (c *Curator) AddFieldData(ctx context.Context) error {
	indices, err := c.listIndices(ctx)
	if err != nil {
		return err
	}
	if len(indices) == 0 {
		return nil
	}

	body := strings.NewReader(`{"properties":{"transaction_id":{"type":"text","fielddata":true}}}`)
	res, err := (esapi.IndicesPutMappingRequest{
		Index: indices,
		Body:  body,
	}).Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("put mapping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("put mapping returned %d: %s", res.StatusCode, responseDetail(res.Body))
	}
	io.Copy(io.Discard, res.Body)
	return nil
}

func (c *Curator) Ping(ctx context.Context) error {
	res, err := (esapi.PingRequest{}).Do(ctx, c.client)
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

func (c *Curator) listIndices(ctx context.Context) ([]string, error) {
	res, err := (esapi.CatIndicesRequest{
		Index:  []string{constants.IndexPrefix + "-*"},
		Format: "json",
		H:      []string{"index"},
	}).Do(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("cat indices: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("cat indices returned %d: %s", res.StatusCode, responseDetail(res.Body))
	}

	var rows []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode cat indices response: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Index)
	}
	return names, nil
}

func (c *Curator) deleteIndex(ctx context.Context, name string) error {
	res, err := (esapi.IndicesDeleteRequest{Index: []string{name}}).Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete index %s returned %d: %s", name, res.StatusCode, responseDetail(res.Body))
	}
	io.Copy(io.Discard, res.Body)
	return nil
}

func responseDetail(body io.Reader) []byte {
	detail, _ := io.ReadAll(io.LimitReader(body, 512))
	return bytes.TrimSpace(detail)
}
