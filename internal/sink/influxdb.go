package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"logpipe/internal/config"
	"logpipe/internal/constants"
	"logpipe/pkg/models"
)

// InfluxDBSink writes one point per document. Duplicate deliveries land
// on the same timestamp+tags and overwrite idempotently, which is what
// makes at-least-once acceptable for this backend.
type InfluxDBSink struct {
	client      client.Client
	database    string
	measurement string
	now         func() time.Time
}

func NewInfluxDBSink(cfg config.InfluxDBConfig) (*InfluxDBSink, error) {
	password, err := config.ReadSecretFile(cfg.PasswordFile)
	if err != nil {
		return nil, err
	}

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:               normalizeAddr(cfg.Server, constants.DefaultInfluxDBPort),
		Username:           cfg.User,
		Password:           password,
		Timeout:            constants.DefaultHTTPTimeout,
		InsecureSkipVerify: cfg.SkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create influxdb client: %w", err)
	}

	return &InfluxDBSink{
		client:      c,
		database:    cfg.Database,
		measurement: cfg.Measurement,
		now:         time.Now,
	}, nil
}

func (s *InfluxDBSink) Write(ctx context.Context, doc models.Document) error {
	if err := ctx.Err(); err != nil {
		return NewTransient(err)
	}

	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  s.database,
		Precision: "s",
	})
	if err != nil {
		return NewRejected(fmt.Errorf("failed to build batch: %w", err))
	}

	ts := doc.Timestamp
	if !doc.HasTimestamp() {
		ts = s.now()
	}
	pt, err := client.NewPoint(s.measurement, doc.Tags, doc.Fields, ts)
	if err != nil {
		return NewRejected(fmt.Errorf("failed to build point: %w", err))
	}
	bp.AddPoint(pt)

	if err := s.client.Write(bp); err != nil {
		return classifyInfluxError(err)
	}
	return nil
}

func (s *InfluxDBSink) Ping(ctx context.Context) error {
	_, _, err := s.client.Ping(constants.DefaultHTTPTimeout)
	return err
}

func (s *InfluxDBSink) Close() error {
	return s.client.Close()
}

// classifyInfluxError sorts the v1 client's untyped errors. The write
// endpoint reports malformed points and schema conflicts with these
// phrases; everything else is assumed to be the server or the network.
func classifyInfluxError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{
		"unable to parse",
		"field type conflict",
		"invalid field",
		"invalid tag",
		"partial write",
	} {
		if strings.Contains(msg, phrase) {
			return NewRejected(err)
		}
	}
	return NewTransient(err)
}
