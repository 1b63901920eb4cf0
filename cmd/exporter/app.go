package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"logpipe/internal/broker"
	"logpipe/internal/cipher"
	"logpipe/internal/config"
	"logpipe/internal/constants"
	"logpipe/internal/exporter"
	"logpipe/internal/logger"
	"logpipe/pkg/health"
	"logpipe/pkg/metrics"
	"logpipe/pkg/retry"
)

type App struct {
	cfg    *config.Config
	logger logger.Logger

	codec    *cipher.Codec
	producer broker.Producer
	exporter *exporter.Exporter
	server   *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("log-exporter")
	}
	return &App{
		cfg:    cfg,
		logger: log,
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := config.ValidateExporter(a.cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	codec, err := cipher.NewFromKeyFile(a.cfg.Cipher.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize cipher: %w", err)
	}
	a.codec = codec

	a.producer = broker.NewKafkaProducer(a.cfg.Kafka, a.logger)
	a.exporter = exporter.New(a.cfg.Exporter, a.codec, a.producer, publishPolicy(a.cfg.Retry), a.logger)

	metrics.RegisterExporterMetrics()

	a.initHTTPServer()

	return nil
}

// publishPolicy bounds publish retries: a record that cannot be published
// is dropped with an error rather than stalling its source forever.
func publishPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	return policy
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewKafkaChecker(a.cfg.Kafka.Brokers))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(h)
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: mux,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "HTTP server starting", "port", a.cfg.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.exporter.Run(gCtx)
	})

	err := g.Wait()

	if closeErr := a.producer.Close(); closeErr != nil {
		a.logger.ErrorwCtx(ctx, "Failed to close producer", "error", closeErr)
	}
	return err
}
