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
	"logpipe/internal/logger"
	"logpipe/internal/parser"
	"logpipe/internal/pipeline"
	"logpipe/internal/sink"
	"logpipe/pkg/health"
	"logpipe/pkg/metrics"
)

type App struct {
	cfg    *config.Config
	logger logger.Logger

	codec    *cipher.Codec
	sink     sink.Sink
	consumer broker.Consumer
	handler  *pipeline.Handler
	server   *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("log-consumer")
	}
	return &App{
		cfg:    cfg,
		logger: log,
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := config.ValidateConsumer(a.cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	codec, err := cipher.NewFromKeyFile(a.cfg.Cipher.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize cipher: %w", err)
	}
	a.codec = codec

	p, err := parser.ForTopic(a.cfg.Kafka.Topic)
	if err != nil {
		return fmt.Errorf("failed to initialize parser: %w", err)
	}

	s, err := sink.ForBinding(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize sink: %w", err)
	}
	a.sink = s

	a.consumer = broker.NewKafkaConsumer(a.cfg.Kafka, a.cfg.Retry, a.logger)
	a.handler = pipeline.NewHandler(a.cfg.Kafka.Topic, a.cfg.Backend.Type, a.codec, p, a.sink, a.logger)

	metrics.RegisterConsumerMetrics()

	a.initHTTPServer()

	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewKafkaChecker(a.cfg.Kafka.Brokers))
	healthRegistry.Register(health.NewBackendChecker(a.cfg.Backend.Type, a.sink))

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
		defer a.consumer.Close()
		return a.consumer.Run(gCtx, a.handler.Handle)
	})

	err := g.Wait()

	if closeErr := a.sink.Close(); closeErr != nil {
		a.logger.ErrorwCtx(ctx, "Failed to close sink", "error", closeErr)
	}
	return err
}
