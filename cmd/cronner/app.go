package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"logpipe/internal/config"
	"logpipe/internal/constants"
	"logpipe/internal/curator"
	"logpipe/internal/logger"
	"logpipe/internal/sink"
	"logpipe/pkg/health"
	"logpipe/pkg/metrics"
)

type App struct {
	cfg    *config.Config
	logger logger.Logger

	curator *curator.Curator
	server  *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("log-cronner")
	}
	return &App{
		cfg:    cfg,
		logger: log,
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := config.ValidateCurator(a.cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := sink.NewElasticsearchClient(a.cfg.Backend.Elasticsearch)
	if err != nil {
		return fmt.Errorf("failed to initialize elasticsearch client: %w", err)
	}
	a.curator = curator.New(client, a.cfg.Curator, a.logger)

	metrics.RegisterCuratorMetrics()

	a.initHTTPServer()

	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewBackendChecker("elasticsearch", a.curator))

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
		return a.curator.Run(gCtx)
	})

	return g.Wait()
}
