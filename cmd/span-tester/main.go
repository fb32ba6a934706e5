/*
Span Tester is an HTTP server that turns a request into span annotations at a
chosen severity, for checking that a collector, exporter and backend carry
spans through intact.

	GET /                      -> 200 "OpenTelemetry Span Tester"
	ANY /{level}?body=<msg>    -> 204 (debug, info, warn), 500 (error), 400 otherwise

# Span Modes

| SPAN_MODE | Span Annotated                          | Attributes              | Without Tracing Context |
|-----------|-----------------------------------------|-------------------------|-------------------------|
| ambient   | server span of the incoming request     | none added              | status from level only  |
| owned     | new "<level>-operation" child span      | level, message, error   | span is still created   |

Spans are batched and exported over OTLP (http/protobuf by default, grpc via
OTEL_EXPORTER_OTLP_PROTOCOL) and flushed on SIGINT/SIGTERM.
*/
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/heatmap-panel/span-tester/internal/api"
	"github.com/heatmap-panel/span-tester/internal/config"
	"github.com/heatmap-panel/span-tester/internal/emitter"
	"github.com/heatmap-panel/span-tester/internal/logging"
	"github.com/heatmap-panel/span-tester/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("span tester failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to flush spans", zap.Error(err))
		}
	}()

	e, err := emitter.New(cfg.Server.SpanMode, provider.TracerProvider(), cfg.Telemetry.ServiceVersion)
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.Options{
		Emitter:        e,
		TracerProvider: provider.TracerProvider(),
		Propagator:     provider.Propagator(),
		Logger:         logger,
		Version:        cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return err
	}

	logger.Info("starting span tester",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("span_mode", cfg.Server.SpanMode),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.Server.Addr())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down span tester...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
