// Command span-driver sends weighted debug/info/warn/error requests at a
// running span tester until interrupted or DRIVER_COUNT answers arrive.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/heatmap-panel/span-tester/internal/config"
	"github.com/heatmap-panel/span-tester/internal/driver"
	"github.com/heatmap-panel/span-tester/internal/logging"
	"github.com/heatmap-panel/span-tester/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.Telemetry.ServiceName = cfg.Driver.ServiceName

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("shutting down span driver...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("span driver failed", zap.Error(err))
	}
}

// run drives the tester until ctx ends or the configured count is reached.
// Buffered spans are flushed before it returns, on every path.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
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

	d, err := driver.New(driver.Options{
		Target:         cfg.Driver.Target,
		Rate:           cfg.Driver.Rate,
		Count:          cfg.Driver.Count,
		TracerProvider: provider.TracerProvider(),
		Propagator:     provider.Propagator(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	logger.Info("driving span tester",
		zap.String("target", cfg.Driver.Target),
		zap.Float64("rate", cfg.Driver.Rate),
		zap.Int("count", cfg.Driver.Count),
	)

	sum, err := d.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("run complete",
		zap.Int("sent", sum.Sent),
		zap.Int("unexpected", sum.Unexpected),
		zap.Int("failures", sum.Failures),
		zap.Any("by_level", sum.ByLevel),
		zap.Any("by_status", sum.ByStatus),
	)
	return nil
}
