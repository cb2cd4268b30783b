package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"example.com/timetracking/internal/config"
	"example.com/timetracking/internal/observability"
	"example.com/timetracking/internal/outbox"
)

func main() {
	cfg := config.Load()

	interval := flag.Duration("interval", cfg.DLQPollInterval, "time between DLQ scans")
	maxRetries := flag.Int("max-retries", cfg.DLQMaxRetries, "attempts before an entry is quarantined")
	baseDelay := flag.Duration("base-delay", cfg.DLQBaseDelay, "base delay for exponential backoff")
	batchSize := flag.Int("batch-size", cfg.DLQBatchSize, "entries handled per scan")
	flag.Parse()

	logger := observability.NewLogger("timetracking-dlqmanager", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, *maxRetries, *baseDelay, logger)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("dlq manager metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	logger.Info("dlq manager started", "interval", interval.String(), "max_retries", *maxRetries)

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("dlq manager received shutdown signal")
			break loop
		case <-ticker.C:
			processed, err := manager.RunOnce(ctx, *batchSize)
			if err != nil {
				logger.Error("dlq manager error", "error", err)
			} else if processed > 0 {
				logger.Info("dlq manager processed entries", "count", processed)
			}
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
}
