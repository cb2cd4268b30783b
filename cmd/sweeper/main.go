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
	"example.com/timetracking/internal/enforcement"
	"example.com/timetracking/internal/notification"
	"example.com/timetracking/internal/observability"
	persistence "example.com/timetracking/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()

	once := flag.Bool("once", false, "run a single sweep and exit (for cron schedulers)")
	interval := flag.Duration("interval", cfg.SweepInterval, "time between sweeps")
	concurrency := flag.Int("concurrency", cfg.SweepConcurrency, "timers enforced in parallel")
	itemTimeout := flag.Duration("item-timeout", cfg.SweepItemTimeout, "deadline for enforcing one timer")
	flag.Parse()

	logger := observability.NewLogger("timetracking-sweeper", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	sweeper := enforcement.NewSweeper(repo, repo, notification.NewOutboxNotifier(pool), repo,
		enforcement.WithLogger(logger),
		enforcement.WithConcurrency(*concurrency),
		enforcement.WithItemTimeout(*itemTimeout),
	)

	if *once {
		summary, err := sweeper.Run(ctx)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		logger.Info("sweep finished",
			"total_checked", summary.TotalChecked,
			"stopped", summary.Stopped,
			"skipped", summary.Skipped,
			"errors", len(summary.Errors),
		)
		return
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("sweeper metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("sweeper started", "interval", interval.String(), "concurrency", *concurrency)
	go sweeper.Start(ctx, *interval)

	<-ctx.Done()
	logger.Info("sweeper shutdown requested")
	sweeper.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
}
