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

	"example.com/timetracking/internal/api"
	"example.com/timetracking/internal/auth"
	"example.com/timetracking/internal/config"
	"example.com/timetracking/internal/domain"
	"example.com/timetracking/internal/enforcement"
	"example.com/timetracking/internal/notification"
	"example.com/timetracking/internal/observability"
	"example.com/timetracking/internal/outbox"
	"example.com/timetracking/internal/persistence/memory"
	persistence "example.com/timetracking/internal/persistence/postgres"
	httptransport "example.com/timetracking/internal/transport/http"
)

type store interface {
	domain.TimerRepository
	domain.SettingsStore
	domain.NotificationPreferences
}

func main() {
	cfg := config.Load()
	logger := observability.NewLogger("timetracking-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		repo       store
		notifier   domain.Notifier
		dispatcher *outbox.Dispatcher
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; data is lost on restart and no events are published")
		repo = memory.NewStore()
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		repo = persistence.NewRepository(pool)
		notifier = notification.NewOutboxNotifier(pool)

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, 10*time.Second)
		defer producer.Close()

		opts := []outbox.DispatcherOption{outbox.WithDispatcherLogger(logger)}
		if cfg.SchemaRegistryURL != "" {
			opts = append(opts, outbox.WithSchemaRegistry(outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)))
		}
		dispatcher = outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize, opts...)
		go dispatcher.Start(ctx)
	default:
		logger.Error("unknown storage driver", "driver", cfg.StorageDriver)
		os.Exit(1)
	}

	service := domain.NewService(repo, repo, domain.WithLogger(logger))
	sweeper := enforcement.NewSweeper(repo, repo, notifier, repo,
		enforcement.WithLogger(logger),
		enforcement.WithConcurrency(cfg.SweepConcurrency),
		enforcement.WithItemTimeout(cfg.SweepItemTimeout),
	)
	handler := api.NewHandler(service, api.WithLogger(logger), api.WithSweeps(sweeper, cfg.SweepSecret))

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	router := httptransport.NewRouter(httptransport.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
		Authenticate:   authMiddleware.Wrap,
		Untimed:        handler.InternalRoutes,
	}, handler.Routes)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, router)

	go func() {
		logger.Info("timetracking api listening", "address", cfg.HTTPAddress, "storage", cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
}
