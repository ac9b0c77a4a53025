package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/inventory-harvester/internal/api"
	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/database"
	"github.com/maltedev/inventory-harvester/internal/events"
	"github.com/maltedev/inventory-harvester/internal/fetch"
	"github.com/maltedev/inventory-harvester/internal/harvest"
	"github.com/maltedev/inventory-harvester/internal/jobs"
	"github.com/maltedev/inventory-harvester/internal/logging"
	"github.com/maltedev/inventory-harvester/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.Setup(cfg.Logging, "harvest-api")
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	sources, err := config.LoadSources(cfg.Harvester.SourcesDir)
	if err != nil {
		logger.Error("failed to load sources", "dir", cfg.Harvester.SourcesDir, "error", err)
		os.Exit(1)
	}
	logger.Info("sources loaded", "count", len(sources))

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
	}

	transport := fetch.New(fetch.OptionsFrom(cfg.Harvester, sources, logger))
	rowRepo := database.NewRowRepository(db)
	publisher := events.NewPublisher(db, cfg.Redis.Stream, logger)

	sinks := func(run *database.Run) harvest.Sink {
		sink := harvest.MultiSink{database.NewRowWriter(rowRepo, run.ID)}
		if redisClient != nil {
			sink = append(sink, publisher)
		}
		if cfg.Harvester.OutputDir != "" {
			files, err := storage.NewSnapshotFile(filepath.Join(cfg.Harvester.OutputDir, run.ID.String()))
			if err != nil {
				logger.Warn("snapshot files disabled for run", "id", run.ID, "error", err)
			} else {
				sink = append(sink, files)
			}
		}
		return sink
	}

	harvester := harvest.New(transport, harvest.Options{
		Concurrency:  cfg.Harvester.Concurrency,
		FlushTimeout: cfg.Harvester.FlushTimeout,
		Logger:       logger,
	})

	jobManager := jobs.NewManager(database.NewRunRepository(db), sources, harvester, sinks, logger)
	go jobManager.StartWorker(ctx, cfg.Harvester.JobPollInterval)

	outbox := database.NewOutboxRepository(db)
	if redisClient != nil {
		relay := database.NewRelay(outbox, redisClient, logger, database.RelayConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	router := api.NewRouter(api.NewHandlers(jobManager, outbox, logger), api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
