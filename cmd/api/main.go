package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/reqtrace/engine/internal/api"
	"github.com/reqtrace/engine/internal/api/handlers"
	mw "github.com/reqtrace/engine/internal/api/middleware"
	"github.com/reqtrace/engine/internal/api/validators"
	"github.com/reqtrace/engine/internal/repository"
	"github.com/reqtrace/engine/internal/services"
	"github.com/reqtrace/engine/internal/storage"
	"github.com/reqtrace/engine/pkg/config"
	"github.com/reqtrace/engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Initialize logger
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("Starting requirements engine",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("backend", cfg.StoreBackend),
		zap.String("changelog_mode", cfg.ChangeLogMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, _, err := storage.Open(ctx, cfg, storage.Options{Bootstrap: true})
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("store close error", zap.Error(err))
		}
	}()
	log.Info("Store connected successfully")

	recorder, closeRecorder := newRecorder(cfg, store)
	defer closeRecorder()

	v := validators.New()
	limiter := mw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	router := api.NewRouter(api.Dependencies{
		HealthHandler:       handlers.NewHealthHandler(store, cfg.StoreTimeout),
		HierarchyHandler:    handlers.NewHierarchyHandler(services.NewHierarchyService(store, services.HierarchyOptions{RepairLinks: cfg.CascadeRepairLinks}), v),
		RequirementsHandler: handlers.NewRequirementsHandler(services.NewRequirementService(store, recorder), v),
		DashboardHandler:    handlers.NewDashboardHandler(services.NewStatsService(store.Requirements)),
		RateLimiter:         limiter,
		AllowedOrigins:      cfg.AllowedOrigins(),
		RequestTimeout:      cfg.StoreTimeout,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}

// newRecorder builds the change log sink for cfg.ChangeLogMode. The returned
// func releases any queue connection.
func newRecorder(cfg *config.Config, store *repository.Store) (services.ChangeRecorder, func()) {
	switch cfg.ChangeLogMode {
	case config.ChangeLogSync:
		return services.NewStoreRecorder(store.ChangeLogs), func() {}
	case config.ChangeLogAsync:
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		return services.NewQueueRecorder(client), func() {
			if err := client.Close(); err != nil {
				logger.L().Warn("asynq client close error", zap.Error(err))
			}
		}
	default:
		return services.NewNopRecorder(), func() {}
	}
}
