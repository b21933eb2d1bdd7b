package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudzz-dev/relaychat/internal/config"
	"github.com/cloudzz-dev/relaychat/internal/server/handlers"
	"github.com/cloudzz-dev/relaychat/internal/server/ratelimit"
	"github.com/cloudzz-dev/relaychat/internal/server/relay"
	"github.com/cloudzz-dev/relaychat/internal/server/storage"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to open message store", zap.Error(err))
	}
	defer store.Close()

	limiter := ratelimit.New(cfg.MaxConnectionsPerIP, cfg.JoinAttemptsPerMin)
	defer limiter.Close()

	hub := relay.NewHub(store, limiter, logger.Named("relay"))
	hub.HistoryLimit = cfg.HistoryLimit

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.Routes(ctx, hub, limiter),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	maxConns, maxJoins := limiter.Limits()
	logger.Info("Server starting",
		zap.String("addr", srv.Addr),
		zap.Int("max_connections_per_ip", maxConns),
		zap.Int("join_attempts_per_min", maxJoins),
		zap.Bool("postgres", cfg.DatabaseURL != ""))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func openStore(ctx context.Context, databaseURL string) (storage.Store, error) {
	if databaseURL == "" {
		return storage.NewMemory(), nil
	}
	return storage.OpenPostgres(ctx, databaseURL)
}
