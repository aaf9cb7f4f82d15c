package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bracketpi/bracketd/internal/config"
	"github.com/bracketpi/bracketd/internal/core"
	"github.com/bracketpi/bracketd/internal/db"
	"github.com/bracketpi/bracketd/internal/handlers"
	"github.com/bracketpi/bracketd/internal/logging"
	_ "github.com/bracketpi/bracketd/internal/metrics" // Initialize metrics
	"github.com/bracketpi/bracketd/internal/server"
)

func main() {
	// Initialize structured logging
	logging.InitLogger()

	slog.Info("starting bracketd")

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded successfully")

	// Open the relational store (GORM handles migrations automatically)
	dbConn, err := db.Open(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	sqlDB, err := dbConn.DB()
	if err != nil {
		slog.Error("failed to get underlying database connection", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()
	slog.Info("database connection established")

	// Connect Redis for the broadcast bridge
	redisClient, err := db.NewRedisClient(cfg.Redis.RedisURL, cfg.Redis.RedisKeyPrefix)
	if err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("redis connection established", "key_prefix", cfg.Redis.RedisKeyPrefix)

	conns := db.NewConnections(dbConn, redisClient)

	// Assemble the application core and start its background loops
	app := core.New(cfg, conns)
	runCtx, stopCore := context.WithCancel(context.Background())
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		app.Run(runCtx)
	}()

	deps := &handlers.Dependencies{
		Config: cfg,
		Conns:  conns,
		Core:   app,
	}

	srv := server.NewServer(cfg, deps)
	metricsSrv := server.NewMetricsServer(cfg, deps)

	go func() {
		slog.Info("metrics server listening", "port", cfg.Server.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		slog.Info("server listening", "address", srv.Addr, "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("received shutdown signal, shutting down gracefully")

	// Graceful shutdown with 30 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown both servers concurrently
	errChan := make(chan error, 2)
	go func() {
		if err := srv.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("main server shutdown error: %w", err)
		} else {
			errChan <- nil
		}
	}()
	go func() {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("metrics server shutdown error: %w", err)
		} else {
			errChan <- nil
		}
	}()

	for i := 0; i < 2; i++ {
		if err := <-errChan; err != nil {
			slog.Error("server forced to shutdown", "error", err)
			os.Exit(1)
		}
	}

	// Stop the core's background loops last so in-flight requests settle
	stopCore()
	select {
	case <-coreDone:
	case <-ctx.Done():
	}

	slog.Info("servers exited successfully")
}
