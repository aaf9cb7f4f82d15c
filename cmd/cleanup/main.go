package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/bracketpi/bracketd/internal/config"
	"github.com/bracketpi/bracketd/internal/db"
	"github.com/bracketpi/bracketd/internal/db/cachestore"
	"github.com/bracketpi/bracketd/internal/logging"
)

func main() {
	// Initialize structured logging
	logging.InitLogger()

	// Parse command line flags
	resetStats := flag.Bool("reset-stats", false, "Also reset the cache hit/miss counters")
	flag.Parse()

	slog.Info("starting cache cleanup")

	// Load minimal configuration (only database and Redis)
	cfg, err := config.LoadMinimal()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database connection; Redis is not needed for the sweep
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

	conns := db.NewConnections(dbConn, nil)

	slog.Info("database connection established")

	exitCode := 0

	// Sweep expired cache rows
	slog.Info("sweeping expired cache rows")
	removed, err := cachestore.CleanupExpired(conns, time.Now())
	if err != nil {
		slog.Error("failed to sweep expired cache rows", "error", err)
		exitCode = 1
	} else {
		slog.Info("expired cache rows swept", "removed", removed)
	}

	if *resetStats {
		slog.Info("resetting cache statistics")
		if err := cachestore.ResetStats(conns); err != nil {
			slog.Error("failed to reset cache statistics", "error", err)
			exitCode = 1
		} else {
			slog.Info("cache statistics reset")
		}
	}

	slog.Info("cleanup complete", "exit_code", exitCode)
	os.Exit(exitCode)
}
