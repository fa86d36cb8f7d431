// Package main is the entry point for the Mumbai DAO API server.
//
// main stays minimal:
//  1. load configuration (config.yaml, .env, environment)
//  2. build the logger
//  3. hand both to internal/server and block until shutdown
//
// All wiring lives in internal/server so tests can build the same server
// without a process.
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/mumbai-dao/internal/config"
	"github.com/sakif/mumbai-dao/internal/logging"
	"github.com/sakif/mumbai-dao/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("DAO_CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stdout)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
