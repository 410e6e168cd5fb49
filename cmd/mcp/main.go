// The mcp binary serves the same operations as cmd/server over an MCP
// stdio transport. Logs go to stderr so stdout stays a clean protocol
// stream.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"db_migration_control_plane/internal/audit"
	"db_migration_control_plane/internal/config"
	"db_migration_control_plane/internal/engine"
	"db_migration_control_plane/internal/executor"
	"db_migration_control_plane/internal/inspect"
	"db_migration_control_plane/internal/logging"
	mcpserver "db_migration_control_plane/internal/mcp"
	"db_migration_control_plane/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewStderrLogger(cfg.LogLevel)

	dbPool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	catalog := store.NewCatalog(dbPool)
	exec := executor.New(dbPool, logger)
	recorder := audit.NewRecorder(audit.NewPGSink(dbPool), logger)

	inspector, err := inspect.Open(cfg.Target)
	if err != nil {
		logger.Error("inspection target unavailable, schema operations degrade", "error", err)
		inspector = nil
	} else {
		defer inspector.Close()
	}

	eng := engine.New(cfg, catalog, exec, inspector, recorder, logger)

	server := mcpserver.New(eng, logger)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("mcp server stopped with error", "error", err)
		os.Exit(1)
	}
}
