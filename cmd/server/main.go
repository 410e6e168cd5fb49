package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"db_migration_control_plane/internal/audit"
	"db_migration_control_plane/internal/auth"
	"db_migration_control_plane/internal/config"
	"db_migration_control_plane/internal/engine"
	"db_migration_control_plane/internal/executor"
	httpserver "db_migration_control_plane/internal/http"
	"db_migration_control_plane/internal/inspect"
	"db_migration_control_plane/internal/logging"
	"db_migration_control_plane/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)

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

	var sessions *auth.SessionManager
	if len(cfg.SessionKeyBytes) > 0 {
		sessions = auth.NewSessionManager(cfg.SessionKeyBytes)
	}

	recorder.Record(ctx, "server_started", map[string]any{"http_addr": cfg.HTTPAddress}, "", cfg.Environment)

	server := httpserver.New(cfg, logger, dbPool, eng, sessions)
	if err := server.Start(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}
