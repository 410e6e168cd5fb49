// Package httpserver exposes the lifecycle engine as a JSON API.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"db_migration_control_plane/internal/auth"
	"db_migration_control_plane/internal/config"
	"db_migration_control_plane/internal/engine"
)

// MigrationEngine is the full operation surface of the lifecycle
// engine. *engine.Engine implements it; handler tests use a fake.
type MigrationEngine interface {
	CreateMigration(ctx context.Context, caller engine.Caller, p engine.CreateParams) (*engine.CreateResult, error)
	ApplyMigration(ctx context.Context, caller engine.Caller, id uuid.UUID) (*engine.TransitionResult, error)
	RollbackMigration(ctx context.Context, caller engine.Caller, id uuid.UUID) (*engine.TransitionResult, error)
	ListMigrations(ctx context.Context, caller engine.Caller) (*engine.ListResult, error)
	SetupMigrationsTable(ctx context.Context, caller engine.Caller) (*engine.SetupResult, error)
	ListTables(ctx context.Context, caller engine.Caller) (*engine.TableListing, error)
	GetSchema(ctx context.Context, caller engine.Caller, table string) (*engine.SchemaResult, error)
	CheckSecurityStatus(ctx context.Context, caller engine.Caller) (*engine.SecurityStatus, error)
	EnableRLSOnTable(ctx context.Context, caller engine.Caller, table string) (*engine.SQLTextResult, error)
	BackupTable(ctx context.Context, caller engine.Caller, table string, includeData bool) (*engine.BackupResult, error)
	CloneTableStructure(ctx context.Context, caller engine.Caller, source, target string) (*engine.SQLTextResult, error)
	GenerateSeedData(ctx context.Context, caller engine.Caller, table string, numRows int) (*engine.SeedResult, error)
	ExecuteSQLInfo(ctx context.Context, caller engine.Caller, sqlText string) (*engine.SQLAnalysis, error)
}

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type Server struct {
	cfg      config.Config
	logger   requestLogger
	db       *pgxpool.Pool
	engine   MigrationEngine
	sessions *auth.SessionManager
}

// New wires the server. sessions may be nil when SESSION_KEY is unset;
// login is then disabled and callers authenticate per request.
func New(cfg config.Config, logger requestLogger, db *pgxpool.Pool, eng MigrationEngine, sessions *auth.SessionManager) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		engine:   eng,
		sessions: sessions,
	}
}

func (s *Server) Start(ctx context.Context) error {
	r := s.routes()
	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddress,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.cfg.HTTPAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(RequestLogger(s.logger))

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", HealthHandler{DB: s.db})

		api.Post("/auth/login", s.login)
		api.Post("/auth/logout", s.logout)

		api.Get("/migrations", s.listMigrations)
		api.Post("/migrations", s.createMigration)
		api.Post("/migrations/{id}/apply", s.applyMigration)
		api.Post("/migrations/{id}/rollback", s.rollbackMigration)

		api.Post("/setup", s.setupMigrationsTable)
		api.Get("/security-status", s.checkSecurityStatus)

		api.Get("/tables", s.listTables)
		api.Get("/schema", s.getSchema)
		api.Post("/tables/{table}/enable-rls", s.enableRLS)
		api.Post("/tables/{table}/backup", s.backupTable)
		api.Post("/tables/{table}/seed", s.generateSeedData)
		api.Post("/tables/clone", s.cloneTable)

		api.Post("/sql/analyze", s.executeSQLInfo)
	})

	return r
}
