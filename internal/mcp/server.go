// Package mcpserver exposes the lifecycle engine as MCP tools over a
// stdio transport, mirroring the HTTP surface operation for operation.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"db_migration_control_plane/internal/engine"
)

const (
	serverName    = "db-migration-control-plane"
	serverVersion = "1.0.0"
)

// MigrationEngine is the slice of the engine this transport needs.
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

type Server struct {
	mcpServer *mcp.Server
	logger    *slog.Logger
}

// New builds the MCP server and registers every tool.
func New(eng MigrationEngine, logger *slog.Logger) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(mcpServer, CreateMigrationTool(), CreateMigrationHandler(eng))
	mcp.AddTool(mcpServer, ApplyMigrationTool(), ApplyMigrationHandler(eng))
	mcp.AddTool(mcpServer, RollbackMigrationTool(), RollbackMigrationHandler(eng))
	mcp.AddTool(mcpServer, ListMigrationsTool(), ListMigrationsHandler(eng))
	mcp.AddTool(mcpServer, SetupMigrationsTableTool(), SetupMigrationsTableHandler(eng))
	mcp.AddTool(mcpServer, ListTablesTool(), ListTablesHandler(eng))
	mcp.AddTool(mcpServer, GetSchemaTool(), GetSchemaHandler(eng))
	mcp.AddTool(mcpServer, CheckSecurityStatusTool(), CheckSecurityStatusHandler(eng))
	mcp.AddTool(mcpServer, EnableRLSTool(), EnableRLSHandler(eng))
	mcp.AddTool(mcpServer, BackupTableTool(), BackupTableHandler(eng))
	mcp.AddTool(mcpServer, CloneTableStructureTool(), CloneTableStructureHandler(eng))
	mcp.AddTool(mcpServer, GenerateSeedDataTool(), GenerateSeedDataHandler(eng))
	mcp.AddTool(mcpServer, ExecuteSQLInfoTool(), ExecuteSQLInfoHandler(eng))

	return &Server{mcpServer: mcpServer, logger: logger}
}

// Run serves requests over stdio until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "name", serverName, "version", serverVersion)
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
