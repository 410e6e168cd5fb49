package mcpserver

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"db_migration_control_plane/internal/engine"
)

// CallerInput is embedded in every tool input: the actor for audit
// attribution, the optional admin key, and the production confirmation
// token where the operation is gated.
type CallerInput struct {
	Actor    string `json:"actor,omitempty" jsonschema:"name recorded in the audit trail"`
	AdminKey string `json:"admin_key,omitempty" jsonschema:"admin API key when one is configured"`
	Confirm  string `json:"confirm,omitempty" jsonschema:"literal yes to confirm destructive operations in production"`
}

func (c CallerInput) caller() engine.Caller {
	return engine.Caller{Actor: c.Actor, AdminKey: c.AdminKey, Confirmation: c.Confirm}
}

type CreateMigrationInput struct {
	CallerInput
	Name    string `json:"name" jsonschema:"unique migration name"`
	UpSQL   string `json:"up_sql" jsonschema:"forward SQL"`
	DownSQL string `json:"down_sql" jsonschema:"reverse SQL"`
}

type MigrationIDInput struct {
	CallerInput
	ID string `json:"id" jsonschema:"migration id"`
}

type ListMigrationsInput struct {
	CallerInput
}

type SetupInput struct {
	CallerInput
}

type ListTablesInput struct {
	CallerInput
}

type GetSchemaInput struct {
	CallerInput
	Table string `json:"table,omitempty" jsonschema:"table name, empty for all tables"`
}

type SecurityStatusInput struct {
	CallerInput
}

type TableInput struct {
	CallerInput
	Table string `json:"table" jsonschema:"table name"`
}

type BackupTableInput struct {
	CallerInput
	Table       string `json:"table" jsonschema:"table name"`
	IncludeData *bool  `json:"include_data,omitempty" jsonschema:"include row data, default true"`
}

type CloneTableInput struct {
	CallerInput
	SourceTable string `json:"source_table" jsonschema:"table to clone"`
	TargetTable string `json:"target_table" jsonschema:"name of the new table"`
}

type SeedDataInput struct {
	CallerInput
	Table   string `json:"table" jsonschema:"table name"`
	NumRows int    `json:"num_rows,omitempty" jsonschema:"rows to generate, default 5"`
}

type ExecuteSQLInput struct {
	CallerInput
	SQL string `json:"sql" jsonschema:"statement to analyze"`
}

func CreateMigrationTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "create_migration",
		Description: "Creates a pending migration from an up/down SQL pair and classifies its risk",
	}
}

func ApplyMigrationTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "apply_migration",
		Description: "Applies a pending migration; returns manual SQL when no executor is installed",
	}
}

func RollbackMigrationTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "rollback_migration",
		Description: "Rolls back an applied migration; returns manual SQL when no executor is installed",
	}
}

func ListMigrationsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_migrations",
		Description: "Lists all migrations in creation order with a status summary",
	}
}

func SetupMigrationsTableTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "setup_migrations_table",
		Description: "Returns the provisioning SQL for the catalog, audit trail, and executor functions",
	}
}

func ListTablesTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_tables",
		Description: "Lists tables in the target database",
	}
}

func GetSchemaTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_schema",
		Description: "Describes one table or every table in the target database",
	}
}

func CheckSecurityStatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "check_security_status",
		Description: "Reports configuration posture and tables without row level security",
	}
}

func EnableRLSTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "enable_rls_on_table",
		Description: "Returns the SQL to enable row level security on a table (not executed)",
	}
}

func BackupTableTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "backup_table",
		Description: "Renders a table's rows as INSERT statements for a replayable backup",
	}
}

func CloneTableStructureTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "clone_table_structure",
		Description: "Returns the SQL to clone a table's structure without its data (not executed)",
	}
}

func GenerateSeedDataTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "generate_seed_data",
		Description: "Builds an INSERT template with placeholder values from the table's columns",
	}
}

func ExecuteSQLInfoTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "execute_sql_info",
		Description: "Analyzes a SQL statement's class and risk without executing it",
	}
}

func CreateMigrationHandler(eng MigrationEngine) mcp.ToolHandlerFor[CreateMigrationInput, engine.CreateResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in CreateMigrationInput) (*mcp.CallToolResult, engine.CreateResult, error) {
		res, err := eng.CreateMigration(ctx, in.caller(), engine.CreateParams{
			Name:    in.Name,
			UpSQL:   in.UpSQL,
			DownSQL: in.DownSQL,
		})
		if err != nil {
			return nil, engine.CreateResult{}, err
		}
		return nil, *res, nil
	}
}

func ApplyMigrationHandler(eng MigrationEngine) mcp.ToolHandlerFor[MigrationIDInput, engine.TransitionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in MigrationIDInput) (*mcp.CallToolResult, engine.TransitionResult, error) {
		id, err := uuid.Parse(in.ID)
		if err != nil {
			return nil, engine.TransitionResult{}, fmt.Errorf("invalid migration id %q", in.ID)
		}
		res, err := eng.ApplyMigration(ctx, in.caller(), id)
		if err != nil {
			return nil, engine.TransitionResult{}, err
		}
		return nil, *res, nil
	}
}

func RollbackMigrationHandler(eng MigrationEngine) mcp.ToolHandlerFor[MigrationIDInput, engine.TransitionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in MigrationIDInput) (*mcp.CallToolResult, engine.TransitionResult, error) {
		id, err := uuid.Parse(in.ID)
		if err != nil {
			return nil, engine.TransitionResult{}, fmt.Errorf("invalid migration id %q", in.ID)
		}
		res, err := eng.RollbackMigration(ctx, in.caller(), id)
		if err != nil {
			return nil, engine.TransitionResult{}, err
		}
		return nil, *res, nil
	}
}

func ListMigrationsHandler(eng MigrationEngine) mcp.ToolHandlerFor[ListMigrationsInput, engine.ListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in ListMigrationsInput) (*mcp.CallToolResult, engine.ListResult, error) {
		res, err := eng.ListMigrations(ctx, in.caller())
		if err != nil {
			return nil, engine.ListResult{}, err
		}
		return nil, *res, nil
	}
}

func SetupMigrationsTableHandler(eng MigrationEngine) mcp.ToolHandlerFor[SetupInput, engine.SetupResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in SetupInput) (*mcp.CallToolResult, engine.SetupResult, error) {
		res, err := eng.SetupMigrationsTable(ctx, in.caller())
		if err != nil {
			return nil, engine.SetupResult{}, err
		}
		return nil, *res, nil
	}
}

func ListTablesHandler(eng MigrationEngine) mcp.ToolHandlerFor[ListTablesInput, engine.TableListing] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in ListTablesInput) (*mcp.CallToolResult, engine.TableListing, error) {
		res, err := eng.ListTables(ctx, in.caller())
		if err != nil {
			return nil, engine.TableListing{}, err
		}
		return nil, *res, nil
	}
}

func GetSchemaHandler(eng MigrationEngine) mcp.ToolHandlerFor[GetSchemaInput, engine.SchemaResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in GetSchemaInput) (*mcp.CallToolResult, engine.SchemaResult, error) {
		res, err := eng.GetSchema(ctx, in.caller(), in.Table)
		if err != nil {
			return nil, engine.SchemaResult{}, err
		}
		return nil, *res, nil
	}
}

func CheckSecurityStatusHandler(eng MigrationEngine) mcp.ToolHandlerFor[SecurityStatusInput, engine.SecurityStatus] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in SecurityStatusInput) (*mcp.CallToolResult, engine.SecurityStatus, error) {
		res, err := eng.CheckSecurityStatus(ctx, in.caller())
		if err != nil {
			return nil, engine.SecurityStatus{}, err
		}
		return nil, *res, nil
	}
}

func EnableRLSHandler(eng MigrationEngine) mcp.ToolHandlerFor[TableInput, engine.SQLTextResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in TableInput) (*mcp.CallToolResult, engine.SQLTextResult, error) {
		res, err := eng.EnableRLSOnTable(ctx, in.caller(), in.Table)
		if err != nil {
			return nil, engine.SQLTextResult{}, err
		}
		return nil, *res, nil
	}
}

func BackupTableHandler(eng MigrationEngine) mcp.ToolHandlerFor[BackupTableInput, engine.BackupResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in BackupTableInput) (*mcp.CallToolResult, engine.BackupResult, error) {
		includeData := true
		if in.IncludeData != nil {
			includeData = *in.IncludeData
		}
		res, err := eng.BackupTable(ctx, in.caller(), in.Table, includeData)
		if err != nil {
			return nil, engine.BackupResult{}, err
		}
		return nil, *res, nil
	}
}

func CloneTableStructureHandler(eng MigrationEngine) mcp.ToolHandlerFor[CloneTableInput, engine.SQLTextResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in CloneTableInput) (*mcp.CallToolResult, engine.SQLTextResult, error) {
		res, err := eng.CloneTableStructure(ctx, in.caller(), in.SourceTable, in.TargetTable)
		if err != nil {
			return nil, engine.SQLTextResult{}, err
		}
		return nil, *res, nil
	}
}

func GenerateSeedDataHandler(eng MigrationEngine) mcp.ToolHandlerFor[SeedDataInput, engine.SeedResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in SeedDataInput) (*mcp.CallToolResult, engine.SeedResult, error) {
		res, err := eng.GenerateSeedData(ctx, in.caller(), in.Table, in.NumRows)
		if err != nil {
			return nil, engine.SeedResult{}, err
		}
		return nil, *res, nil
	}
}

func ExecuteSQLInfoHandler(eng MigrationEngine) mcp.ToolHandlerFor[ExecuteSQLInput, engine.SQLAnalysis] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteSQLInput) (*mcp.CallToolResult, engine.SQLAnalysis, error) {
		res, err := eng.ExecuteSQLInfo(ctx, in.caller(), in.SQL)
		if err != nil {
			return nil, engine.SQLAnalysis{}, err
		}
		return nil, *res, nil
	}
}
