package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"db_migration_control_plane/internal/authz"
	"db_migration_control_plane/internal/config"
	"db_migration_control_plane/internal/inspect"
	"db_migration_control_plane/internal/provision"
	"db_migration_control_plane/internal/risk"
	"db_migration_control_plane/internal/store"
)

type SetupResult struct {
	SQL          string   `json:"sql"`
	Instructions []string `json:"instructions"`
}

// SetupMigrationsTable returns the provisioning SQL and instructions.
// The engine never executes it; a privileged operator does.
func (e *Engine) SetupMigrationsTable(ctx context.Context, caller Caller) (*SetupResult, error) {
	if err := e.authorize(ctx, authz.OpSetupMigrations, caller, nil); err != nil {
		return nil, err
	}
	e.auditor.Record(ctx, authz.OpSetupMigrations, nil, caller.Actor, e.cfg.Environment)
	return &SetupResult{
		SQL:          provision.AllSQL(),
		Instructions: provision.Instructions(),
	}, nil
}

// TableListing comes from the executor when the server-side function
// is installed, otherwise from local introspection.
type TableListing struct {
	Source string          `json:"source"`
	Tables []string        `json:"tables,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

func (e *Engine) ListTables(ctx context.Context, caller Caller) (*TableListing, error) {
	if err := e.authorize(ctx, authz.OpListTables, caller, nil); err != nil {
		return nil, err
	}

	listing, _, err := tryExecutorThenFallback(ctx,
		func(ctx context.Context) (*TableListing, error) {
			if e.exec == nil {
				return nil, errors.New("no executor configured")
			}
			raw, err := e.exec.TableInfo(ctx)
			if err != nil {
				return nil, err
			}
			return &TableListing{Source: "executor", Raw: raw}, nil
		},
		func(ctx context.Context, cause error) (*TableListing, error) {
			if e.inspector == nil {
				return nil, &CollaboratorUnavailableError{Which: "inspection", Err: cause}
			}
			tables, err := e.inspector.ListTables(ctx)
			if err != nil {
				return nil, &CollaboratorUnavailableError{Which: "inspection", Err: err}
			}
			return &TableListing{Source: "introspection", Tables: tables}, nil
		})
	if err != nil {
		e.recordFailure(ctx, authz.OpListTables, caller, nil, err)
		return nil, err
	}

	e.auditor.Record(ctx, authz.OpListTables, map[string]any{"source": listing.Source}, caller.Actor, e.cfg.Environment)
	return listing, nil
}

type SchemaResult struct {
	Source string          `json:"source"`
	Table  string          `json:"table,omitempty"`
	Schema *inspect.Schema `json:"schema,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

// GetSchema describes one table, or every table when table is empty.
func (e *Engine) GetSchema(ctx context.Context, caller Caller, table string) (*SchemaResult, error) {
	details := map[string]any{"table": table}
	if err := e.authorize(ctx, authz.OpGetSchema, caller, details); err != nil {
		return nil, err
	}

	result, _, err := tryExecutorThenFallback(ctx,
		func(ctx context.Context) (*SchemaResult, error) {
			if e.exec == nil {
				return nil, errors.New("no executor configured")
			}
			var (
				raw json.RawMessage
				err error
			)
			if table == "" {
				raw, err = e.exec.AllSchemas(ctx)
			} else {
				raw, err = e.exec.DescribeTable(ctx, table)
			}
			if err != nil {
				return nil, err
			}
			return &SchemaResult{Source: "executor", Table: table, Raw: raw}, nil
		},
		func(ctx context.Context, cause error) (*SchemaResult, error) {
			if e.inspector == nil {
				return nil, &CollaboratorUnavailableError{Which: "inspection", Err: cause}
			}
			schema, err := e.inspector.FetchSchema(ctx, table)
			if err != nil {
				return nil, &CollaboratorUnavailableError{Which: "inspection", Err: err}
			}
			if table != "" {
				if _, ok := schema.Tables[table]; !ok {
					return nil, &NotFoundError{Entity: "table", ID: table}
				}
			}
			return &SchemaResult{Source: "introspection", Table: table, Schema: &schema}, nil
		})
	if err != nil {
		e.recordFailure(ctx, authz.OpGetSchema, caller, details, err)
		return nil, err
	}

	details["source"] = result.Source
	e.auditor.Record(ctx, authz.OpGetSchema, details, caller.Actor, e.cfg.Environment)
	return result, nil
}

type SecurityStatus struct {
	Environment              string   `json:"environment"`
	AdminKeyConfigured       bool     `json:"admin_key_configured"`
	ConfirmationRequired     bool     `json:"confirmation_required"`
	CatalogProvisioned       bool     `json:"catalog_provisioned"`
	SetupRequired            bool     `json:"setup_required"`
	RowSecuritySupported     bool     `json:"row_security_supported"`
	TablesWithoutRowSecurity []string `json:"tables_without_row_security,omitempty"`
	Recommendations          []string `json:"recommendations,omitempty"`
}

// CheckSecurityStatus reports the configuration posture plus, where
// the provider supports it, tables lacking row level security.
func (e *Engine) CheckSecurityStatus(ctx context.Context, caller Caller) (*SecurityStatus, error) {
	if err := e.authorize(ctx, authz.OpCheckSecurityStatus, caller, nil); err != nil {
		return nil, err
	}

	status := &SecurityStatus{
		Environment:          e.cfg.Environment,
		AdminKeyConfigured:   e.cfg.AdminAPIKey != "",
		ConfirmationRequired: e.cfg.RequireConfirmation,
		CatalogProvisioned:   true,
	}

	if _, err := e.catalog.ListAll(ctx); err != nil {
		if errors.Is(err, store.ErrCatalogMissing) {
			status.CatalogProvisioned = false
			status.SetupRequired = true
			status.Recommendations = append(status.Recommendations,
				"Run setup_migrations_table and execute the returned SQL to provision the catalog")
		} else {
			e.logger.Error("catalog check failed", "error", err)
		}
	}

	if e.inspector != nil {
		tables, err := e.inspector.TablesWithoutRowSecurity(ctx)
		switch {
		case errors.Is(err, inspect.ErrRowSecurityUnsupported):
			status.RowSecuritySupported = false
		case err != nil:
			e.logger.Error("row security check failed", "error", err)
			status.RowSecuritySupported = true
		default:
			status.RowSecuritySupported = true
			status.TablesWithoutRowSecurity = tables
			if len(tables) > 0 {
				status.Recommendations = append(status.Recommendations,
					"Enable row level security on exposed tables; use enable_rls_on_table for the SQL")
			}
		}
	}

	if status.Environment == config.EnvProduction && !status.AdminKeyConfigured {
		status.Recommendations = append(status.Recommendations,
			"Configure ADMIN_API_KEY so destructive operations require a credential")
	}

	e.auditor.Record(ctx, authz.OpCheckSecurityStatus, map[string]any{
		"catalog_provisioned": status.CatalogProvisioned,
	}, caller.Actor, e.cfg.Environment)
	return status, nil
}

// SQLTextResult carries generated SQL that the engine does not run.
type SQLTextResult struct {
	Table string `json:"table,omitempty"`
	SQL   string `json:"sql"`
	Note  string `json:"note,omitempty"`
}

// EnableRLSOnTable returns the statements that turn on row level
// security for a table. Returned as text only.
func (e *Engine) EnableRLSOnTable(ctx context.Context, caller Caller, table string) (*SQLTextResult, error) {
	details := map[string]any{"table": table}
	if err := e.authorize(ctx, authz.OpEnableRLS, caller, details); err != nil {
		return nil, err
	}
	if strings.TrimSpace(table) == "" {
		err := &ValidationError{Message: "table name required"}
		e.recordFailure(ctx, authz.OpEnableRLS, caller, details, err)
		return nil, err
	}

	quoted := inspect.QuoteIdent(table)
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s ENABLE ROW LEVEL SECURITY;\n\n", quoted)
	b.WriteString("-- Example policy, adjust to your access rules before running:\n")
	fmt.Fprintf(&b, "CREATE POLICY %s ON %s\n    FOR SELECT\n    USING (true);\n",
		inspect.QuoteIdent(table+"_select_policy"), quoted)

	e.auditor.Record(ctx, authz.OpEnableRLS, details, caller.Actor, e.cfg.Environment)
	return &SQLTextResult{
		Table: table,
		SQL:   b.String(),
		Note:  "SQL is not executed automatically; review and run it yourself",
	}, nil
}

type BackupResult struct {
	Table       string `json:"table"`
	IncludeData bool   `json:"include_data"`
	RowCount    int    `json:"row_count"`
	SQL         string `json:"sql"`
}

// BackupTable renders the current rows of a table as INSERT statements.
func (e *Engine) BackupTable(ctx context.Context, caller Caller, table string, includeData bool) (*BackupResult, error) {
	details := map[string]any{"table": table, "include_data": includeData}
	if err := e.authorize(ctx, authz.OpBackupTable, caller, details); err != nil {
		return nil, err
	}
	if strings.TrimSpace(table) == "" {
		err := &ValidationError{Message: "table name required"}
		e.recordFailure(ctx, authz.OpBackupTable, caller, details, err)
		return nil, err
	}

	var data inspect.RowSet
	if includeData {
		if e.inspector == nil {
			err := &CollaboratorUnavailableError{Which: "inspection"}
			e.recordFailure(ctx, authz.OpBackupTable, caller, details, err)
			return nil, err
		}
		rows, err := e.inspector.FetchRows(ctx, table, 0)
		if err != nil {
			wrapped := &CollaboratorUnavailableError{Which: "inspection", Err: err}
			e.recordFailure(ctx, authz.OpBackupTable, caller, details, wrapped)
			return nil, wrapped
		}
		data = rows
	}

	details["row_count"] = len(data.Rows)
	e.auditor.Record(ctx, authz.OpBackupTable, details, caller.Actor, e.cfg.Environment)
	return &BackupResult{
		Table:       table,
		IncludeData: includeData,
		RowCount:    len(data.Rows),
		SQL:         inspect.BackupSQL(table, data, includeData, time.Now()),
	}, nil
}

// CloneTableStructure returns the statement that clones a table's
// structure, indexes and defaults included, without its data.
func (e *Engine) CloneTableStructure(ctx context.Context, caller Caller, source, target string) (*SQLTextResult, error) {
	details := map[string]any{"source": source, "target": target}
	if err := e.authorize(ctx, authz.OpCloneTable, caller, details); err != nil {
		return nil, err
	}
	if strings.TrimSpace(source) == "" || strings.TrimSpace(target) == "" {
		err := &ValidationError{Message: "source and target table names required"}
		e.recordFailure(ctx, authz.OpCloneTable, caller, details, err)
		return nil, err
	}

	sqlText := fmt.Sprintf("CREATE TABLE %s (LIKE %s INCLUDING ALL);",
		inspect.QuoteIdent(target), inspect.QuoteIdent(source))

	e.auditor.Record(ctx, authz.OpCloneTable, details, caller.Actor, e.cfg.Environment)
	return &SQLTextResult{
		Table: target,
		SQL:   sqlText,
		Note:  "SQL is not executed automatically",
	}, nil
}

type SeedResult struct {
	Table    string `json:"table"`
	RowCount int    `json:"row_count"`
	SQL      string `json:"sql"`
}

// GenerateSeedData builds a multi-row INSERT template from the table's
// introspected columns. Values are placeholders keyed off the column
// type; the operator edits before running.
func (e *Engine) GenerateSeedData(ctx context.Context, caller Caller, table string, numRows int) (*SeedResult, error) {
	details := map[string]any{"table": table, "num_rows": numRows}
	if err := e.authorize(ctx, authz.OpGenerateSeedData, caller, details); err != nil {
		return nil, err
	}
	if strings.TrimSpace(table) == "" {
		err := &ValidationError{Message: "table name required"}
		e.recordFailure(ctx, authz.OpGenerateSeedData, caller, details, err)
		return nil, err
	}
	if numRows <= 0 {
		numRows = 5
	}
	if numRows > 100 {
		numRows = 100
	}

	if e.inspector == nil {
		err := &CollaboratorUnavailableError{Which: "inspection"}
		e.recordFailure(ctx, authz.OpGenerateSeedData, caller, details, err)
		return nil, err
	}
	schema, err := e.inspector.FetchSchema(ctx, table)
	if err != nil {
		wrapped := &CollaboratorUnavailableError{Which: "inspection", Err: err}
		e.recordFailure(ctx, authz.OpGenerateSeedData, caller, details, wrapped)
		return nil, wrapped
	}
	tbl, ok := schema.Tables[table]
	if !ok {
		err := &NotFoundError{Entity: "table", ID: table}
		e.recordFailure(ctx, authz.OpGenerateSeedData, caller, details, err)
		return nil, err
	}

	columns := make([]string, 0, len(tbl.Columns))
	for name := range tbl.Columns {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	var b strings.Builder
	fmt.Fprintf(&b, "-- Seed data template for table: %s\n", table)
	b.WriteString("-- Adjust values before running\n")
	fmt.Fprintf(&b, "INSERT INTO %s (", inspect.QuoteIdent(table))
	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(inspect.QuoteIdent(col))
	}
	b.WriteString(") VALUES\n")
	for n := 1; n <= numRows; n++ {
		b.WriteString("    (")
		for i, col := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(seedValue(tbl.Columns[col].DataType, col, n))
		}
		b.WriteString(")")
		if n < numRows {
			b.WriteString(",\n")
		} else {
			b.WriteString(";\n")
		}
	}

	e.auditor.Record(ctx, authz.OpGenerateSeedData, details, caller.Actor, e.cfg.Environment)
	return &SeedResult{Table: table, RowCount: numRows, SQL: b.String()}, nil
}

func seedValue(dataType, column string, n int) string {
	t := strings.ToLower(dataType)
	switch {
	case strings.Contains(t, "int"), strings.Contains(t, "serial"):
		return strconv.Itoa(n)
	case strings.Contains(t, "bool"):
		if n%2 == 1 {
			return "TRUE"
		}
		return "FALSE"
	case strings.Contains(t, "timestamp"), strings.Contains(t, "date"), strings.Contains(t, "time"):
		return "NOW()"
	case strings.Contains(t, "numeric"), strings.Contains(t, "decimal"),
		strings.Contains(t, "real"), strings.Contains(t, "double"), strings.Contains(t, "float"):
		return fmt.Sprintf("%d.0", n)
	case strings.Contains(t, "json"):
		return "'{}'"
	case strings.Contains(t, "uuid"):
		return "gen_random_uuid()"
	default:
		return fmt.Sprintf("'%s_%d'", column, n)
	}
}

type SQLAnalysis struct {
	StatementType string          `json:"statement_type"`
	Category      string          `json:"category"`
	IsSafe        bool            `json:"is_safe"`
	Risk          risk.Assessment `json:"risk"`
	Note          string          `json:"note"`
}

// ExecuteSQLInfo analyzes a statement without running it: leading
// keyword classification plus an on-demand risk verdict over the text.
// Gated like the other destructive operations because the analysis
// exists to precede a manual execution.
func (e *Engine) ExecuteSQLInfo(ctx context.Context, caller Caller, sqlText string) (*SQLAnalysis, error) {
	if err := e.authorize(ctx, authz.OpExecuteSQLInfo, caller, nil); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		err := &ValidationError{Message: "sql required"}
		e.recordFailure(ctx, authz.OpExecuteSQLInfo, caller, nil, err)
		return nil, err
	}

	keyword := strings.ToUpper(strings.Fields(trimmed)[0])
	analysis := &SQLAnalysis{
		StatementType: keyword,
		Category:      "unknown",
		Risk:          risk.Classify(sqlText, ""),
		Note:          "analysis only; the statement was not executed",
	}
	switch keyword {
	case "SELECT":
		analysis.Category = "query"
		analysis.IsSafe = true
	case "INSERT", "UPDATE", "DELETE":
		analysis.Category = "write"
	case "CREATE", "ALTER", "DROP", "TRUNCATE":
		analysis.Category = "ddl"
	}

	e.auditor.Record(ctx, authz.OpExecuteSQLInfo, map[string]any{
		"statement_type": analysis.StatementType,
		"category":       analysis.Category,
		"risk_level":     string(analysis.Risk.Level),
	}, caller.Actor, e.cfg.Environment)
	return analysis, nil
}
