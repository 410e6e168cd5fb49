package inspect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"db_migration_control_plane/internal/config"
)

// ErrRowSecurityUnsupported is returned by providers without a row
// level security concept.
var ErrRowSecurityUnsupported = errors.New("row level security is not supported by this provider")

// Schema holds the introspected structure of a target database.
type Schema struct {
	Tables map[string]Table `json:"tables"`
}

// Table describes a table and its columns.
type Table struct {
	Name       string            `json:"name"`
	Columns    map[string]Column `json:"columns"`
	PrimaryKey []string          `json:"primary_key"`
}

// Column describes a table column.
type Column struct {
	Name         string  `json:"name"`
	DataType     string  `json:"data_type"`
	IsNullable   bool    `json:"is_nullable"`
	DefaultValue *string `json:"default_value,omitempty"`
}

// RowSet is an ordered snapshot of table data for backup generation.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Adapter abstracts provider-specific introspection behavior.
type Adapter interface {
	Provider() string
	Close() error
	ListTables(ctx context.Context) ([]string, error)
	FetchSchema(ctx context.Context, table string) (Schema, error)
	FetchRows(ctx context.Context, table string, limit int) (RowSet, error)
	TablesWithoutRowSecurity(ctx context.Context) ([]string, error)
}

// Open builds an adapter for the configured inspection target.
func Open(cfg config.TargetConfig) (Adapter, error) {
	switch strings.ToLower(cfg.Provider) {
	case "postgres":
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetMaxOpenConns(5)
		return &PostgresAdapter{db: db}, nil
	case "mysql":
		// Validate DSN early to provide actionable errors.
		if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		db, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, err
		}
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetMaxOpenConns(5)
		return &MySQLAdapter{db: db}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %s", cfg.Provider)
	}
}

// QuoteIdent double-quotes an SQL identifier, doubling embedded
// quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// fetchRows implements the shared data snapshot path; identifier
// quoting differs per provider.
func fetchRows(ctx context.Context, db *sql.DB, quotedTable string, limit int) (RowSet, error) {
	query := fmt.Sprintf(`SELECT * FROM %s`, quotedTable)
	if limit > 0 {
		query = fmt.Sprintf(`%s LIMIT %d`, query, limit)
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return RowSet{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return RowSet{}, err
	}

	out := RowSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return RowSet{}, err
		}
		out.Rows = append(out.Rows, values)
	}
	return out, rows.Err()
}

func nullableDefault(def sql.NullString) *string {
	if !def.Valid {
		return nil
	}
	v := def.String
	return &v
}
