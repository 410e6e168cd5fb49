// Package executor invokes the privileged server-side functions that
// apply or roll back a migration by id. The functions ship in the
// provisioning SQL; a deployment that never ran it simply has no
// executor, and callers degrade to manual SQL.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnavailable marks the executor as absent rather than failing:
// the server-side function is not installed or there is no pool.
var ErrUnavailable = errors.New("executor unavailable")

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type Executor struct {
	pool   *pgxpool.Pool
	logger Logger
}

func New(pool *pgxpool.Pool, logger Logger) *Executor {
	return &Executor{pool: pool, logger: logger}
}

// ApplyByID runs apply_migration_by_id on the server and returns its
// status message.
func (e *Executor) ApplyByID(ctx context.Context, id uuid.UUID) (string, error) {
	return e.callText(ctx, `SELECT apply_migration_by_id($1)`, id)
}

// RollbackByID runs rollback_migration_by_id on the server.
func (e *Executor) RollbackByID(ctx context.Context, id uuid.UUID) (string, error) {
	return e.callText(ctx, `SELECT rollback_migration_by_id($1)`, id)
}

// TableInfo fetches the server-side table inventory.
func (e *Executor) TableInfo(ctx context.Context) (json.RawMessage, error) {
	return e.callJSON(ctx, `SELECT get_table_info()`)
}

// DescribeTable fetches column metadata for one table.
func (e *Executor) DescribeTable(ctx context.Context, table string) (json.RawMessage, error) {
	return e.callJSON(ctx, `SELECT describe_table($1)`, table)
}

// AllSchemas fetches column metadata for every table.
func (e *Executor) AllSchemas(ctx context.Context) (json.RawMessage, error) {
	return e.callJSON(ctx, `SELECT get_all_schemas()`)
}

func (e *Executor) callText(ctx context.Context, query string, args ...any) (string, error) {
	if e.pool == nil {
		return "", ErrUnavailable
	}
	var out string
	if err := e.pool.QueryRow(ctx, query, args...).Scan(&out); err != nil {
		return "", classify(err)
	}
	if e.logger != nil {
		e.logger.Info("executor call succeeded", "query", query)
	}
	return out, nil
}

func (e *Executor) callJSON(ctx context.Context, query string, args ...any) (json.RawMessage, error) {
	if e.pool == nil {
		return nil, ErrUnavailable
	}
	var out []byte
	if err := e.pool.QueryRow(ctx, query, args...).Scan(&out); err != nil {
		return nil, classify(err)
	}
	return json.RawMessage(out), nil
}

// classify maps SQLSTATE 42883 (undefined function) onto
// ErrUnavailable so callers can distinguish "not installed" from a
// genuine execution failure. Both end in the manual fallback, but the
// former is worth a friendlier message.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42883" {
		return fmt.Errorf("%w: install the provisioning SQL to enable server-side execution", ErrUnavailable)
	}
	return err
}
