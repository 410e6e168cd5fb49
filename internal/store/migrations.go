package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"db_migration_control_plane/internal/risk"
)

var (
	ErrMigrationNotFound  = errors.New("migration not found")
	ErrNameTaken          = errors.New("migration name already exists")
	ErrCatalogMissing     = errors.New("migration catalog has not been provisioned")
	ErrStateConflict      = errors.New("migration is not in the required state")
	ErrMigrationNameEmpty = errors.New("migration name required")
	ErrMigrationSQLEmpty  = errors.New("up_sql and down_sql required")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusApplied    Status = "applied"
	StatusRolledBack Status = "rolled_back"
)

type Migration struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	UpSQL        string          `json:"up_sql"`
	DownSQL      string          `json:"down_sql"`
	Status       Status          `json:"status"`
	Environment  string          `json:"environment"`
	Risk         risk.Assessment `json:"risk"`
	CreatedBy    string          `json:"created_by,omitempty"`
	AppliedBy    string          `json:"applied_by,omitempty"`
	RolledBackBy string          `json:"rolled_back_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	AppliedAt    *time.Time      `json:"applied_at,omitempty"`
	RolledBackAt *time.Time      `json:"rolled_back_at,omitempty"`
}

type CreateInput struct {
	Name        string
	UpSQL       string
	DownSQL     string
	Environment string
	Risk        risk.Assessment
	CreatedBy   string
}

// Catalog owns migration record persistence and is the single source
// of truth for record state.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

const migrationColumns = `id, name, up_sql, down_sql, status, environment, risk_level, risk_warnings, risk_recommendations, created_by, applied_by, rolled_back_by, created_at, applied_at, rolled_back_at`

func (c *Catalog) Insert(ctx context.Context, input CreateInput) (*Migration, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, ErrMigrationNameEmpty
	}
	if strings.TrimSpace(input.UpSQL) == "" || strings.TrimSpace(input.DownSQL) == "" {
		return nil, ErrMigrationSQLEmpty
	}

	now := time.Now().UTC()
	id := uuid.New()
	warnings, err := json.Marshal(emptyIfNil(input.Risk.Warnings))
	if err != nil {
		return nil, err
	}
	recommendations, err := json.Marshal(emptyIfNil(input.Risk.Recommendations))
	if err != nil {
		return nil, err
	}

	_, err = c.pool.Exec(ctx, `
INSERT INTO migrations (id, name, up_sql, down_sql, status, environment, risk_level, risk_warnings, risk_recommendations, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`, id, input.Name, input.UpSQL, input.DownSQL, StatusPending, input.Environment, input.Risk.Level, warnings, recommendations, input.CreatedBy, now)
	if err != nil {
		return nil, classifyPgError(err)
	}

	return &Migration{
		ID:          id,
		Name:        input.Name,
		UpSQL:       input.UpSQL,
		DownSQL:     input.DownSQL,
		Status:      StatusPending,
		Environment: input.Environment,
		Risk:        input.Risk,
		CreatedBy:   input.CreatedBy,
		CreatedAt:   now,
	}, nil
}

func (c *Catalog) GetByID(ctx context.Context, id uuid.UUID) (*Migration, error) {
	row := c.pool.QueryRow(ctx, `
SELECT `+migrationColumns+`
FROM migrations
WHERE id = $1
`, id)
	m, err := scanMigration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMigrationNotFound
		}
		return nil, classifyPgError(err)
	}
	return m, nil
}

// ListAll returns every record ordered by creation time ascending.
func (c *Catalog) ListAll(ctx context.Context) ([]Migration, error) {
	rows, err := c.pool.Query(ctx, `
SELECT `+migrationColumns+`
FROM migrations
ORDER BY created_at ASC
`)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var list []Migration
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err)
	}
	return list, nil
}

// MarkApplied transitions pending or rolled_back -> applied. The
// status predicate in the UPDATE makes the read-check-act cycle atomic
// per record: of two concurrent callers only one sees a row change.
func (c *Catalog) MarkApplied(ctx context.Context, id uuid.UUID, at time.Time, actor string) error {
	tag, err := c.pool.Exec(ctx, `
UPDATE migrations
SET status = $2, applied_at = $3, rolled_back_at = NULL, applied_by = $4
WHERE id = $1 AND status IN ($5, $6)
`, id, StatusApplied, at, actor, StatusPending, StatusRolledBack)
	if err != nil {
		return classifyPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// MarkRolledBack transitions applied -> rolled_back, clearing
// applied_at.
func (c *Catalog) MarkRolledBack(ctx context.Context, id uuid.UUID, at time.Time, actor string) error {
	tag, err := c.pool.Exec(ctx, `
UPDATE migrations
SET status = $2, rolled_back_at = $3, applied_at = NULL, rolled_back_by = $4
WHERE id = $1 AND status = $5
`, id, StatusRolledBack, at, actor, StatusApplied)
	if err != nil {
		return classifyPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// ManualMarkAppliedSQL is the statement an operator runs after
// executing up_sql by hand, when the executor collaborator was
// unavailable.
func ManualMarkAppliedSQL(id uuid.UUID) string {
	return `UPDATE migrations SET status = 'applied', applied_at = NOW(), rolled_back_at = NULL WHERE id = '` + id.String() + `';`
}

// ManualMarkRolledBackSQL mirrors ManualMarkAppliedSQL for rollbacks.
func ManualMarkRolledBackSQL(id uuid.UUID) string {
	return `UPDATE migrations SET status = 'rolled_back', rolled_back_at = NOW(), applied_at = NULL WHERE id = '` + id.String() + `';`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMigration(row rowScanner) (*Migration, error) {
	var (
		m               Migration
		warnings        []byte
		recommendations []byte
	)
	if err := row.Scan(
		&m.ID, &m.Name, &m.UpSQL, &m.DownSQL, &m.Status, &m.Environment,
		&m.Risk.Level, &warnings, &recommendations,
		&m.CreatedBy, &m.AppliedBy, &m.RolledBackBy,
		&m.CreatedAt, &m.AppliedAt, &m.RolledBackAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(warnings, &m.Risk.Warnings); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recommendations, &m.Risk.Recommendations); err != nil {
		return nil, err
	}
	return &m, nil
}

// classifyPgError translates the SQLSTATEs the engine cares about:
// 23505 (unique violation on name) and 42P01 (catalog table missing).
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrNameTaken
		case "42P01":
			return ErrCatalogMissing
		}
	}
	return err
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
