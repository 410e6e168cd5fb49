// Package engine orchestrates the migration lifecycle: authorization
// first, then risk classification, state transitions, and auditing.
// It holds no durable state of its own; the catalog is the single
// source of truth and is re-read before every transition.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"db_migration_control_plane/internal/audit"
	"db_migration_control_plane/internal/authz"
	"db_migration_control_plane/internal/config"
	"db_migration_control_plane/internal/inspect"
	"db_migration_control_plane/internal/risk"
	"db_migration_control_plane/internal/store"
)

// Catalog is the persistence collaborator. *store.Catalog implements
// it; tests substitute a fake.
type Catalog interface {
	Insert(ctx context.Context, input store.CreateInput) (*store.Migration, error)
	GetByID(ctx context.Context, id uuid.UUID) (*store.Migration, error)
	ListAll(ctx context.Context) ([]store.Migration, error)
	MarkApplied(ctx context.Context, id uuid.UUID, at time.Time, actor string) error
	MarkRolledBack(ctx context.Context, id uuid.UUID, at time.Time, actor string) error
}

// Executor is the optional server-side execution collaborator.
type Executor interface {
	ApplyByID(ctx context.Context, id uuid.UUID) (string, error)
	RollbackByID(ctx context.Context, id uuid.UUID) (string, error)
	TableInfo(ctx context.Context) (json.RawMessage, error)
	DescribeTable(ctx context.Context, table string) (json.RawMessage, error)
	AllSchemas(ctx context.Context) (json.RawMessage, error)
}

// Auditor receives one entry per denial, per transition attempt, and
// per read.
type Auditor interface {
	Record(ctx context.Context, operation string, details map[string]any, actor, environment string) audit.Entry
}

type Engine struct {
	cfg       config.Config
	catalog   Catalog
	exec      Executor
	inspector inspect.Adapter
	auditor   Auditor
	logger    *slog.Logger
}

// New wires the engine. exec and inspector may be nil; the affected
// operations degrade to manual fallbacks or report the collaborator
// as unavailable.
func New(cfg config.Config, catalog Catalog, exec Executor, inspector inspect.Adapter, auditor Auditor, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		catalog:   catalog,
		exec:      exec,
		inspector: inspector,
		auditor:   auditor,
		logger:    logger,
	}
}

// Caller carries the per-request identity and confirmation inputs.
type Caller struct {
	Actor        string
	AdminKey     string
	Confirmation string
}

type CreateParams struct {
	Name    string
	UpSQL   string
	DownSQL string
}

type CreateResult struct {
	Migration *store.Migration `json:"migration"`
	Message   string           `json:"message"`
}

// ManualFallback is returned when the executor collaborator cannot run
// a transition: the caller gets the migration SQL verbatim plus the
// statement that records the transition once the SQL has been run by
// hand. State is not changed.
type ManualFallback struct {
	MigrationName string `json:"migration_name"`
	SQLToExecute  string `json:"sql_to_execute"`
	ManualMarkSQL string `json:"manual_mark_sql"`
	Reason        string `json:"reason"`
}

type TransitionResult struct {
	Migration *store.Migration `json:"migration,omitempty"`
	Message   string           `json:"message"`
	Manual    *ManualFallback  `json:"manual_fallback,omitempty"`
}

type Summary struct {
	Total         int `json:"total"`
	AppliedCount  int `json:"applied_count"`
	PendingCount  int `json:"pending_count"`
	HighRiskCount int `json:"high_risk_count"`
}

type ListResult struct {
	Migrations []store.Migration `json:"migrations"`
	Summary    Summary           `json:"summary"`
}

// CreateMigration classifies the SQL pair and persists a new pending
// record with the verdict attached.
func (e *Engine) CreateMigration(ctx context.Context, caller Caller, p CreateParams) (*CreateResult, error) {
	if err := e.authorize(ctx, authz.OpCreateMigration, caller, map[string]any{"name": p.Name}); err != nil {
		return nil, err
	}

	assessment := risk.Classify(p.UpSQL, p.DownSQL)

	m, err := e.catalog.Insert(ctx, store.CreateInput{
		Name:        p.Name,
		UpSQL:       p.UpSQL,
		DownSQL:     p.DownSQL,
		Environment: e.cfg.Environment,
		Risk:        assessment,
		CreatedBy:   caller.Actor,
	})
	if err != nil {
		err = translateStoreError(err, p.Name)
		e.recordFailure(ctx, authz.OpCreateMigration, caller, map[string]any{"name": p.Name}, err)
		return nil, err
	}

	e.auditor.Record(ctx, authz.OpCreateMigration, map[string]any{
		"id":         m.ID.String(),
		"name":       m.Name,
		"risk_level": string(m.Risk.Level),
	}, caller.Actor, e.cfg.Environment)

	return &CreateResult{Migration: m, Message: "migration " + m.Name + " created"}, nil
}

// ApplyMigration moves a pending record to applied. High-risk records
// in production are refused outright; executor failure degrades to a
// manual payload with no state change.
func (e *Engine) ApplyMigration(ctx context.Context, caller Caller, id uuid.UUID) (*TransitionResult, error) {
	details := map[string]any{"id": id.String()}
	if err := e.authorize(ctx, authz.OpApplyMigration, caller, details); err != nil {
		return nil, err
	}

	m, err := e.getMigration(ctx, id)
	if err != nil {
		e.recordFailure(ctx, authz.OpApplyMigration, caller, details, err)
		return nil, err
	}
	details["name"] = m.Name

	// A rolled back migration may be applied again; only applied is
	// invalid as a source state.
	if m.Status == store.StatusApplied {
		err := &InvalidStateTransitionError{From: m.Status, To: store.StatusApplied}
		e.recordFailure(ctx, authz.OpApplyMigration, caller, details, err)
		return nil, err
	}

	if authz.ManualReviewRequired(m.Risk.Level, e.cfg.Environment) {
		err := &AuthorizationDeniedError{
			Reason:       "high-risk migration in production requires manual review; no confirmation value overrides this",
			ManualReview: true,
		}
		details["manual_review"] = true
		e.recordFailure(ctx, authz.OpApplyMigration, caller, details, err)
		return nil, err
	}

	result, usedExecutor, err := tryExecutorThenFallback(ctx,
		func(ctx context.Context) (*TransitionResult, error) {
			msg, err := e.execApply(ctx, m.ID)
			if err != nil {
				return nil, err
			}
			return &TransitionResult{Message: msg}, nil
		},
		func(_ context.Context, cause error) (*TransitionResult, error) {
			e.logger.Info("executor unavailable, returning manual apply payload",
				"migration", m.Name, "error", cause)
			return &TransitionResult{
				Message: "executor unavailable; execute the SQL manually, then run the mark statement",
				Manual: &ManualFallback{
					MigrationName: m.Name,
					SQLToExecute:  m.UpSQL,
					ManualMarkSQL: store.ManualMarkAppliedSQL(m.ID),
					Reason:        cause.Error(),
				},
			}, nil
		})
	if err != nil {
		return nil, err
	}

	if !usedExecutor {
		details["manual_fallback"] = true
		e.auditor.Record(ctx, authz.OpApplyMigration, details, caller.Actor, e.cfg.Environment)
		return result, nil
	}

	// The provisioned server-side function records the transition in
	// its own transaction, making this conditional update a no-op;
	// executors that only run the SQL leave the bookkeeping to us.
	// Either way the status predicate keeps two concurrent winners
	// impossible.
	if err := e.catalog.MarkApplied(ctx, m.ID, time.Now().UTC(), caller.Actor); err != nil && !errors.Is(err, store.ErrStateConflict) {
		return nil, &CollaboratorUnavailableError{Which: "catalog", Err: err}
	}
	if fresh, err := e.catalog.GetByID(ctx, m.ID); err == nil {
		result.Migration = fresh
	}

	details["status"] = string(store.StatusApplied)
	e.auditor.Record(ctx, authz.OpApplyMigration, details, caller.Actor, e.cfg.Environment)
	return result, nil
}

// RollbackMigration mirrors ApplyMigration for the applied ->
// rolled_back transition.
func (e *Engine) RollbackMigration(ctx context.Context, caller Caller, id uuid.UUID) (*TransitionResult, error) {
	details := map[string]any{"id": id.String()}
	if err := e.authorize(ctx, authz.OpRollbackMigration, caller, details); err != nil {
		return nil, err
	}

	m, err := e.getMigration(ctx, id)
	if err != nil {
		e.recordFailure(ctx, authz.OpRollbackMigration, caller, details, err)
		return nil, err
	}
	details["name"] = m.Name

	if m.Status != store.StatusApplied {
		err := &InvalidStateTransitionError{From: m.Status, To: store.StatusRolledBack}
		e.recordFailure(ctx, authz.OpRollbackMigration, caller, details, err)
		return nil, err
	}

	if authz.ManualReviewRequired(m.Risk.Level, e.cfg.Environment) {
		err := &AuthorizationDeniedError{
			Reason:       "high-risk migration in production requires manual review; no confirmation value overrides this",
			ManualReview: true,
		}
		details["manual_review"] = true
		e.recordFailure(ctx, authz.OpRollbackMigration, caller, details, err)
		return nil, err
	}

	result, usedExecutor, err := tryExecutorThenFallback(ctx,
		func(ctx context.Context) (*TransitionResult, error) {
			msg, err := e.execRollback(ctx, m.ID)
			if err != nil {
				return nil, err
			}
			return &TransitionResult{Message: msg}, nil
		},
		func(_ context.Context, cause error) (*TransitionResult, error) {
			e.logger.Info("executor unavailable, returning manual rollback payload",
				"migration", m.Name, "error", cause)
			return &TransitionResult{
				Message: "executor unavailable; execute the SQL manually, then run the mark statement",
				Manual: &ManualFallback{
					MigrationName: m.Name,
					SQLToExecute:  m.DownSQL,
					ManualMarkSQL: store.ManualMarkRolledBackSQL(m.ID),
					Reason:        cause.Error(),
				},
			}, nil
		})
	if err != nil {
		return nil, err
	}

	if !usedExecutor {
		details["manual_fallback"] = true
		e.auditor.Record(ctx, authz.OpRollbackMigration, details, caller.Actor, e.cfg.Environment)
		return result, nil
	}

	if err := e.catalog.MarkRolledBack(ctx, m.ID, time.Now().UTC(), caller.Actor); err != nil && !errors.Is(err, store.ErrStateConflict) {
		return nil, &CollaboratorUnavailableError{Which: "catalog", Err: err}
	}
	if fresh, err := e.catalog.GetByID(ctx, m.ID); err == nil {
		result.Migration = fresh
	}

	details["status"] = string(store.StatusRolledBack)
	e.auditor.Record(ctx, authz.OpRollbackMigration, details, caller.Actor, e.cfg.Environment)
	return result, nil
}

// ListMigrations returns all records in creation order with a summary
// computed at call time.
func (e *Engine) ListMigrations(ctx context.Context, caller Caller) (*ListResult, error) {
	if err := e.authorize(ctx, authz.OpListMigrations, caller, nil); err != nil {
		return nil, err
	}

	migrations, err := e.catalog.ListAll(ctx)
	if err != nil {
		err = translateStoreError(err, "")
		e.recordFailure(ctx, authz.OpListMigrations, caller, nil, err)
		return nil, err
	}

	summary := Summary{Total: len(migrations)}
	for _, m := range migrations {
		switch m.Status {
		case store.StatusApplied:
			summary.AppliedCount++
		case store.StatusPending:
			summary.PendingCount++
		}
		if m.Risk.Level == risk.LevelHigh {
			summary.HighRiskCount++
		}
	}

	e.auditor.Record(ctx, authz.OpListMigrations, map[string]any{"total": summary.Total}, caller.Actor, e.cfg.Environment)
	return &ListResult{Migrations: migrations, Summary: summary}, nil
}

func (e *Engine) execApply(ctx context.Context, id uuid.UUID) (string, error) {
	if e.exec == nil {
		return "", errors.New("no executor configured")
	}
	return e.exec.ApplyByID(ctx, id)
}

func (e *Engine) execRollback(ctx context.Context, id uuid.UUID) (string, error) {
	if e.exec == nil {
		return "", errors.New("no executor configured")
	}
	return e.exec.RollbackByID(ctx, id)
}

// authorize consults the policy and records a denial entry when the
// operation is refused.
func (e *Engine) authorize(ctx context.Context, op string, caller Caller, details map[string]any) error {
	decision := authz.Decide(authz.Input{
		Operation:           op,
		Environment:         e.cfg.Environment,
		AdminKeyConfigured:  e.cfg.AdminAPIKey,
		AdminKeyProvided:    caller.AdminKey,
		RequireConfirmation: e.cfg.RequireConfirmation,
		Confirmation:        caller.Confirmation,
	})
	if decision.Allowed {
		return nil
	}
	if details == nil {
		details = map[string]any{}
	}
	details["denied"] = true
	details["reason"] = decision.Reason
	e.auditor.Record(ctx, op, details, caller.Actor, e.cfg.Environment)
	return &AuthorizationDeniedError{Reason: decision.Reason}
}

func (e *Engine) recordFailure(ctx context.Context, op string, caller Caller, details map[string]any, cause error) {
	if details == nil {
		details = map[string]any{}
	}
	details["error"] = cause.Error()
	e.auditor.Record(ctx, op, details, caller.Actor, e.cfg.Environment)
}

func (e *Engine) getMigration(ctx context.Context, id uuid.UUID) (*store.Migration, error) {
	m, err := e.catalog.GetByID(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrMigrationNotFound):
			return nil, &NotFoundError{Entity: "migration", ID: id.String()}
		case errors.Is(err, store.ErrCatalogMissing):
			return nil, &CatalogNotProvisionedError{}
		}
		return nil, &CollaboratorUnavailableError{Which: "catalog", Err: err}
	}
	return m, nil
}

func translateStoreError(err error, name string) error {
	switch {
	case errors.Is(err, store.ErrNameTaken):
		return &DuplicateNameError{Name: name}
	case errors.Is(err, store.ErrCatalogMissing):
		return &CatalogNotProvisionedError{}
	case errors.Is(err, store.ErrMigrationNameEmpty), errors.Is(err, store.ErrMigrationSQLEmpty):
		return &ValidationError{Message: err.Error()}
	}
	return &CollaboratorUnavailableError{Which: "catalog", Err: err}
}
