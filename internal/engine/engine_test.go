package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"db_migration_control_plane/internal/audit"
	"db_migration_control_plane/internal/config"
	"db_migration_control_plane/internal/inspect"
	"db_migration_control_plane/internal/risk"
	"db_migration_control_plane/internal/store"
)

type fakeCatalog struct {
	mu        sync.Mutex
	items     []*store.Migration
	insertErr error
	listErr   error
}

func (f *fakeCatalog) Insert(_ context.Context, input store.CreateInput) (*store.Migration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, store.ErrMigrationNameEmpty
	}
	for _, m := range f.items {
		if m.Name == input.Name {
			return nil, store.ErrNameTaken
		}
	}
	m := &store.Migration{
		ID:          uuid.New(),
		Name:        input.Name,
		UpSQL:       input.UpSQL,
		DownSQL:     input.DownSQL,
		Status:      store.StatusPending,
		Environment: input.Environment,
		Risk:        input.Risk,
		CreatedBy:   input.CreatedBy,
		CreatedAt:   time.Now().UTC(),
	}
	f.items = append(f.items, m)
	return m, nil
}

func (f *fakeCatalog) GetByID(_ context.Context, id uuid.UUID) (*store.Migration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.items {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, store.ErrMigrationNotFound
}

func (f *fakeCatalog) ListAll(_ context.Context) ([]store.Migration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]store.Migration, len(f.items))
	for i, m := range f.items {
		out[i] = *m
	}
	return out, nil
}

func (f *fakeCatalog) MarkApplied(_ context.Context, id uuid.UUID, at time.Time, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.items {
		if m.ID == id {
			if m.Status == store.StatusApplied {
				return store.ErrStateConflict
			}
			m.Status = store.StatusApplied
			m.AppliedAt = &at
			m.RolledBackAt = nil
			m.AppliedBy = actor
			return nil
		}
	}
	return store.ErrMigrationNotFound
}

func (f *fakeCatalog) MarkRolledBack(_ context.Context, id uuid.UUID, at time.Time, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.items {
		if m.ID == id {
			if m.Status != store.StatusApplied {
				return store.ErrStateConflict
			}
			m.Status = store.StatusRolledBack
			m.RolledBackAt = &at
			m.AppliedAt = nil
			m.RolledBackBy = actor
			return nil
		}
	}
	return store.ErrMigrationNotFound
}

func (f *fakeCatalog) seed(m *store.Migration) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	f.items = append(f.items, m)
	return m.ID
}

type fakeExecutor struct {
	err       error
	applyIDs  []uuid.UUID
	rollbacks []uuid.UUID
}

func (f *fakeExecutor) ApplyByID(_ context.Context, id uuid.UUID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.applyIDs = append(f.applyIDs, id)
	return "applied via executor", nil
}

func (f *fakeExecutor) RollbackByID(_ context.Context, id uuid.UUID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.rollbacks = append(f.rollbacks, id)
	return "rolled back via executor", nil
}

func (f *fakeExecutor) TableInfo(_ context.Context) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`[{"table_name":"users","table_type":"BASE TABLE"}]`), nil
}

func (f *fakeExecutor) DescribeTable(_ context.Context, _ string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`[{"column_name":"id","data_type":"integer"}]`), nil
}

func (f *fakeExecutor) AllSchemas(_ context.Context) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"users":[{"column_name":"id"}]}`), nil
}

type fakeInspector struct {
	rowSecurityErr error
	noRLS          []string
}

func (f *fakeInspector) Provider() string { return "postgres" }
func (f *fakeInspector) Close() error     { return nil }

func (f *fakeInspector) ListTables(_ context.Context) ([]string, error) {
	return []string{"orders", "users"}, nil
}

func (f *fakeInspector) FetchSchema(_ context.Context, table string) (inspect.Schema, error) {
	users := inspect.Table{
		Name: "users",
		Columns: map[string]inspect.Column{
			"id":     {Name: "id", DataType: "integer"},
			"name":   {Name: "name", DataType: "text"},
			"active": {Name: "active", DataType: "boolean"},
		},
		PrimaryKey: []string{"id"},
	}
	schema := inspect.Schema{Tables: map[string]inspect.Table{"users": users}}
	if table != "" && table != "users" {
		return inspect.Schema{Tables: map[string]inspect.Table{}}, nil
	}
	return schema, nil
}

func (f *fakeInspector) FetchRows(_ context.Context, _ string, _ int) (inspect.RowSet, error) {
	return inspect.RowSet{
		Columns: []string{"id", "name", "active"},
		Rows:    [][]any{{int64(1), "O'Brien", true}},
	}, nil
}

func (f *fakeInspector) TablesWithoutRowSecurity(_ context.Context) ([]string, error) {
	if f.rowSecurityErr != nil {
		return nil, f.rowSecurityErr
	}
	return f.noRLS, nil
}

type captureSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *captureSink) Write(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *captureSink) byOperation(op string) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.Operation == op {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	engine    *Engine
	catalog   *fakeCatalog
	executor  *fakeExecutor
	inspector *fakeInspector
	sink      *captureSink
}

func newHarness(cfg config.Config) *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		catalog:   &fakeCatalog{},
		executor:  &fakeExecutor{},
		inspector: &fakeInspector{},
		sink:      &captureSink{},
	}
	recorder := audit.NewRecorder(h.sink, logger)
	h.engine = New(cfg, h.catalog, h.executor, h.inspector, recorder, logger)
	return h
}

func devConfig() config.Config {
	return config.Config{Environment: config.EnvDevelopment, RequireConfirmation: true}
}

func prodConfig(adminKey string) config.Config {
	return config.Config{Environment: config.EnvProduction, AdminAPIKey: adminKey, RequireConfirmation: true}
}

func TestCreateMigrationClassifiesAndLists(t *testing.T) {
	h := newHarness(devConfig())
	ctx := context.Background()

	res, err := h.engine.CreateMigration(ctx, Caller{Actor: "alice"}, CreateParams{
		Name:    "add_users",
		UpSQL:   "CREATE TABLE users (id INT)",
		DownSQL: "DROP TABLE users",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Migration.Risk.Level != risk.LevelHigh {
		t.Fatalf("risk level = %s, want high", res.Migration.Risk.Level)
	}
	var found bool
	for _, w := range res.Migration.Risk.Warnings {
		if strings.Contains(w, "DROP TABLE") {
			found = true
		}
	}
	if !found {
		t.Errorf("no DROP TABLE warning in %v", res.Migration.Risk.Warnings)
	}

	list, err := h.engine.ListMigrations(ctx, Caller{Actor: "alice"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Summary.PendingCount < 1 {
		t.Errorf("pending_count = %d, want >= 1", list.Summary.PendingCount)
	}
	if list.Summary.HighRiskCount != 1 {
		t.Errorf("high_risk_count = %d, want 1", list.Summary.HighRiskCount)
	}
	if list.Summary.Total != 1 || list.Summary.AppliedCount != 0 {
		t.Errorf("unexpected summary %+v", list.Summary)
	}
}

func TestCreateMigrationDuplicateName(t *testing.T) {
	h := newHarness(devConfig())
	ctx := context.Background()
	params := CreateParams{Name: "dup", UpSQL: "SELECT 1", DownSQL: "SELECT 1"}

	if _, err := h.engine.CreateMigration(ctx, Caller{}, params); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := h.engine.CreateMigration(ctx, Caller{}, params)
	var dup *DuplicateNameError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateNameError", err)
	}
	if dup.Name != "dup" {
		t.Errorf("dup.Name = %q", dup.Name)
	}
}

func TestCreateMigrationCatalogNotProvisioned(t *testing.T) {
	h := newHarness(devConfig())
	h.catalog.insertErr = store.ErrCatalogMissing

	_, err := h.engine.CreateMigration(context.Background(), Caller{}, CreateParams{
		Name: "x", UpSQL: "SELECT 1", DownSQL: "SELECT 1",
	})
	var missing *CatalogNotProvisionedError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want CatalogNotProvisionedError", err)
	}
}

func TestApplyMigrationHappyPath(t *testing.T) {
	h := newHarness(devConfig())
	ctx := context.Background()
	id := h.catalog.seed(&store.Migration{Name: "m1", UpSQL: "SELECT 1", DownSQL: "SELECT 1", Status: store.StatusPending})

	res, err := h.engine.ApplyMigration(ctx, Caller{Actor: "alice"}, id)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Manual != nil {
		t.Fatal("unexpected manual fallback")
	}
	if res.Migration == nil || res.Migration.Status != store.StatusApplied {
		t.Fatalf("migration status = %+v, want applied", res.Migration)
	}
	if res.Migration.AppliedAt == nil || res.Migration.RolledBackAt != nil {
		t.Errorf("timestamps wrong: applied_at=%v rolled_back_at=%v", res.Migration.AppliedAt, res.Migration.RolledBackAt)
	}
	if len(h.executor.applyIDs) != 1 || h.executor.applyIDs[0] != id {
		t.Errorf("executor calls = %v", h.executor.applyIDs)
	}
	if entries := h.sink.byOperation("apply_migration"); len(entries) != 1 {
		t.Errorf("audit entries = %d, want 1", len(entries))
	}
}

func TestApplyFromAppliedFails(t *testing.T) {
	h := newHarness(devConfig())
	now := time.Now().UTC()
	id := h.catalog.seed(&store.Migration{Name: "m1", UpSQL: "a", DownSQL: "b", Status: store.StatusApplied, AppliedAt: &now})

	_, err := h.engine.ApplyMigration(context.Background(), Caller{}, id)
	var invalid *InvalidStateTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidStateTransitionError", err)
	}
	if invalid.From != store.StatusApplied {
		t.Errorf("From = %s", invalid.From)
	}
	m, _ := h.catalog.GetByID(context.Background(), id)
	if m.Status != store.StatusApplied {
		t.Errorf("state changed to %s", m.Status)
	}
	if entries := h.sink.byOperation("apply_migration"); len(entries) != 1 {
		t.Errorf("failed attempt should still audit, got %d entries", len(entries))
	}
}

func TestRollbackFromPendingFails(t *testing.T) {
	h := newHarness(devConfig())
	id := h.catalog.seed(&store.Migration{Name: "m1", UpSQL: "a", DownSQL: "b", Status: store.StatusPending})

	_, err := h.engine.RollbackMigration(context.Background(), Caller{}, id)
	var invalid *InvalidStateTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidStateTransitionError", err)
	}
	if invalid.From != store.StatusPending || invalid.To != store.StatusRolledBack {
		t.Errorf("transition = %s -> %s", invalid.From, invalid.To)
	}
}

func TestApplyRollbackApplyCycle(t *testing.T) {
	h := newHarness(devConfig())
	ctx := context.Background()
	id := h.catalog.seed(&store.Migration{Name: "m1", UpSQL: "a", DownSQL: "b", Status: store.StatusPending})

	if _, err := h.engine.ApplyMigration(ctx, Caller{}, id); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	res, err := h.engine.RollbackMigration(ctx, Caller{}, id)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if res.Migration.Status != store.StatusRolledBack || res.Migration.AppliedAt != nil {
		t.Fatalf("after rollback: %+v", res.Migration)
	}
	// Rolled back migrations can be applied again.
	res, err = h.engine.ApplyMigration(ctx, Caller{}, id)
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if res.Migration.Status != store.StatusApplied || res.Migration.RolledBackAt != nil {
		t.Fatalf("after re-apply: %+v", res.Migration)
	}
}

func TestApplyExecutorFallback(t *testing.T) {
	h := newHarness(devConfig())
	h.executor.err = errors.New("function does not exist")
	id := h.catalog.seed(&store.Migration{Name: "m1", UpSQL: "CREATE TABLE t (id INT)", DownSQL: "DROP TABLE t", Status: store.StatusPending})

	res, err := h.engine.ApplyMigration(context.Background(), Caller{}, id)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Manual == nil {
		t.Fatal("expected manual fallback payload")
	}
	if res.Manual.SQLToExecute != "CREATE TABLE t (id INT)" {
		t.Errorf("sql_to_execute = %q", res.Manual.SQLToExecute)
	}
	if !strings.Contains(res.Manual.ManualMarkSQL, "status = 'applied'") {
		t.Errorf("manual mark sql = %q", res.Manual.ManualMarkSQL)
	}
	if !strings.Contains(res.Manual.ManualMarkSQL, id.String()) {
		t.Errorf("manual mark sql missing id: %q", res.Manual.ManualMarkSQL)
	}

	m, _ := h.catalog.GetByID(context.Background(), id)
	if m.Status != store.StatusPending {
		t.Errorf("state changed to %s on fallback", m.Status)
	}
}

func TestRollbackExecutorFallback(t *testing.T) {
	h := newHarness(devConfig())
	h.executor.err = errors.New("down")
	now := time.Now().UTC()
	id := h.catalog.seed(&store.Migration{Name: "m1", UpSQL: "a", DownSQL: "DROP TABLE t", Status: store.StatusApplied, AppliedAt: &now})

	res, err := h.engine.RollbackMigration(context.Background(), Caller{}, id)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if res.Manual == nil || res.Manual.SQLToExecute != "DROP TABLE t" {
		t.Fatalf("manual payload = %+v", res.Manual)
	}
	if !strings.Contains(res.Manual.ManualMarkSQL, "status = 'rolled_back'") {
		t.Errorf("manual mark sql = %q", res.Manual.ManualMarkSQL)
	}
	m, _ := h.catalog.GetByID(context.Background(), id)
	if m.Status != store.StatusApplied {
		t.Errorf("state changed to %s on fallback", m.Status)
	}
}

func TestApplyNotFound(t *testing.T) {
	h := newHarness(devConfig())
	_, err := h.engine.ApplyMigration(context.Background(), Caller{}, uuid.New())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestHighRiskProductionHardStop(t *testing.T) {
	h := newHarness(prodConfig(""))
	id := h.catalog.seed(&store.Migration{
		Name: "drop_all", UpSQL: "DROP TABLE users", DownSQL: "SELECT 1",
		Status: store.StatusPending,
		Risk:   risk.Assessment{Level: risk.LevelHigh},
	})

	_, err := h.engine.ApplyMigration(context.Background(), Caller{Confirmation: "yes"}, id)
	var denied *AuthorizationDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want AuthorizationDeniedError", err)
	}
	if !denied.ManualReview {
		t.Error("denial should carry the manual review flag")
	}
	if len(h.executor.applyIDs) != 0 {
		t.Error("executor must not be reached")
	}
	m, _ := h.catalog.GetByID(context.Background(), id)
	if m.Status != store.StatusPending {
		t.Errorf("state changed to %s", m.Status)
	}
}

func TestProductionConfirmationGate(t *testing.T) {
	h := newHarness(prodConfig(""))
	id := h.catalog.seed(&store.Migration{
		Name: "low", UpSQL: "SELECT 1", DownSQL: "SELECT 1",
		Status: store.StatusPending,
		Risk:   risk.Assessment{Level: risk.LevelLow},
	})

	_, err := h.engine.ApplyMigration(context.Background(), Caller{}, id)
	var denied *AuthorizationDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want AuthorizationDeniedError", err)
	}
	if !strings.Contains(denied.Reason, "confirmation required") {
		t.Errorf("reason = %q", denied.Reason)
	}

	res, err := h.engine.ApplyMigration(context.Background(), Caller{Confirmation: "yes"}, id)
	if err != nil {
		t.Fatalf("confirmed apply: %v", err)
	}
	if res.Migration.Status != store.StatusApplied {
		t.Errorf("status = %s", res.Migration.Status)
	}
	if len(h.executor.applyIDs) != 1 {
		t.Errorf("executor calls = %d, want 1", len(h.executor.applyIDs))
	}
}

func TestWrongAdminKeyDeniedForEveryOperation(t *testing.T) {
	h := newHarness(config.Config{Environment: config.EnvDevelopment, AdminAPIKey: "secret", RequireConfirmation: true})
	ctx := context.Background()
	caller := Caller{AdminKey: "wrong"}

	checks := map[string]func() error{
		"create_migration": func() error {
			_, err := h.engine.CreateMigration(ctx, caller, CreateParams{Name: "n", UpSQL: "a", DownSQL: "b"})
			return err
		},
		"list_migrations": func() error {
			_, err := h.engine.ListMigrations(ctx, caller)
			return err
		},
		"apply_migration": func() error {
			_, err := h.engine.ApplyMigration(ctx, caller, uuid.New())
			return err
		},
		"list_tables": func() error {
			_, err := h.engine.ListTables(ctx, caller)
			return err
		},
		"check_security_status": func() error {
			_, err := h.engine.CheckSecurityStatus(ctx, caller)
			return err
		},
		"setup_migrations_table": func() error {
			_, err := h.engine.SetupMigrationsTable(ctx, caller)
			return err
		},
	}
	for name, call := range checks {
		var denied *AuthorizationDeniedError
		if err := call(); !errors.As(err, &denied) {
			t.Errorf("%s: err = %v, want AuthorizationDeniedError", name, err)
			continue
		}
		if denied.Reason != "invalid admin key" {
			t.Errorf("%s: reason = %q", name, denied.Reason)
		}
	}
}

func TestAuditSinkFailureDoesNotAbort(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := &fakeCatalog{}
	recorder := audit.NewRecorder(failingSink{}, logger)
	eng := New(devConfig(), catalog, &fakeExecutor{}, &fakeInspector{}, recorder, logger)

	if _, err := eng.CreateMigration(context.Background(), Caller{}, CreateParams{
		Name: "n", UpSQL: "SELECT 1", DownSQL: "SELECT 1",
	}); err != nil {
		t.Fatalf("create with failing sink: %v", err)
	}
}

type failingSink struct{}

func (failingSink) Write(context.Context, audit.Entry) error {
	return errors.New("sink down")
}
