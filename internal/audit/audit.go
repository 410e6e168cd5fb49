// Package audit records every attempted operation for traceability.
// Recording is best-effort: a sink failure is logged and swallowed so
// it can never abort the operation that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Entry struct {
	ID          uuid.UUID      `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Operation   string         `json:"operation"`
	Details     map[string]any `json:"details"`
	Actor       string         `json:"actor,omitempty"`
	Environment string         `json:"environment"`
}

// Sink receives finished entries. Implementations own durability; the
// recorder never retries.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

type Recorder struct {
	sink   Sink
	logger *slog.Logger
}

func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger}
}

// Record stamps the current time, assembles the entry, and hands it to
// the sink. Fire and forget: the caller gets the entry back for its
// response payloads, never an error.
func (r *Recorder) Record(ctx context.Context, operation string, details map[string]any, actor, environment string) Entry {
	if details == nil {
		details = map[string]any{}
	}
	entry := Entry{
		ID:          uuid.New(),
		Timestamp:   time.Now().UTC(),
		Operation:   operation,
		Details:     details,
		Actor:       actor,
		Environment: environment,
	}
	if r.sink != nil {
		if err := r.sink.Write(ctx, entry); err != nil && r.logger != nil {
			r.logger.Error("audit write failed", "operation", operation, "error", err)
		}
	}
	return entry
}

// PGSink appends entries to the audit_entries table. The table is part
// of the provisioning SQL; writes against an unprovisioned database
// fail and are logged by the recorder.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Write(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO audit_entries (id, occurred_at, operation, details, actor, environment)
VALUES ($1, $2, $3, $4, $5, $6)
`, entry.ID, entry.Timestamp, entry.Operation, payload, entry.Actor, entry.Environment); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// SlogSink mirrors entries into the process log. Used by the MCP
// binary alongside the database sink during local debugging.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Write(_ context.Context, entry Entry) error {
	s.Logger.Info("audit",
		"operation", entry.Operation,
		"actor", entry.Actor,
		"environment", entry.Environment,
		"details", entry.Details,
	)
	return nil
}
