package httpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"db_migration_control_plane/internal/engine"
)

type createMigrationRequest struct {
	Name     string `json:"name"`
	UpSQL    string `json:"up_sql"`
	DownSQL  string `json:"down_sql"`
	AdminKey string `json:"admin_key"`
}

type transitionRequest struct {
	AdminKey string `json:"admin_key"`
	Confirm  string `json:"confirm"`
}

func (s *Server) createMigration(w http.ResponseWriter, r *http.Request) {
	var req createMigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return
	}

	res, err := s.engine.CreateMigration(r.Context(), s.callerFrom(r, req.AdminKey, ""), engine.CreateParams{
		Name:    req.Name,
		UpSQL:   req.UpSQL,
		DownSQL: req.DownSQL,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listMigrations(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ListMigrations(r.Context(), s.callerFrom(r, "", ""))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) applyMigration(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.ApplyMigration)
}

func (s *Server) rollbackMigration(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.RollbackMigration)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, caller engine.Caller, id uuid.UUID) (*engine.TransitionResult, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid migration id")
		return
	}
	var req transitionRequest
	if r.Body != nil {
		// An empty body is fine; confirmation and key can also arrive
		// via headers.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	res, err := run(r.Context(), s.callerFrom(r, req.AdminKey, req.Confirm), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
