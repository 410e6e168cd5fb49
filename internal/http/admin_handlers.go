package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type adminRequest struct {
	AdminKey string `json:"admin_key"`
	Confirm  string `json:"confirm"`
}

type cloneRequest struct {
	SourceTable string `json:"source_table"`
	TargetTable string `json:"target_table"`
	AdminKey    string `json:"admin_key"`
}

type backupRequest struct {
	IncludeData *bool  `json:"include_data"`
	AdminKey    string `json:"admin_key"`
}

type seedRequest struct {
	NumRows  int    `json:"num_rows"`
	AdminKey string `json:"admin_key"`
}

type analyzeRequest struct {
	SQL      string `json:"sql"`
	AdminKey string `json:"admin_key"`
	Confirm  string `json:"confirm"`
}

func (s *Server) setupMigrationsTable(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	res, err := s.engine.SetupMigrationsTable(r.Context(), s.callerFrom(r, req.AdminKey, req.Confirm))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) checkSecurityStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.CheckSecurityStatus(r.Context(), s.callerFrom(r, "", ""))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ListTables(r.Context(), s.callerFrom(r, "", ""))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getSchema(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	res, err := s.engine.GetSchema(r.Context(), s.callerFrom(r, "", ""), table)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) enableRLS(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	res, err := s.engine.EnableRLSOnTable(r.Context(), s.callerFrom(r, req.AdminKey, req.Confirm), chi.URLParam(r, "table"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) backupTable(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	includeData := true
	if req.IncludeData != nil {
		includeData = *req.IncludeData
	}
	res, err := s.engine.BackupTable(r.Context(), s.callerFrom(r, req.AdminKey, ""), chi.URLParam(r, "table"), includeData)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cloneTable(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return
	}
	res, err := s.engine.CloneTableStructure(r.Context(), s.callerFrom(r, req.AdminKey, ""), req.SourceTable, req.TargetTable)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) generateSeedData(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.NumRows == 0 {
		if n, err := strconv.Atoi(r.URL.Query().Get("num_rows")); err == nil {
			req.NumRows = n
		}
	}
	res, err := s.engine.GenerateSeedData(r.Context(), s.callerFrom(r, req.AdminKey, ""), chi.URLParam(r, "table"), req.NumRows)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) executeSQLInfo(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return
	}
	res, err := s.engine.ExecuteSQLInfo(r.Context(), s.callerFrom(r, req.AdminKey, req.Confirm), req.SQL)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
