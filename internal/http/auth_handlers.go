package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"db_migration_control_plane/internal/auth"
)

type loginRequest struct {
	Actor    string `json:"actor"`
	AdminKey string `json:"admin_key"`
}

// login verifies the admin key (when one is configured) and issues a
// session cookie naming the actor for audit attribution.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusNotImplemented, "sessions_disabled", "set SESSION_KEY to enable login")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return
	}
	if strings.TrimSpace(req.Actor) == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "actor is required")
		return
	}
	if s.cfg.AdminAPIKey != "" && req.AdminKey != s.cfg.AdminAPIKey {
		writeError(w, http.StatusForbidden, "authorization_denied", "invalid admin key")
		return
	}

	if err := s.sessions.SetSession(w, auth.Session{Actor: req.Actor, IssuedAt: time.Now().UTC()}); err != nil {
		s.logger.Error("session encode failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor": req.Actor})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if s.sessions != nil {
		s.sessions.ClearSession(w)
	}
	w.WriteHeader(http.StatusNoContent)
}
