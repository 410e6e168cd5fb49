package httpserver

import (
	"errors"
	"net/http"

	"db_migration_control_plane/internal/engine"
)

// writeEngineError maps the engine's error taxonomy onto status codes
// and the JSON error envelope.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var (
		denied       *engine.AuthorizationDeniedError
		notFound     *engine.NotFoundError
		invalid      *engine.InvalidStateTransitionError
		duplicate    *engine.DuplicateNameError
		missing      *engine.CatalogNotProvisionedError
		validation   *engine.ValidationError
		collaborator *engine.CollaboratorUnavailableError
	)
	switch {
	case errors.As(err, &denied):
		code := "authorization_denied"
		if denied.ManualReview {
			code = "manual_review_required"
		}
		writeError(w, http.StatusForbidden, code, denied.Reason)
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, "invalid_state_transition", err.Error())
	case errors.As(err, &duplicate):
		writeError(w, http.StatusConflict, "duplicate_name", err.Error())
	case errors.As(err, &missing):
		writeError(w, http.StatusConflict, "setup_required", err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.As(err, &collaborator):
		writeError(w, http.StatusServiceUnavailable, "collaborator_unavailable", err.Error())
	default:
		s.logger.Error("unhandled engine error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "operation failed")
	}
}
