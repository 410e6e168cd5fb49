package httpserver

import (
	"net/http"

	"db_migration_control_plane/internal/engine"
)

const (
	adminKeyHeader = "X-Admin-Key"
	actorHeader    = "X-Actor"
)

// callerFrom assembles the per-request identity. The admin key comes
// from the header or a body field, the actor from the session cookie
// when present, otherwise from a header. Body fields win over headers
// so scripted callers can keep everything in one payload.
func (s *Server) callerFrom(r *http.Request, bodyAdminKey, bodyConfirm string) engine.Caller {
	caller := engine.Caller{
		Actor:        r.Header.Get(actorHeader),
		AdminKey:     r.Header.Get(adminKeyHeader),
		Confirmation: bodyConfirm,
	}
	if bodyAdminKey != "" {
		caller.AdminKey = bodyAdminKey
	}
	if s.sessions != nil {
		if session, err := s.sessions.GetSession(r); err == nil && session.Actor != "" {
			caller.Actor = session.Actor
		}
	}
	return caller
}
