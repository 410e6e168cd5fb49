package engine

import (
	"fmt"

	"db_migration_control_plane/internal/store"
)

// AuthorizationDeniedError covers both policy denials and the
// high-risk production hard stop; ManualReview distinguishes the
// latter so callers know no confirmation value will help.
type AuthorizationDeniedError struct {
	Reason       string
	ManualReview bool
}

func (e *AuthorizationDeniedError) Error() string {
	return "authorization denied: " + e.Reason
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

type InvalidStateTransitionError struct {
	From store.Status
	To   store.Status
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot transition migration from %s to %s", e.From, e.To)
}

type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("migration name %q already exists", e.Name)
}

// CatalogNotProvisionedError tells the caller to run the provisioning
// SQL first; transports surface it with a setup_required flag.
type CatalogNotProvisionedError struct{}

func (e *CatalogNotProvisionedError) Error() string {
	return "migration catalog has not been provisioned; run setup_migrations_table first"
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// CollaboratorUnavailableError wraps a failure of one of the external
// collaborators (catalog, executor, inspection target).
type CollaboratorUnavailableError struct {
	Which string
	Err   error
}

func (e *CollaboratorUnavailableError) Error() string {
	if e.Err == nil {
		return e.Which + " unavailable"
	}
	return fmt.Sprintf("%s unavailable: %v", e.Which, e.Err)
}

func (e *CollaboratorUnavailableError) Unwrap() error {
	return e.Err
}
