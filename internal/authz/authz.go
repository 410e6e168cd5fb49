// Package authz decides whether an administrative operation may
// proceed. The decision is pure: it reads only caller-supplied and
// process-configured inputs, never the database.
package authz

import (
	"db_migration_control_plane/internal/config"
	"db_migration_control_plane/internal/risk"
)

// Operation names shared by both transports and the audit trail.
const (
	OpCreateMigration     = "create_migration"
	OpApplyMigration      = "apply_migration"
	OpRollbackMigration   = "rollback_migration"
	OpListMigrations      = "list_migrations"
	OpSetupMigrations     = "setup_migrations_table"
	OpListTables          = "list_tables"
	OpGetSchema           = "get_schema"
	OpCheckSecurityStatus = "check_security_status"
	OpEnableRLS           = "enable_rls_on_table"
	OpBackupTable         = "backup_table"
	OpCloneTable          = "clone_table_structure"
	OpGenerateSeedData    = "generate_seed_data"
	OpExecuteSQLInfo      = "execute_sql_info"
)

// Confirmation must be this exact literal; "YES", "true" and friends
// are treated as absent.
const ConfirmationToken = "yes"

// destructiveOperations require confirmation in production.
var destructiveOperations = map[string]bool{
	OpApplyMigration:    true,
	OpRollbackMigration: true,
	OpExecuteSQLInfo:    true,
}

type Input struct {
	Operation           string
	Environment         string
	AdminKeyConfigured  string
	AdminKeyProvided    string
	RequireConfirmation bool
	Confirmation        string

	// RiskLevel travels with the context for auditing. The ordered
	// rules below do not consult it; the High-risk production stop is
	// a lifecycle precondition, see ManualReviewRequired.
	RiskLevel risk.Level
}

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Destructive reports whether an operation belongs to the
// confirmation-gated set.
func Destructive(op string) bool { return destructiveOperations[op] }

// Decide evaluates the rules in order; the first applicable denial
// wins.
//
//  1. A configured admin key must match exactly, for every operation.
//  2. In production, destructive operations require the literal
//     confirmation token when confirmation is globally required.
//  3. Otherwise allow.
func Decide(in Input) Decision {
	if in.AdminKeyConfigured != "" && in.AdminKeyProvided != in.AdminKeyConfigured {
		return deny("invalid admin key")
	}

	if in.Environment == config.EnvProduction && destructiveOperations[in.Operation] && in.RequireConfirmation {
		if in.Confirmation != ConfirmationToken {
			return deny(`confirmation required: pass confirm="yes" to run ` + in.Operation + ` in production`)
		}
	}

	return allow()
}

// ManualReviewRequired reports whether a migration transition must be
// refused outright and routed to human review. This is a hard stop,
// not a confirmation gate: no confirmation value overrides it.
func ManualReviewRequired(level risk.Level, environment string) bool {
	return level == risk.LevelHigh && environment == config.EnvProduction
}
