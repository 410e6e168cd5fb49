// Package provision carries the SQL an operator must run to set up
// the migration catalog, the audit trail, and the optional server-side
// executor functions. The control plane only ever renders this SQL as
// text; it never executes it itself.
package provision

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var files embed.FS

const catalogFile = "sql/001_migrations_catalog.sql"

// CatalogSQL returns the statement that creates the migration catalog
// table.
func CatalogSQL() string {
	body, err := fs.ReadFile(files, catalogFile)
	if err != nil {
		// The file is embedded at compile time; a read failure is a
		// build defect, not a runtime condition.
		panic(err)
	}
	return string(body)
}

// AllSQL concatenates every provisioning file in filename order.
func AllSQL() string {
	names, err := fs.Glob(files, "sql/*.sql")
	if err != nil {
		panic(err)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		body, err := fs.ReadFile(files, name)
		if err != nil {
			panic(err)
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.Write(body)
	}
	return b.String()
}

// Instructions describe how an operator applies the SQL.
func Instructions() []string {
	return []string{
		"1. Copy the SQL above",
		"2. Open a SQL console connected to the target database as a privileged role",
		"3. Paste and execute the SQL",
		"4. Re-run check_security_status to verify the setup",
	}
}
