// Package risk classifies migration SQL by scanning for destructive
// keywords. The scan is a case-insensitive substring match, not a
// parser: a keyword inside a comment or string literal still counts,
// and destructive SQL phrased without these keywords does not. The
// authorization gates key off this exact behavior, so it must not be
// "fixed" into a grammar-level analysis.
package risk

import "strings"

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

type Assessment struct {
	Level           Level    `json:"level"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
}

// Keyword order is part of the contract: warnings appear in set order,
// up_sql before down_sql within each keyword.
var highRiskKeywords = []string{
	"DROP TABLE",
	"DROP DATABASE",
	"DELETE FROM",
	"TRUNCATE",
}

var mediumRiskKeywords = []string{
	"ALTER TABLE",
	"DROP COLUMN",
	"DROP INDEX",
}

// Classify inspects the forward and reverse SQL of a migration.
// downSQL may be empty for read-only analysis.
func Classify(upSQL, downSQL string) Assessment {
	a := Assessment{Level: LevelLow}

	up := strings.ToUpper(upSQL)
	down := strings.ToUpper(downSQL)

	for _, kw := range highRiskKeywords {
		if strings.Contains(up, kw) {
			a.Level = LevelHigh
			a.Warnings = append(a.Warnings, "High-risk operation in up_sql: "+kw)
		}
		if strings.Contains(down, kw) {
			a.Level = LevelHigh
			a.Warnings = append(a.Warnings, "High-risk operation in down_sql: "+kw)
		}
	}

	for _, kw := range mediumRiskKeywords {
		if strings.Contains(up, kw) {
			if a.Level == LevelLow {
				a.Level = LevelMedium
			}
			a.Warnings = append(a.Warnings, "Schema change in up_sql: "+kw)
		}
		if strings.Contains(down, kw) {
			if a.Level == LevelLow {
				a.Level = LevelMedium
			}
			a.Warnings = append(a.Warnings, "Schema change in down_sql: "+kw)
		}
	}

	// Advisory only; never changes the level.
	if strings.Contains(up, "CREATE TABLE") && !strings.Contains(up, "ROW LEVEL SECURITY") {
		a.Warnings = append(a.Warnings, "New table created without ROW LEVEL SECURITY")
		a.Recommendations = append(a.Recommendations, "Enable row level security on new tables: ALTER TABLE <table> ENABLE ROW LEVEL SECURITY;")
	}

	return a
}
