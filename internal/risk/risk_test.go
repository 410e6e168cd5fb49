package risk

import (
	"strings"
	"testing"
)

func TestClassifyLowByDefault(t *testing.T) {
	a := Classify("INSERT INTO users (id) VALUES (1)", "SELECT 1")
	if a.Level != LevelLow {
		t.Fatalf("expected low, got %s", a.Level)
	}
	if len(a.Warnings) != 0 || len(a.Recommendations) != 0 {
		t.Fatalf("expected empty warnings/recommendations, got %v / %v", a.Warnings, a.Recommendations)
	}
}

func TestClassifyHighFromDownSQL(t *testing.T) {
	a := Classify("CREATE TABLE users (id serial) WITH ROW LEVEL SECURITY", "DROP TABLE users")
	if a.Level != LevelHigh {
		t.Fatalf("expected high, got %s", a.Level)
	}
	found := false
	for _, w := range a.Warnings {
		if strings.Contains(w, "DROP TABLE") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning naming DROP TABLE, got %v", a.Warnings)
	}
}

func TestClassifyDuplicateKeywordWarnsPerText(t *testing.T) {
	a := Classify("TRUNCATE audit_log", "TRUNCATE audit_log")
	if a.Level != LevelHigh {
		t.Fatalf("expected high, got %s", a.Level)
	}
	count := 0
	for _, w := range a.Warnings {
		if strings.Contains(w, "TRUNCATE") {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected one warning per text, got %d (%v)", count, a.Warnings)
	}
}

func TestClassifyMediumNeverDowngradesHigh(t *testing.T) {
	a := Classify("DELETE FROM users; ALTER TABLE users ADD COLUMN x int", "")
	if a.Level != LevelHigh {
		t.Fatalf("expected high, got %s", a.Level)
	}
}

func TestClassifyMediumFromLow(t *testing.T) {
	a := Classify("ALTER TABLE users ADD COLUMN x int", "")
	if a.Level != LevelMedium {
		t.Fatalf("expected medium, got %s", a.Level)
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	a := Classify("drop table users", "")
	if a.Level != LevelHigh {
		t.Fatalf("expected high for lowercase keyword, got %s", a.Level)
	}
}

func TestClassifyCommentStillTriggers(t *testing.T) {
	// Substring semantics are intentional; comments are not excluded.
	a := Classify("-- do not DROP TABLE here\nSELECT 1", "")
	if a.Level != LevelHigh {
		t.Fatalf("expected high for keyword inside comment, got %s", a.Level)
	}
}

func TestClassifyRLSAdvisory(t *testing.T) {
	a := Classify("CREATE TABLE notes (id serial primary key)", "")
	if a.Level != LevelLow {
		t.Fatalf("advisory must not change level, got %s", a.Level)
	}
	if len(a.Warnings) != 1 || len(a.Recommendations) != 1 {
		t.Fatalf("expected one warning and one recommendation, got %v / %v", a.Warnings, a.Recommendations)
	}

	withRLS := Classify("CREATE TABLE notes (id serial); ALTER TABLE notes ENABLE ROW LEVEL SECURITY", "")
	for _, w := range withRLS.Warnings {
		if strings.Contains(w, "ROW LEVEL SECURITY") {
			t.Fatalf("did not expect RLS advisory when RLS is mentioned: %v", withRLS.Warnings)
		}
	}
}

func TestClassifyIdempotentOnLow(t *testing.T) {
	up, down := "INSERT INTO t (a) VALUES (1)", ""
	first := Classify(up, down)
	second := Classify(up, down)
	if first.Level != second.Level || len(first.Warnings) != len(second.Warnings) {
		t.Fatal("classification must be stable under reclassification")
	}
}

func TestClassifyMonotonicUnderAddedKeywords(t *testing.T) {
	base := Classify("DROP DATABASE prod", "")
	if base.Level != LevelHigh {
		t.Fatalf("expected high, got %s", base.Level)
	}
	extended := Classify("DROP DATABASE prod; DELETE FROM users", "TRUNCATE sessions")
	if extended.Level != LevelHigh {
		t.Fatalf("adding keywords must never lower a high verdict, got %s", extended.Level)
	}
	if len(extended.Warnings) <= len(base.Warnings) {
		t.Fatalf("expected additional warnings, got %v", extended.Warnings)
	}
}
