package inspect

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BackupSQL renders a table snapshot as INSERT statements an operator
// can replay. Literal formatting is part of the contract: single
// quotes are doubled, booleans are bare TRUE/FALSE, NULL stays
// unquoted, and numbers keep their plain form.
func BackupSQL(table string, data RowSet, includeData bool, generatedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Backup for table: %s\n", table)
	fmt.Fprintf(&b, "-- Generated at: %s\n\n", generatedAt.UTC().Format(time.RFC3339))

	if !includeData {
		fmt.Fprintf(&b, "-- Structure only backup for: %s\n", table)
		b.WriteString("-- Use pg_dump or your provider's backup tooling for structure\n")
		return b.String()
	}

	fmt.Fprintf(&b, "-- Data for table: %s\n", table)
	fmt.Fprintf(&b, "-- %d rows\n\n", len(data.Rows))

	for _, row := range data.Rows {
		b.WriteString(InsertStatement(table, data.Columns, row))
		b.WriteByte('\n')
	}
	return b.String()
}

// InsertStatement renders one row as a single INSERT.
func InsertStatement(table string, columns []string, values []any) string {
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = QuoteIdent(c)
	}
	literals := make([]string, len(values))
	for i, v := range values {
		literals[i] = Literal(v)
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s);`,
		QuoteIdent(table),
		strings.Join(quotedCols, ", "),
		strings.Join(literals, ", "))
}

// Literal renders a single Go value as an SQL literal.
func Literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return quoteString(val)
	case []byte:
		return quoteString(string(val))
	case time.Time:
		return quoteString(val.UTC().Format(time.RFC3339))
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(val)
	default:
		return quoteString(fmt.Sprint(val))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
