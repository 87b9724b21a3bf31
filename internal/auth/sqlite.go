package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Helpers shared by the SQLite repositories in this package.

// Timestamps are stored as second-precision RFC 3339 text in UTC.
func sqlTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseSQLTime reads a column written by sqlTime. Rows are only written by
// this package, so a malformed value yields the zero time.
func parseSQLTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // zero on malformed
	return t
}

// stamp returns now truncated to what sqlTime keeps, so callers see the
// same value a later read would return.
func stamp(now time.Time) (time.Time, string) {
	t := now.UTC().Truncate(time.Second)
	return t, sqlTime(t)
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func constraintCode(err error) sqlite3.ErrNoExtended {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return se.ExtendedCode
	}
	return 0
}

// isUniqueViolation reports a UNIQUE or PRIMARY KEY conflict.
func isUniqueViolation(err error) bool {
	switch constraintCode(err) {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return true
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	return constraintCode(err) == sqlite3.ErrConstraintForeignKey
}

// expectOneRow maps "no rows affected" to notFound.
func expectOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
