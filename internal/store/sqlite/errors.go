package sqlite

import (
	"errors"

	sqlite "modernc.org/sqlite"
)

// SQLite extended result codes for constraint violations.
const (
	codeConstraintPrimaryKey = 1555
	codeConstraintUnique     = 2067
)

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == codeConstraintUnique || code == codeConstraintPrimaryKey
}
