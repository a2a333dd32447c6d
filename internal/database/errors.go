package database

import (
	"errors"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned when a lookup by primary key finds no row.
	ErrNotFound = errors.New("database: record not found")
	// ErrConflict is returned on a unique-constraint violation.
	ErrConflict = errors.New("database: unique constraint violation")
)

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "violates unique")
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
