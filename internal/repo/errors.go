// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds small cross-driver error classification
// helpers shared by the repositories and the service layer.
package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsUniqueViolation attempts to detect unique-constraint violations across
// drivers that may not map to gorm.ErrDuplicatedKey.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLite typically: "UNIQUE constraint failed"
	// Postgres typically: "duplicate key value violates unique constraint"
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

func isUniqueViolation(err error) bool { return IsUniqueViolation(err) }
