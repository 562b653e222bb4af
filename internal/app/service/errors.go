package service

import (
	"context"
	"database/sql"
	"fmt"

	"course_zone/internal/common"
)

// Operation-level error kinds. Each wraps a common sentinel so the HTTP layer
// maps them without special cases.
var (
	// ErrAccessDenied means a wrong or missing access code; callers re-prompt.
	ErrAccessDenied = fmt.Errorf("access to this course requires a valid access code: %w", common.ErrForbidden)
	// ErrNotOngoing means the course has not started for this user.
	ErrNotOngoing = fmt.Errorf("course has not started yet: %w", common.ErrConflict)
	// ErrNotInCourse means the user's current-course pointer is elsewhere.
	ErrNotInCourse = fmt.Errorf("user is not in this course: %w", common.ErrNotFound)
	// ErrCannotJoin means neither a live nor a spectate entry is possible.
	ErrCannotJoin = fmt.Errorf("could not enter this course: %w", common.ErrForbidden)
)

// withTx runs fn inside a transaction when a database is present. Services
// built on in-memory repositories pass db == nil and fn runs with a nil tx.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	if db == nil {
		return fn(nil)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return common.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return common.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
