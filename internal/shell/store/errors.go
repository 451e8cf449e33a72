// Package store persists the run journal: orchestration runs and the events
// recorded while they execute.
package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("run not found in journal")
	ErrDuplicateID      = errors.New("run id already journaled")
	ErrForeignKey       = errors.New("event refers to an unknown run")
	ErrConnectionFailed = errors.New("journal database unavailable")
	ErrMigrationFailed  = errors.New("journal schema migration failed")
	ErrTxFailed         = errors.New("journal transaction failed")
)

// JournalError names the journal operation that failed and, when there is
// one, the run it was working on.
type JournalError struct {
	Op    string
	RunID string
	Err   error
}

func (e *JournalError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("journal %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("journal %s (run %s): %v", e.Op, e.RunID, e.Err)
}

func (e *JournalError) Unwrap() error {
	return e.Err
}

func journalErr(op, runID string, err error) *JournalError {
	return &JournalError{Op: op, RunID: runID, Err: err}
}
