package db

import (
	"errors"
	"fmt"
)

// ErrNoConnection is returned by operations that require an active backend
// connection when none has been established.
var ErrNoConnection = errors.New("no active database connection")

// ErrPromptCancelled is returned by a PasswordPrompt when the user aborts
// the prompt instead of entering a password.
var ErrPromptCancelled = errors.New("password prompt cancelled")

// ConnectionError wraps failures to establish or tear down a connection.
type ConnectionError struct {
	Msg string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DatabaseError wraps a backend failure during statement execution with the
// context an interactive caller needs: the (truncated) statement text, its
// classified type, and how long execution ran before failing.
type DatabaseError struct {
	SQL              string
	QueryType        QueryType
	ExecutionTimeSec float64
	Err              error
}

func (e *DatabaseError) Error() string {
	if e.SQL == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s statement failed after %s: %v", e.QueryType, formatDuration(e.ExecutionTimeSec), e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

const maxErrorSQLLen = 200

// truncateSQL bounds statement text carried inside error values.
func truncateSQL(sql string) string {
	if len(sql) <= maxErrorSQLLen {
		return sql
	}
	return sql[:maxErrorSQLLen] + "..."
}
