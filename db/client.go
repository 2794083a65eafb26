package db

import (
	"fmt"
	"regexp"
)

// Engine identifies a backend engine variant.
type Engine string

const (
	EngineMySQL  Engine = "mysql"
	EngineDuckDB Engine = "duckdb"
)

// TransactionState describes whether a client session has an open transaction.
type TransactionState int

const (
	NotInTransaction TransactionState = iota
	InTransaction
	TransactionStateUnknown
)

func (s TransactionState) String() string {
	switch s {
	case NotInTransaction:
		return "NOT_IN_TRANSACTION"
	case InTransaction:
		return "IN_TRANSACTION"
	default:
		return "UNKNOWN"
	}
}

// DatabaseClient is the capability contract every backend driver satisfies.
// Execute runs one statement and buffers its outcome; the fetch and metadata
// accessors read that buffer. Implementations are not safe for concurrent use
// by multiple goroutines.
type DatabaseClient interface {
	// Execute runs a single SQL statement. For statements that produce a
	// result set the rows are buffered for FetchAll/FetchOne; for others
	// the affected-row count is recorded for RowCount.
	Execute(sql string) error

	// FetchAll returns every buffered row of the last result set.
	FetchAll() ([][]any, error)

	// FetchOne returns the first buffered row, or nil if the last statement
	// produced no rows.
	FetchOne() ([]any, error)

	// Columns returns the column names of the last result set, nil if the
	// last statement produced none.
	Columns() []string

	// RowCount returns the affected-row count of the last statement, or the
	// buffered row count for result sets. -1 means not applicable.
	RowCount() int64

	// ChangeDatabase switches the session's current database.
	ChangeDatabase(name string) error

	// TransactionState reports the session's transaction state.
	TransactionState() TransactionState

	BeginTransaction() error
	CommitTransaction() error
	RollbackTransaction() error

	// SetAutocommit toggles autocommit on the session.
	SetAutocommit(enabled bool) error

	// Autocommit reports whether autocommit is currently enabled.
	Autocommit() (bool, error)

	// Ping checks connection liveness, optionally attempting a reconnect.
	Ping(reconnect bool) bool

	// EngineName identifies the backend engine.
	EngineName() Engine

	Close() error
}

// ClientFactory builds a backend client from a connection config. The
// Service takes one of these so tests can substitute a fake backend.
type ClientFactory func(cfg ConnectionConfig) (DatabaseClient, error)

// NewClient dispatches on the config's engine tag. It is the default
// ClientFactory.
func NewClient(cfg ConnectionConfig) (DatabaseClient, error) {
	switch cfg.Engine {
	case EngineMySQL:
		return NewMySQLClient(cfg)
	case EngineDuckDB:
		return NewDuckDBClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported engine: %q", cfg.Engine)
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateIdentifier rejects names that cannot be safely interpolated into
// statements as identifiers (only letters, digits and underscore pass).
func ValidateIdentifier(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier: %q", name)
	}
	return name, nil
}
