package db

import (
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/aliyun/rdsai-cli/source"
)

// DuckDBClient is the embedded-engine client. The engine runs in-process, so
// transactions are autocommit no-ops at this layer and ChangeDatabase has
// nothing to switch.
type DuckDBClient struct {
	db         *sql.DB
	dataSource string
	autocommit bool

	lastColumns  []string
	lastRows     [][]any
	lastRowCount int64
}

// NewDuckDBClient opens the database named by cfg.DataSource, in-memory when
// empty.
func NewDuckDBClient(cfg ConnectionConfig) (*DuckDBClient, error) {
	return openDuckDB(cfg.DataSource)
}

// OpenDuckDB opens the database a parsed duckdb:// URL points at; nil or the
// :memory: sentinel opens an in-memory database.
func OpenDuckDB(parsed *source.ParsedURL) (*DuckDBClient, error) {
	if parsed == nil || parsed.IsMemory {
		return openDuckDB("")
	}
	if !parsed.IsNative() {
		return nil, fmt.Errorf("%s is not a duckdb:// source", parsed.URL())
	}
	return openDuckDB(parsed.Path)
}

func openDuckDB(dataSource string) (*DuckDBClient, error) {
	db, err := sql.Open("duckdb", dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database: %w", err)
	}

	// Temp tables and loaded data must land on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		if dataSource == "" {
			return nil, fmt.Errorf("failed to open in-memory duckdb database: %w", err)
		}
		return nil, fmt.Errorf("failed to open duckdb database %s: %w", dataSource, err)
	}

	return &DuckDBClient{db: db, dataSource: dataSource, autocommit: true, lastRowCount: -1}, nil
}

func (c *DuckDBClient) Execute(sqlText string) error {
	c.lastColumns = nil
	c.lastRows = nil
	c.lastRowCount = -1

	if ClassifyQuery(sqlText).ReturnsRows() {
		rows, err := c.db.Query(sqlText)
		if err != nil {
			return err
		}
		defer rows.Close()
		cols, data, err := scanRows(rows)
		if err != nil {
			return err
		}
		c.lastColumns = cols
		c.lastRows = data
		c.lastRowCount = int64(len(data))
		return nil
	}

	res, err := c.db.Exec(sqlText)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil {
		c.lastRowCount = affected
	}
	return nil
}

func (c *DuckDBClient) FetchAll() ([][]any, error) {
	return c.lastRows, nil
}

func (c *DuckDBClient) FetchOne() ([]any, error) {
	if len(c.lastRows) == 0 {
		return nil, nil
	}
	return c.lastRows[0], nil
}

func (c *DuckDBClient) Columns() []string {
	return c.lastColumns
}

func (c *DuckDBClient) RowCount() int64 {
	return c.lastRowCount
}

// ChangeDatabase is a no-op: the embedded engine has a single database.
func (c *DuckDBClient) ChangeDatabase(name string) error {
	return nil
}

// TransactionState always reports no open transaction; the embedded engine
// autocommits at this layer.
func (c *DuckDBClient) TransactionState() TransactionState {
	return NotInTransaction
}

func (c *DuckDBClient) BeginTransaction() error    { return nil }
func (c *DuckDBClient) CommitTransaction() error   { return nil }
func (c *DuckDBClient) RollbackTransaction() error { return nil }

// SetAutocommit records the flag for compatibility; execution semantics do
// not change.
func (c *DuckDBClient) SetAutocommit(enabled bool) error {
	c.autocommit = enabled
	return nil
}

func (c *DuckDBClient) Autocommit() (bool, error) {
	return true, nil
}

// Ping checks liveness, reopening the database when reconnect is set and the
// first check fails.
func (c *DuckDBClient) Ping(reconnect bool) bool {
	if c.db != nil && c.db.Ping() == nil {
		return true
	}
	if !reconnect {
		return false
	}
	reopened, err := openDuckDB(c.dataSource)
	if err != nil {
		return false
	}
	if c.db != nil {
		c.db.Close()
	}
	c.db = reopened.db
	return true
}

func (c *DuckDBClient) EngineName() Engine {
	return EngineDuckDB
}

func (c *DuckDBClient) Close() error {
	return c.db.Close()
}

// LoadFile ingests one non-native source as a table, inferring the table
// name when empty.
func (c *DuckDBClient) LoadFile(parsed source.ParsedURL, table string) (source.LoadResult, error) {
	return source.NewLoader(c, nil).Load(parsed, table)
}

// LoadFiles ingests every source, deduplicating table names; it fails only
// when every source fails.
func (c *DuckDBClient) LoadFiles(parsed []source.ParsedURL) ([]source.LoadResult, error) {
	return source.NewLoader(c, nil).LoadAll(parsed)
}
