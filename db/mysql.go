package db

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/go-sql-driver/mysql"
)

// MySQLClient is the networked-engine client. The pool is pinned to a single
// connection so session state (current database, autocommit, open
// transaction) survives across statements.
type MySQLClient struct {
	db            *sql.DB
	tx            *sql.Tx
	cfg           ConnectionConfig
	tlsConfigName string

	lastColumns  []string
	lastRows     [][]any
	lastRowCount int64
}

var tlsConfigSeq atomic.Int64

// NewMySQLClient connects and verifies the connection with a ping.
func NewMySQLClient(cfg ConnectionConfig) (*MySQLClient, error) {
	dsnCfg := mysql.NewConfig()
	dsnCfg.User = cfg.User
	if cfg.Password != nil {
		dsnCfg.Passwd = *cfg.Password
	}
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsnCfg.DBName = cfg.Database

	tlsName, err := registerTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tlsName != "" {
		dsnCfg.TLSConfig = tlsName
	}

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		deregisterTLSConfig(tlsName)
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	// One underlying connection: USE, SET and BEGIN are session-scoped.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		deregisterTLSConfig(tlsName)
		return nil, fmt.Errorf("failed to connect to %s: %w", dsnCfg.Addr, err)
	}

	return &MySQLClient{db: db, cfg: cfg, tlsConfigName: tlsName, lastRowCount: -1}, nil
}

// registerTLSConfig builds and registers a TLS config from the connection's
// ssl options, returning the registered name, or "" when TLS is off.
func registerTLSConfig(cfg ConnectionConfig) (string, error) {
	if len(cfg.SSL) == 0 {
		return "", nil
	}
	mode := strings.ToUpper(cfg.SSL["ssl_mode"])
	if mode == "DISABLED" {
		return "", nil
	}

	tlsCfg := &tls.Config{}
	switch mode {
	case "VERIFY_CA", "VERIFY_IDENTITY":
	default:
		tlsCfg.InsecureSkipVerify = true
	}

	if ca := cfg.SSL["ssl_ca"]; ca != "" {
		pem, err := os.ReadFile(ca)
		if err != nil {
			return "", fmt.Errorf("failed to read ssl_ca %s: %w", ca, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return "", fmt.Errorf("no certificates found in ssl_ca %s", ca)
		}
		tlsCfg.RootCAs = pool
	}

	cert, key := cfg.SSL["ssl_cert"], cfg.SSL["ssl_key"]
	if cert != "" && key != "" {
		pair, err := tls.LoadX509KeyPair(cert, key)
		if err != nil {
			return "", fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{pair}
	}

	name := fmt.Sprintf("rdsai-%d", tlsConfigSeq.Add(1))
	if err := mysql.RegisterTLSConfig(name, tlsCfg); err != nil {
		return "", fmt.Errorf("failed to register TLS config: %w", err)
	}
	return name, nil
}

func deregisterTLSConfig(name string) {
	if name != "" {
		mysql.DeregisterTLSConfig(name)
	}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

func (c *MySQLClient) conn() queryer {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// Execute runs one statement, buffering rows for result-set types and the
// affected-row count for everything else.
func (c *MySQLClient) Execute(sqlText string) error {
	c.lastColumns = nil
	c.lastRows = nil
	c.lastRowCount = -1

	if ClassifyQuery(sqlText).ReturnsRows() {
		rows, err := c.conn().Query(sqlText)
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

	res, err := c.conn().Exec(sqlText)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil {
		c.lastRowCount = affected
	}
	return nil
}

// scanRows drains a result set into column names and generic row values,
// normalizing []byte cells to string.
func scanRows(rows *sql.Rows) ([]string, [][]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var data [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, data, nil
}

func (c *MySQLClient) FetchAll() ([][]any, error) {
	return c.lastRows, nil
}

func (c *MySQLClient) FetchOne() ([]any, error) {
	if len(c.lastRows) == 0 {
		return nil, nil
	}
	return c.lastRows[0], nil
}

func (c *MySQLClient) Columns() []string {
	return c.lastColumns
}

func (c *MySQLClient) RowCount() int64 {
	return c.lastRowCount
}

func (c *MySQLClient) ChangeDatabase(name string) error {
	validated, err := ValidateIdentifier(name)
	if err != nil {
		return err
	}
	_, err = c.conn().Exec(fmt.Sprintf("USE `%s`", validated))
	return err
}

func (c *MySQLClient) TransactionState() TransactionState {
	if c.db == nil {
		return TransactionStateUnknown
	}
	if c.tx != nil {
		return InTransaction
	}
	return NotInTransaction
}

func (c *MySQLClient) BeginTransaction() error {
	if c.tx != nil {
		return fmt.Errorf("transaction already in progress")
	}
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *MySQLClient) CommitTransaction() error {
	if c.tx == nil {
		// No tracked transaction; a plain COMMIT is harmless and also
		// closes transactions opened by raw BEGIN statements.
		_, err := c.db.Exec("COMMIT")
		return err
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

func (c *MySQLClient) RollbackTransaction() error {
	if c.tx == nil {
		_, err := c.db.Exec("ROLLBACK")
		return err
	}
	err := c.tx.Rollback()
	c.tx = nil
	return err
}

func (c *MySQLClient) SetAutocommit(enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}
	_, err := c.conn().Exec(fmt.Sprintf("SET autocommit=%d", value))
	return err
}

func (c *MySQLClient) Autocommit() (bool, error) {
	row := c.db.QueryRow("SELECT @@autocommit")
	var value int
	if err := row.Scan(&value); err != nil {
		return false, err
	}
	return value != 0, nil
}

// Ping checks liveness. database/sql reopens dead pool connections itself,
// so reconnect just retries once after a failure.
func (c *MySQLClient) Ping(reconnect bool) bool {
	if c.db == nil {
		return false
	}
	if err := c.db.Ping(); err == nil {
		return true
	}
	if !reconnect {
		return false
	}
	return c.db.Ping() == nil
}

func (c *MySQLClient) EngineName() Engine {
	return EngineMySQL
}

func (c *MySQLClient) Close() error {
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && err != sql.ErrTxDone {
			c.tx = nil
			c.db.Close()
			deregisterTLSConfig(c.tlsConfigName)
			return err
		}
		c.tx = nil
	}
	err := c.db.Close()
	deregisterTLSConfig(c.tlsConfigName)
	return err
}
