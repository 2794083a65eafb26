package db

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

// fakeClient is a scriptable backend for Service tests.
type fakeClient struct {
	executed []string
	failOn   string

	probeRows [][]any
	probeErr  error

	rows     [][]any
	cols     []string
	affected int64

	txState     TransactionState
	beginErr    error
	commitErr   error
	rollbackErr error

	closed bool

	lastCols  []string
	lastRows  [][]any
	lastCount int64
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		probeRows: [][]any{{"vidx_disabled", "OFF"}},
		rows:      [][]any{{int64(1), "one"}, {int64(2), "two"}},
		cols:      []string{"id", "value"},
		affected:  1,
		lastCount: -1,
	}
}

func (c *fakeClient) Execute(sql string) error {
	c.executed = append(c.executed, sql)
	c.lastCols, c.lastRows, c.lastCount = nil, nil, -1

	if c.failOn != "" && strings.Contains(sql, c.failOn) {
		return fmt.Errorf("forced failure on %q", c.failOn)
	}

	if strings.HasPrefix(strings.ToUpper(sql), "SHOW VARIABLES LIKE 'VIDX_DISABLED'") {
		if c.probeErr != nil {
			return c.probeErr
		}
		c.lastCols = []string{"Variable_name", "Value"}
		c.lastRows = c.probeRows
		c.lastCount = int64(len(c.probeRows))
		return nil
	}

	if ClassifyQuery(sql).ReturnsRows() {
		c.lastCols = c.cols
		c.lastRows = c.rows
		c.lastCount = int64(len(c.rows))
		return nil
	}
	c.lastCount = c.affected
	return nil
}

func (c *fakeClient) FetchAll() ([][]any, error) { return c.lastRows, nil }
func (c *fakeClient) FetchOne() ([]any, error) {
	if len(c.lastRows) == 0 {
		return nil, nil
	}
	return c.lastRows[0], nil
}
func (c *fakeClient) Columns() []string                 { return c.lastCols }
func (c *fakeClient) RowCount() int64                   { return c.lastCount }
func (c *fakeClient) ChangeDatabase(name string) error  { return nil }
func (c *fakeClient) TransactionState() TransactionState { return c.txState }
func (c *fakeClient) BeginTransaction() error           { return c.beginErr }
func (c *fakeClient) CommitTransaction() error          { return c.commitErr }
func (c *fakeClient) RollbackTransaction() error        { return c.rollbackErr }
func (c *fakeClient) SetAutocommit(enabled bool) error  { return nil }
func (c *fakeClient) Autocommit() (bool, error)         { return true, nil }
func (c *fakeClient) Ping(reconnect bool) bool          { return !c.closed }
func (c *fakeClient) EngineName() Engine                { return EngineMySQL }
func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newConnectedService(t *testing.T) (*Service, *fakeClient) {
	t.Helper()
	client := newFakeClient()
	svc := NewService(testLogger())
	svc.SetClientFactory(func(cfg ConnectionConfig) (DatabaseClient, error) {
		return client, nil
	})
	password := "secret"
	id, err := svc.Connect(ConnectionConfig{
		Engine:   EngineMySQL,
		Host:     "db.example.com",
		Port:     3306,
		User:     "app",
		Password: &password,
		Database: "shop",
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if id != "mysql_db.example.com_3306_app" {
		t.Fatalf("unexpected connection id: %s", id)
	}
	return svc, client
}

func TestConnectAndConnectionInfo(t *testing.T) {
	svc, _ := newConnectedService(t)

	info := svc.ConnectionInfo()
	if info["connected"] != true {
		t.Fatal("expected connected=true")
	}
	if info["engine"] != "mysql" || info["host"] != "db.example.com" || info["port"] != 3306 {
		t.Errorf("unexpected connection info: %v", info)
	}
	if info["database"] != "shop" {
		t.Errorf("expected database shop, got %v", info["database"])
	}
	if info["transaction_state"] != "NOT_IN_TRANSACTION" {
		t.Errorf("expected NOT_IN_TRANSACTION, got %v", info["transaction_state"])
	}
	if info["autocommit"] != true {
		t.Errorf("expected autocommit true, got %v", info["autocommit"])
	}
}

func TestDisconnect(t *testing.T) {
	svc, client := newConnectedService(t)

	svc.Disconnect()
	if !client.closed {
		t.Error("expected client to be closed")
	}
	if svc.Connected() {
		t.Error("expected service to be disconnected")
	}
	info := svc.ConnectionInfo()
	if info["connected"] != false {
		t.Errorf("expected connected=false, got %v", info)
	}
	if svc.LastQuery() != nil {
		t.Error("expected last query context to be cleared")
	}
}

func TestConnectReplacesExistingClient(t *testing.T) {
	svc, first := newConnectedService(t)

	second := newFakeClient()
	svc.SetClientFactory(func(cfg ConnectionConfig) (DatabaseClient, error) {
		return second, nil
	})
	password := "secret"
	if _, err := svc.Connect(ConnectionConfig{Engine: EngineMySQL, Host: "other", Port: 3306, User: "app", Password: &password}); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}

	if !first.closed {
		t.Error("expected first client to be closed on replacement")
	}
	if svc.ActiveClient() != DatabaseClient(second) {
		t.Error("expected second client to be active")
	}
}

func TestConnectPasswordPrompt(t *testing.T) {
	client := newFakeClient()
	var gotPassword string
	svc := NewService(testLogger())
	svc.SetClientFactory(func(cfg ConnectionConfig) (DatabaseClient, error) {
		if cfg.Password != nil {
			gotPassword = *cfg.Password
		}
		return client, nil
	})
	svc.SetPasswordPrompt(func() (string, error) { return "prompted", nil })

	if _, err := svc.Connect(ConnectionConfig{Engine: EngineMySQL, Host: "h", Port: 3306, User: "app"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if gotPassword != "prompted" {
		t.Errorf("expected prompted password to reach factory, got %q", gotPassword)
	}
}

func TestConnectPromptCancelled(t *testing.T) {
	svc := NewService(testLogger())
	svc.SetClientFactory(func(cfg ConnectionConfig) (DatabaseClient, error) {
		t.Fatal("factory should not run after cancelled prompt")
		return nil, nil
	})
	svc.SetPasswordPrompt(func() (string, error) {
		return "", fmt.Errorf("ctrl-c: %w", ErrPromptCancelled)
	})

	_, err := svc.Connect(ConnectionConfig{Engine: EngineMySQL, Host: "h", Port: 3306, User: "app"})
	if err == nil {
		t.Fatal("expected error for cancelled prompt")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %T", err)
	}
	if svc.Connected() {
		t.Error("expected no connection after cancelled prompt")
	}
}

func TestConnectFactoryFailure(t *testing.T) {
	svc := NewService(testLogger())
	svc.SetClientFactory(func(cfg ConnectionConfig) (DatabaseClient, error) {
		return nil, errors.New("refused")
	})
	password := ""
	_, err := svc.Connect(ConnectionConfig{Engine: EngineMySQL, Host: "h", Port: 3306, User: "app", Password: &password})
	if err == nil {
		t.Fatal("expected connect failure")
	}
	if svc.Connected() {
		t.Error("expected no connection after factory failure")
	}
}

func TestReconnect(t *testing.T) {
	svc := NewService(testLogger())
	if _, err := svc.Reconnect(); err == nil {
		t.Error("expected error when reconnecting without a previous connection")
	}

	svc, _ = newConnectedService(t)
	replacement := newFakeClient()
	svc.SetClientFactory(func(cfg ConnectionConfig) (DatabaseClient, error) {
		if cfg.Host != "db.example.com" || cfg.Database != "shop" {
			t.Errorf("reconnect lost config: %+v", cfg)
		}
		return replacement, nil
	})
	if _, err := svc.Reconnect(); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if svc.ActiveClient() != DatabaseClient(replacement) {
		t.Error("expected replacement client after reconnect")
	}
}

func TestVectorCapabilityProbe(t *testing.T) {
	tests := []struct {
		name     string
		rows     [][]any
		err      error
		expected VectorCapability
	}{
		{"off means enabled", [][]any{{"vidx_disabled", "OFF"}}, nil, VectorEnabled},
		{"off lowercase", [][]any{{"vidx_disabled", "off"}}, nil, VectorEnabled},
		{"on means disabled", [][]any{{"vidx_disabled", "ON"}}, nil, VectorDisabled},
		{"other value means disabled", [][]any{{"vidx_disabled", "1"}}, nil, VectorDisabled},
		{"absent means disabled", nil, nil, VectorDisabled},
		{"probe error means unknown", nil, errors.New("not supported"), VectorUnknown},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := newFakeClient()
			client.probeRows = test.rows
			client.probeErr = test.err
			svc := NewService(testLogger())
			svc.SetClientFactory(func(cfg ConnectionConfig) (DatabaseClient, error) {
				return client, nil
			})
			password := ""
			if _, err := svc.Connect(ConnectionConfig{Engine: EngineMySQL, Host: "h", Port: 3306, User: "u", Password: &password}); err != nil {
				t.Fatalf("Connect failed: %v", err)
			}

			status, _ := svc.VectorCapability()
			if status != test.expected {
				t.Errorf("expected %s, got %s", test.expected, status)
			}
			if (status == VectorEnabled) != svc.HasVectorCapability() {
				t.Error("HasVectorCapability disagrees with status")
			}
		})
	}
}

func TestExecuteQuerySelect(t *testing.T) {
	svc, _ := newConnectedService(t)

	result, err := svc.ExecuteQuery("SELECT * FROM items")
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if result.QueryType != QuerySelect {
		t.Errorf("expected SELECT, got %s", result.QueryType)
	}
	if result.RowCount() != 2 || len(result.Columns) != 2 {
		t.Errorf("unexpected result shape: %d rows, %d columns", result.RowCount(), len(result.Columns))
	}
	if result.AffectedRows != -1 {
		t.Errorf("expected affected rows -1 for SELECT, got %d", result.AffectedRows)
	}
}

func TestExecuteQueryDML(t *testing.T) {
	svc, client := newConnectedService(t)
	client.affected = 3

	result, err := svc.ExecuteQuery("UPDATE items SET v = 1")
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if result.AffectedRows != 3 {
		t.Errorf("expected 3 affected rows, got %d", result.AffectedRows)
	}
	if result.Rows != nil || result.Columns != nil {
		t.Error("expected no result set for UPDATE")
	}
}

func TestExecuteQueryFailure(t *testing.T) {
	svc, client := newConnectedService(t)
	client.failOn = "broken"

	result, err := svc.ExecuteQuery("SELECT * FROM broken")
	if err != nil {
		t.Fatalf("statement failure should not be a Go error, got: %v", err)
	}
	if result.Success {
		t.Fatal("expected failed result")
	}
	if result.Error == "" {
		t.Error("expected error text in result")
	}
	if result.AffectedRows != -1 {
		t.Errorf("expected affected rows -1 on failure, got %d", result.AffectedRows)
	}

	ctx := svc.LastQuery()
	if ctx == nil || ctx.Status != QueryStatusError {
		t.Fatalf("expected failed last query context, got %+v", ctx)
	}
}

func TestExecuteQueryNoConnection(t *testing.T) {
	svc := NewService(testLogger())
	_, err := svc.ExecuteQuery("SELECT 1")
	if !errors.Is(err, ErrNoConnection) {
		t.Errorf("expected ErrNoConnection, got %v", err)
	}
}

func TestExecuteQueryStripsVerticalDirective(t *testing.T) {
	svc, client := newConnectedService(t)

	if _, err := svc.ExecuteQuery(`SELECT * FROM t\G`); err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	executed := client.executed[len(client.executed)-1]
	if strings.Contains(executed, `\G`) {
		t.Errorf("directive leaked to backend: %q", executed)
	}
}

func TestUseUpdatesCurrentDatabase(t *testing.T) {
	svc, _ := newConnectedService(t)

	var notified int
	svc.RegisterSchemaChangeCallback(func() { notified++ })

	if _, err := svc.ExecuteQuery("USE analytics"); err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if svc.CurrentDatabase() != "analytics" {
		t.Errorf("expected current database analytics, got %s", svc.CurrentDatabase())
	}
	if notified != 1 {
		t.Errorf("expected 1 schema notification, got %d", notified)
	}
}

func TestSchemaChangeNotifications(t *testing.T) {
	svc, _ := newConnectedService(t)

	var order []string
	svc.RegisterSchemaChangeCallback(func() { order = append(order, "first") })
	panicking := svc.RegisterSchemaChangeCallback(func() { panic("bad callback") })
	svc.RegisterSchemaChangeCallback(func() { order = append(order, "third") })

	if _, err := svc.ExecuteQuery("CREATE TABLE t (id INT)"); err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "third" {
		t.Errorf("expected panicking callback to be skipped, got %v", order)
	}

	order = nil
	svc.UnregisterSchemaChangeCallback(panicking)
	if _, err := svc.ExecuteQuery("DROP TABLE t"); err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if len(order) != 2 {
		t.Errorf("expected both remaining callbacks, got %v", order)
	}

	// Plain SELECT must not notify.
	order = nil
	if _, err := svc.ExecuteQuery("SELECT 1"); err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("SELECT should not notify, got %v", order)
	}
}

func TestLastQueryContext(t *testing.T) {
	svc, client := newConnectedService(t)

	// More rows than the context retains.
	rows := make([][]any, 150)
	for i := range rows {
		rows[i] = []any{int64(i), "v"}
	}
	client.rows = rows

	if _, err := svc.ExecuteQuery("SELECT * FROM big"); err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}

	ctx := svc.LastQuery()
	if ctx == nil {
		t.Fatal("expected last query context")
	}
	if ctx.RowCount != 150 {
		t.Errorf("expected full row count 150, got %d", ctx.RowCount)
	}
	if len(ctx.Rows) != 100 {
		t.Errorf("expected retained rows capped at 100, got %d", len(ctx.Rows))
	}

	consumed := svc.ConsumeLastQuery()
	if consumed == nil {
		t.Fatal("expected context from ConsumeLastQuery")
	}
	if svc.LastQuery() != nil {
		t.Error("expected context to be cleared after consume")
	}
}

func TestTransactionForwarding(t *testing.T) {
	svc, client := newConnectedService(t)

	if err := svc.BeginTransaction(); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if err := svc.CommitTransaction(); err != nil {
		t.Fatalf("CommitTransaction failed: %v", err)
	}
	if err := svc.RollbackTransaction(); err != nil {
		t.Fatalf("RollbackTransaction failed: %v", err)
	}
	if err := svc.SetAutocommit(false); err != nil {
		t.Fatalf("SetAutocommit failed: %v", err)
	}

	client.commitErr = errors.New("deadlock")
	if err := svc.CommitTransaction(); err == nil {
		t.Error("expected wrapped commit failure")
	}

	state, ok := svc.TransactionState()
	if !ok || state != NotInTransaction {
		t.Errorf("expected (NOT_IN_TRANSACTION, true), got (%s, %v)", state, ok)
	}
}

func TestTransactionNoConnection(t *testing.T) {
	svc := NewService(testLogger())

	if err := svc.BeginTransaction(); !errors.Is(err, ErrNoConnection) {
		t.Errorf("expected ErrNoConnection, got %v", err)
	}
	if _, ok := svc.TransactionState(); ok {
		t.Error("expected ok=false without a connection")
	}
	if _, ok := svc.AutocommitStatus(); ok {
		t.Error("expected ok=false without a connection")
	}
}

func TestChangeDatabaseValidation(t *testing.T) {
	svc, _ := newConnectedService(t)

	if err := svc.ChangeDatabase("shop; DROP TABLE users"); err == nil {
		t.Error("expected invalid identifier to be rejected")
	}
	if err := svc.ChangeDatabase("analytics"); err != nil {
		t.Fatalf("ChangeDatabase failed: %v", err)
	}
	if svc.CurrentDatabase() != "analytics" {
		t.Errorf("expected current database analytics, got %s", svc.CurrentDatabase())
	}
}

func TestListDatabasesAndTables(t *testing.T) {
	svc, client := newConnectedService(t)
	client.rows = [][]any{{"shop"}, {"analytics"}}
	client.cols = []string{"Database"}

	databases, err := svc.ListDatabases()
	if err != nil {
		t.Fatalf("ListDatabases failed: %v", err)
	}
	if len(databases) != 2 || databases[0] != "shop" {
		t.Errorf("unexpected databases: %v", databases)
	}

	tables := svc.ListTables()
	if len(tables) != 2 {
		t.Errorf("unexpected tables: %v", tables)
	}

	info := svc.GetSchemaInfo()
	if info.CurrentDatabase != "shop" {
		t.Errorf("expected current database shop, got %s", info.CurrentDatabase)
	}
}
