package db

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
)

// VectorCapability is the probed vector-index capability of the connected
// backend.
type VectorCapability int

const (
	VectorUnknown VectorCapability = iota
	VectorEnabled
	VectorDisabled
)

func (v VectorCapability) String() string {
	switch v {
	case VectorEnabled:
		return "ENABLED"
	case VectorDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// SchemaChangeCallback is invoked after operations that may have changed the
// schema. Callbacks run outside the Service lock; panics are logged and
// swallowed.
type SchemaChangeCallback func()

// DisplayCallback renders one statement result; the script engine invokes it
// per statement when registered. vertical is set when the statement carried a
// \G display directive.
type DisplayCallback func(sql string, result QueryResult, vertical bool)

// PasswordPrompt supplies a password interactively. Returning an error that
// wraps ErrPromptCancelled aborts the connection attempt.
type PasswordPrompt func() (string, error)

type schemaCallback struct {
	id int
	fn SchemaChangeCallback
}

// Service is the session manager: it owns at most one backend client at a
// time and funnels every statement through a uniform execution path. The
// mutex guards bookkeeping only; it is never held across a backend call, so
// a long-running statement cannot block connection-state reads.
type Service struct {
	mu              sync.Mutex
	client          DatabaseClient
	config          *ConnectionConfig
	connectionID    string
	currentDatabase string

	schemaCallbacks []schemaCallback
	nextCallbackID  int

	lastContext *LastQueryContext

	vectorStatus VectorCapability
	vectorDetail string

	sourceDisplay DisplayCallback

	factory        ClientFactory
	promptPassword PasswordPrompt
	scriptFS       billy.Filesystem
	logger         *slog.Logger
}

// NewService builds a disconnected Service. A nil logger uses slog.Default.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		factory:  NewClient,
		scriptFS: osfs.New("/"),
		logger:   logger,
	}
}

// SetClientFactory replaces how backend clients are built; tests inject fake
// backends here.
func (s *Service) SetClientFactory(factory ClientFactory) {
	if factory != nil {
		s.factory = factory
	}
}

// SetPasswordPrompt installs the interactive password prompt used when a
// connection config carries no password.
func (s *Service) SetPasswordPrompt(prompt PasswordPrompt) {
	s.promptPassword = prompt
}

// SetScriptFilesystem replaces the filesystem the script engine reads from.
func (s *Service) SetScriptFilesystem(fs billy.Filesystem) {
	if fs != nil {
		s.scriptFS = fs
	}
}

// SetSourceDisplayCallback installs the per-statement display hook for
// script execution.
func (s *Service) SetSourceDisplayCallback(display DisplayCallback) {
	s.mu.Lock()
	s.sourceDisplay = display
	s.mu.Unlock()
}

// Connect establishes a new backend session, replacing any existing one.
// When the config has no password but names a user, the password prompt runs
// first; a cancelled prompt aborts cleanly with no state change.
func (s *Service) Connect(cfg ConnectionConfig) (string, error) {
	if cfg.Engine == EngineMySQL && cfg.Password == nil && cfg.User != "" && s.promptPassword != nil {
		password, err := s.promptPassword()
		if err != nil {
			if errors.Is(err, ErrPromptCancelled) {
				return "", &ConnectionError{Msg: "connection cancelled by user", Err: err}
			}
			return "", &ConnectionError{Msg: "password prompt failed", Err: err}
		}
		cfg.Password = &password
	}

	client, err := s.factory(cfg)
	if err != nil {
		return "", &ConnectionError{
			Msg: fmt.Sprintf("failed to connect to %s", cfg.ConnectionID()),
			Err: err,
		}
	}

	s.adopt(client, cfg)
	return cfg.ConnectionID(), nil
}

// adopt installs a ready client, closing any replaced one, then runs the
// post-connect steps: current-database resolution, capability probe, schema
// notification. The post-connect steps are best effort.
func (s *Service) adopt(client DatabaseClient, cfg ConnectionConfig) {
	cfgCopy := cfg

	s.mu.Lock()
	old := s.client
	s.client = client
	s.config = &cfgCopy
	s.connectionID = cfg.ConnectionID()
	s.currentDatabase = cfg.Database
	s.lastContext = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("closing replaced connection", "error", err)
		}
	}

	if cfg.Database == "" && cfg.Engine == EngineMySQL {
		s.resolveCurrentDatabase(client)
	}

	status, detail := probeVectorCapability(client)
	s.mu.Lock()
	s.vectorStatus = status
	s.vectorDetail = detail
	s.mu.Unlock()

	s.logger.Info("connected", "connection", cfg.ConnectionID(), "vector_capability", status.String())
	s.notifySchemaChange()
}

func (s *Service) resolveCurrentDatabase(client DatabaseClient) {
	if err := client.Execute("SELECT DATABASE()"); err != nil {
		s.logger.Debug("current database lookup failed", "error", err)
		return
	}
	row, err := client.FetchOne()
	if err != nil || len(row) == 0 || row[0] == nil {
		return
	}
	s.mu.Lock()
	s.currentDatabase = FormatCell(row[0])
	s.mu.Unlock()
}

// Disconnect closes the active session. Close failures are logged, not
// returned; the Service always ends up disconnected.
func (s *Service) Disconnect() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.connectionID = ""
	s.currentDatabase = ""
	s.lastContext = nil
	s.vectorStatus = VectorUnknown
	s.vectorDetail = ""
	s.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		s.logger.Warn("closing connection", "error", err)
	}
	s.logger.Info("disconnected")
	s.notifySchemaChange()
}

// Reconnect re-establishes the session from the last connection config.
func (s *Service) Reconnect() (string, error) {
	s.mu.Lock()
	cfg := s.config
	s.mu.Unlock()
	if cfg == nil {
		return "", &ConnectionError{Msg: "no previous connection to re-establish"}
	}
	return s.Connect(*cfg)
}

// ActiveClient returns the current backend client, nil when disconnected.
func (s *Service) ActiveClient() DatabaseClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Connected reports whether a session is established.
func (s *Service) Connected() bool {
	return s.ActiveClient() != nil
}

// ConnectionID returns the active session's identifier, "" when
// disconnected.
func (s *Service) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// CurrentDatabase returns the session's current database as tracked by USE
// bookkeeping.
func (s *Service) CurrentDatabase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDatabase
}

// Ping checks the session's liveness, optionally reconnecting.
func (s *Service) Ping(reconnect bool) bool {
	client := s.ActiveClient()
	if client == nil {
		return false
	}
	return client.Ping(reconnect)
}

// ConnectionInfo describes the session for display: config fields plus
// best-effort live state. Live-state failures degrade to absent keys.
func (s *Service) ConnectionInfo() map[string]any {
	s.mu.Lock()
	client := s.client
	cfg := s.config
	id := s.connectionID
	current := s.currentDatabase
	vector := s.vectorStatus
	s.mu.Unlock()

	if client == nil || cfg == nil {
		return map[string]any{"connected": false}
	}

	info := map[string]any{
		"connected":         true,
		"connection_id":     id,
		"engine":            string(cfg.Engine),
		"host":              cfg.Host,
		"port":              cfg.Port,
		"user":              cfg.User,
		"database":          current,
		"ssl_enabled":       len(cfg.SSL) > 0,
		"vector_capability": vector.String(),
	}

	info["transaction_state"] = client.TransactionState().String()
	if autocommit, err := client.Autocommit(); err == nil {
		info["autocommit"] = autocommit
	} else {
		s.logger.Debug("autocommit lookup failed", "error", err)
	}
	return info
}

// probeVectorCapability asks the backend whether vector indexes are usable.
// The variable being OFF means the feature is usable; any probe failure maps
// to UNKNOWN rather than an error.
func probeVectorCapability(client DatabaseClient) (VectorCapability, string) {
	if client == nil {
		return VectorUnknown, "no active connection"
	}
	if err := client.Execute("SHOW VARIABLES LIKE 'vidx_disabled'"); err != nil {
		return VectorUnknown, err.Error()
	}
	rows, err := client.FetchAll()
	if err != nil {
		return VectorUnknown, err.Error()
	}
	if len(rows) == 0 {
		return VectorDisabled, "vidx_disabled variable not present"
	}
	row := rows[0]
	value := ""
	if len(row) >= 2 {
		value = FormatCell(row[1])
	} else if len(row) == 1 {
		value = FormatCell(row[0])
	}
	if strings.EqualFold(value, "OFF") {
		return VectorEnabled, ""
	}
	return VectorDisabled, fmt.Sprintf("vidx_disabled=%s", value)
}

// HasVectorCapability reports whether the probe found vector indexes usable.
func (s *Service) HasVectorCapability() bool {
	status, _ := s.VectorCapability()
	return status == VectorEnabled
}

// VectorCapability returns the probed status and its detail text.
func (s *Service) VectorCapability() (VectorCapability, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vectorStatus, s.vectorDetail
}

// RefreshVectorCapability re-runs the capability probe against the active
// client.
func (s *Service) RefreshVectorCapability() VectorCapability {
	status, detail := probeVectorCapability(s.ActiveClient())
	s.mu.Lock()
	s.vectorStatus = status
	s.vectorDetail = detail
	s.mu.Unlock()
	return status
}

// RegisterSchemaChangeCallback adds a callback and returns a handle for
// unregistration. Callbacks fire in registration order.
func (s *Service) RegisterSchemaChangeCallback(cb SchemaChangeCallback) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCallbackID++
	id := s.nextCallbackID
	s.schemaCallbacks = append(s.schemaCallbacks, schemaCallback{id: id, fn: cb})
	return id
}

// UnregisterSchemaChangeCallback removes the callback registered under
// handle; unknown handles are ignored.
func (s *Service) UnregisterSchemaChangeCallback(handle int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.schemaCallbacks {
		if entry.id == handle {
			s.schemaCallbacks = append(s.schemaCallbacks[:i], s.schemaCallbacks[i+1:]...)
			return
		}
	}
}

// notifySchemaChange invokes every registered callback outside the lock. A
// panicking callback is logged and does not stop the rest.
func (s *Service) notifySchemaChange() {
	s.mu.Lock()
	callbacks := make([]schemaCallback, len(s.schemaCallbacks))
	copy(callbacks, s.schemaCallbacks)
	s.mu.Unlock()

	for _, entry := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("schema change callback panicked", "error", r)
				}
			}()
			entry.fn()
		}()
	}
}

// LastQuery returns the snapshot of the most recent statement, nil when none
// has run since connecting.
func (s *Service) LastQuery() *LastQueryContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastContext
}

// ConsumeLastQuery returns the snapshot and clears it, so it is handed to an
// agent at most once.
func (s *Service) ConsumeLastQuery() *LastQueryContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.lastContext
	s.lastContext = nil
	return ctx
}

// ClearLastQuery drops the snapshot.
func (s *Service) ClearLastQuery() {
	s.mu.Lock()
	s.lastContext = nil
	s.mu.Unlock()
}

func (s *Service) storeLastQuery(sql string, result QueryResult) {
	ctx := newLastQueryContext(sql, result)
	s.mu.Lock()
	s.lastContext = ctx
	s.mu.Unlock()
}

// ExecuteQuery runs one statement through the uniform path: strip display
// directives, classify, dispatch (SOURCE statements run the script engine),
// execute, snapshot. Statement-level backend failures come back inside the
// QueryResult; the error return is reserved for having no connection at all.
func (s *Service) ExecuteQuery(sqlText string) (QueryResult, error) {
	cleaned := CleanDisplayDirectives(sqlText)
	qt := ClassifyQuery(cleaned)

	if qt == QuerySource {
		result := s.executeSourceCommand(cleaned)
		s.storeLastQuery(cleaned, result)
		return result, nil
	}

	client := s.ActiveClient()
	if client == nil {
		return QueryResult{}, ErrNoConnection
	}

	start := time.Now()
	execErr := client.Execute(cleaned)
	var rows [][]any
	var cols []string
	if execErr == nil && qt.ReturnsRows() {
		rows, execErr = client.FetchAll()
		cols = client.Columns()
	}
	elapsed := time.Since(start).Seconds()

	if execErr != nil {
		dbErr := &DatabaseError{
			SQL:              truncateSQL(cleaned),
			QueryType:        qt,
			ExecutionTimeSec: elapsed,
			Err:              execErr,
		}
		result := QueryResult{
			QueryType:        qt,
			AffectedRows:     -1,
			ExecutionTimeSec: elapsed,
			Error:            dbErr.Error(),
		}
		s.storeLastQuery(cleaned, result)
		return result, nil
	}

	var affected int64 = -1
	if !qt.ReturnsRows() {
		if count := client.RowCount(); count >= 0 {
			affected = count
		}
	}

	result := QueryResult{
		QueryType:        qt,
		Success:          true,
		Rows:             rows,
		Columns:          cols,
		AffectedRows:     affected,
		ExecutionTimeSec: elapsed,
	}

	switch qt {
	case QueryUse:
		if name := ExtractDatabaseFromUse(cleaned); name != "" {
			s.mu.Lock()
			s.currentDatabase = name
			s.mu.Unlock()
		}
		s.notifySchemaChange()
	case QueryCreate, QueryDrop, QueryAlter, QueryTruncate:
		s.notifySchemaChange()
	}

	s.storeLastQuery(cleaned, result)
	return result, nil
}

// BeginTransaction opens a transaction on the active session.
func (s *Service) BeginTransaction() error {
	client := s.ActiveClient()
	if client == nil {
		return ErrNoConnection
	}
	if err := client.BeginTransaction(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.logger.Debug("transaction started")
	return nil
}

// CommitTransaction commits the session's open transaction.
func (s *Service) CommitTransaction() error {
	client := s.ActiveClient()
	if client == nil {
		return ErrNoConnection
	}
	if err := client.CommitTransaction(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.logger.Debug("transaction committed")
	return nil
}

// RollbackTransaction rolls back the session's open transaction.
func (s *Service) RollbackTransaction() error {
	client := s.ActiveClient()
	if client == nil {
		return ErrNoConnection
	}
	if err := client.RollbackTransaction(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	s.logger.Debug("transaction rolled back")
	return nil
}

// SetAutocommit toggles autocommit on the active session.
func (s *Service) SetAutocommit(enabled bool) error {
	client := s.ActiveClient()
	if client == nil {
		return ErrNoConnection
	}
	if err := client.SetAutocommit(enabled); err != nil {
		return fmt.Errorf("failed to set autocommit: %w", err)
	}
	return nil
}

// TransactionState reports the session's transaction state; ok is false when
// disconnected.
func (s *Service) TransactionState() (TransactionState, bool) {
	client := s.ActiveClient()
	if client == nil {
		return TransactionStateUnknown, false
	}
	return client.TransactionState(), true
}

// AutocommitStatus reports whether autocommit is enabled; ok is false when
// disconnected or the backend cannot say.
func (s *Service) AutocommitStatus() (bool, bool) {
	client := s.ActiveClient()
	if client == nil {
		return false, false
	}
	enabled, err := client.Autocommit()
	if err != nil {
		s.logger.Debug("autocommit lookup failed", "error", err)
		return false, false
	}
	return enabled, true
}

// ChangeDatabase switches the session's current database and updates
// bookkeeping.
func (s *Service) ChangeDatabase(name string) error {
	client := s.ActiveClient()
	if client == nil {
		return ErrNoConnection
	}
	validated, err := ValidateIdentifier(name)
	if err != nil {
		return err
	}
	if err := client.ChangeDatabase(validated); err != nil {
		return fmt.Errorf("failed to change database to %s: %w", validated, err)
	}
	s.mu.Lock()
	s.currentDatabase = validated
	s.mu.Unlock()
	s.notifySchemaChange()
	return nil
}

// ListDatabases returns the databases visible to the session.
func (s *Service) ListDatabases() ([]string, error) {
	client := s.ActiveClient()
	if client == nil {
		return nil, ErrNoConnection
	}
	if err := client.Execute("SHOW DATABASES"); err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	rows, err := client.FetchAll()
	if err != nil {
		return nil, err
	}
	return firstColumn(rows), nil
}

// ListTables returns the tables in the current database, best effort: nil on
// any failure.
func (s *Service) ListTables() []string {
	client := s.ActiveClient()
	if client == nil {
		return nil
	}
	if err := client.Execute("SHOW TABLES"); err != nil {
		s.logger.Debug("table listing failed", "error", err)
		return nil
	}
	rows, err := client.FetchAll()
	if err != nil {
		return nil
	}
	return firstColumn(rows)
}

// TableStructure describes a table via DESCRIBE.
func (s *Service) TableStructure(name string) ([]string, [][]any, error) {
	client := s.ActiveClient()
	if client == nil {
		return nil, nil, ErrNoConnection
	}
	validated, err := ValidateIdentifier(name)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Execute("DESCRIBE " + validated); err != nil {
		return nil, nil, fmt.Errorf("failed to describe %s: %w", validated, err)
	}
	rows, err := client.FetchAll()
	if err != nil {
		return nil, nil, err
	}
	return client.Columns(), rows, nil
}

// SchemaInfo is the session's schema snapshot for prompt building.
type SchemaInfo struct {
	CurrentDatabase string
	Tables          []string
}

// GetSchemaInfo snapshots the current database and its tables, best effort.
func (s *Service) GetSchemaInfo() SchemaInfo {
	return SchemaInfo{
		CurrentDatabase: s.CurrentDatabase(),
		Tables:          s.ListTables(),
	}
}

func firstColumn(rows [][]any) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			out = append(out, FormatCell(row[0]))
		}
	}
	return out
}
