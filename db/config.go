package db

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aliyun/rdsai-cli/source"
)

// ConnectionConfig carries everything needed to establish a backend session.
type ConnectionConfig struct {
	Engine Engine
	Host   string
	Port   int
	User   string

	// Password is nil when no password was supplied; the Service may then
	// prompt for one interactively.
	Password *string

	// Database is the initial database, empty for the engine default.
	Database string

	// SSL holds TLS options for networked engines: ssl_ca, ssl_cert,
	// ssl_key, ssl_mode.
	SSL map[string]string

	// DataSource is the on-disk database path for embedded engines,
	// empty for in-memory.
	DataSource string
}

// ConnectionID derives the stable identifier for this configuration.
func (cfg ConnectionConfig) ConnectionID() string {
	return fmt.Sprintf("%s_%s_%d_%s", cfg.Engine, cfg.Host, cfg.Port, cfg.User)
}

// ConnectionStatus is the outcome of building a ConnectionContext.
type ConnectionStatus string

const (
	StatusConnected ConnectionStatus = "connected"
	StatusFailed    ConnectionStatus = "failed"
)

// ConnectionContext bundles a Service with the per-connection bookkeeping a
// front-end needs: history, display name, load results and failure state.
type ConnectionContext struct {
	Service      *Service
	History      *QueryHistory
	Status       ConnectionStatus
	DisplayName  string
	ConnectionID string

	// LoadResults describes tables ingested from data-source URLs,
	// populated for embedded-engine contexts only.
	LoadResults []source.LoadResult

	Err error
}

// Connected reports whether the context holds a usable connection.
func (c *ConnectionContext) Connected() bool {
	return c.Status == StatusConnected
}

// CreateConnectionContext connects to a networked engine and wraps the
// resulting Service. Connection failure is reported through the context's
// Status and Err rather than an error return, so front-ends can render it.
func CreateConnectionContext(cfg ConnectionConfig, logger *slog.Logger, prompt PasswordPrompt) *ConnectionContext {
	svc := NewService(logger)
	svc.SetPasswordPrompt(prompt)

	ctx := &ConnectionContext{
		Service: svc,
		History: NewQueryHistory(0),
	}

	id, err := svc.Connect(cfg)
	if err != nil {
		ctx.Status = StatusFailed
		ctx.Err = err
		return ctx
	}

	ctx.Status = StatusConnected
	ctx.ConnectionID = id
	ctx.DisplayName = networkDisplayName(cfg)
	return ctx
}

func networkDisplayName(cfg ConnectionConfig) string {
	if cfg.Database != "" {
		return fmt.Sprintf("%s (%s:%d)", cfg.Database, cfg.Host, cfg.Port)
	}
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// CreateDataSourceContext opens an embedded engine over the given data-source
// URLs. At most one duckdb:// URL selects the database itself (in-memory
// otherwise); every file://, http(s):// or s3:// URL is bulk-loaded as a
// table. Failure to load every file fails the context.
func CreateDataSourceContext(rawURLs []string, logger *slog.Logger) *ConnectionContext {
	ctx := &ConnectionContext{History: NewQueryHistory(0)}

	var native *source.ParsedURL
	var loadable []source.ParsedURL
	for _, raw := range rawURLs {
		parsed, err := source.Parse(raw)
		if err != nil {
			ctx.Status = StatusFailed
			ctx.Err = err
			return ctx
		}
		if parsed.IsNative() {
			if native != nil {
				ctx.Status = StatusFailed
				ctx.Err = fmt.Errorf("multiple duckdb:// sources given, expected at most one")
				return ctx
			}
			p := parsed
			native = &p
			continue
		}
		loadable = append(loadable, parsed)
	}

	client, err := OpenDuckDB(native)
	if err != nil {
		ctx.Status = StatusFailed
		ctx.Err = err
		return ctx
	}

	cfg := ConnectionConfig{Engine: EngineDuckDB, Host: "local"}
	if native != nil && !native.IsMemory {
		cfg.DataSource = native.Path
	}

	svc := NewService(logger)
	svc.adopt(client, cfg)
	ctx.Service = svc

	if len(loadable) > 0 {
		results, err := client.LoadFiles(loadable)
		if err != nil {
			if cerr := client.Close(); cerr != nil {
				svc.logger.Warn("closing embedded engine after failed load", "error", cerr)
			}
			ctx.Status = StatusFailed
			ctx.Err = err
			return ctx
		}
		ctx.LoadResults = results
		svc.notifySchemaChange()
	}

	ctx.Status = StatusConnected
	ctx.ConnectionID = cfg.ConnectionID()
	ctx.DisplayName = dataSourceDisplayName(native, ctx.LoadResults)
	return ctx
}

// dataSourceDisplayName names an embedded-engine context after its database
// file, or after the loaded tables when running in memory.
func dataSourceDisplayName(native *source.ParsedURL, loads []source.LoadResult) string {
	if native != nil && !native.IsMemory {
		return filepath.Base(native.Path)
	}
	if len(loads) == 0 {
		return "duckdb::memory"
	}
	names := make([]string, 0, len(loads))
	for _, l := range loads {
		names = append(names, l.Table)
	}
	if len(names) > 3 {
		return fmt.Sprintf("%s +%d more", strings.Join(names[:3], ", "), len(names)-3)
	}
	return strings.Join(names, ", ")
}
