package rdsaicli

import (
	"log/slog"

	"github.com/aliyun/rdsai-cli/db"
)

// NewService builds a disconnected session manager. A nil logger uses
// slog.Default.
func NewService(logger *slog.Logger) *db.Service {
	return db.NewService(logger)
}

// ConnectMySQL connects to a networked MySQL-compatible engine and returns
// the connection context. Failures are reported through the context's Status
// and Err so front-ends can render them.
func ConnectMySQL(cfg db.ConnectionConfig, logger *slog.Logger, prompt db.PasswordPrompt) *db.ConnectionContext {
	cfg.Engine = db.EngineMySQL
	return db.CreateConnectionContext(cfg, logger, prompt)
}

// OpenDataSources opens an embedded DuckDB engine over the given data-source
// URLs, bulk-loading every file://, http(s):// and s3:// source as a table.
func OpenDataSources(rawURLs []string, logger *slog.Logger) *db.ConnectionContext {
	return db.CreateDataSourceContext(rawURLs, logger)
}
