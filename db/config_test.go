package db

import (
	"testing"

	"github.com/aliyun/rdsai-cli/source"
)

func TestConnectionID(t *testing.T) {
	cfg := ConnectionConfig{Engine: EngineMySQL, Host: "db.example.com", Port: 3306, User: "app"}
	if got := cfg.ConnectionID(); got != "mysql_db.example.com_3306_app" {
		t.Errorf("ConnectionID() = %q", got)
	}

	cfg = ConnectionConfig{Engine: EngineDuckDB, Host: "local"}
	if got := cfg.ConnectionID(); got != "duckdb_local_0_" {
		t.Errorf("ConnectionID() = %q", got)
	}
}

func TestNetworkDisplayName(t *testing.T) {
	cfg := ConnectionConfig{Host: "db.example.com", Port: 3306}
	if got := networkDisplayName(cfg); got != "db.example.com:3306" {
		t.Errorf("networkDisplayName() = %q", got)
	}

	cfg.Database = "shop"
	if got := networkDisplayName(cfg); got != "shop (db.example.com:3306)" {
		t.Errorf("networkDisplayName() = %q", got)
	}
}

func TestDataSourceDisplayName(t *testing.T) {
	file := source.ParsedURL{Protocol: source.ProtocolDuckDB, Path: "/data/app.db"}
	if got := dataSourceDisplayName(&file, nil); got != "app.db" {
		t.Errorf("expected file base name, got %q", got)
	}

	if got := dataSourceDisplayName(nil, nil); got != "duckdb::memory" {
		t.Errorf("expected memory label, got %q", got)
	}

	loads := []source.LoadResult{{Table: "orders"}, {Table: "users"}}
	if got := dataSourceDisplayName(nil, loads); got != "orders, users" {
		t.Errorf("expected table list, got %q", got)
	}

	loads = []source.LoadResult{
		{Table: "a"}, {Table: "b"}, {Table: "c"}, {Table: "d"}, {Table: "e"},
	}
	if got := dataSourceDisplayName(nil, loads); got != "a, b, c +2 more" {
		t.Errorf("expected truncated table list, got %q", got)
	}
}

func TestCreateConnectionContextFailure(t *testing.T) {
	// An unknown engine fails in the client factory before any dialing.
	ctx := CreateConnectionContext(ConnectionConfig{Engine: "oracle", Host: "h", Port: 1}, testLogger(), nil)
	if ctx.Connected() {
		t.Fatal("expected failed context")
	}
	if ctx.Status != StatusFailed || ctx.Err == nil {
		t.Errorf("expected failed status with error, got %s / %v", ctx.Status, ctx.Err)
	}
	if ctx.History == nil {
		t.Error("expected history even on failure")
	}
}

func TestCreateDataSourceContextRejectsBadURLs(t *testing.T) {
	ctx := CreateDataSourceContext([]string{"what is this"}, testLogger())
	if ctx.Connected() {
		t.Fatal("expected failed context for free text")
	}

	ctx = CreateDataSourceContext([]string{"duckdb://:memory:", "duckdb:///data/app.db"}, testLogger())
	if ctx.Connected() {
		t.Fatal("expected failed context for two native sources")
	}
	if ctx.Err == nil {
		t.Error("expected error for two native sources")
	}
}
