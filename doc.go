// Package rdsaicli provides a backend-agnostic SQL execution layer for
// interactive database tooling.
//
// The layer sits between a shell or agent front-end and heterogeneous
// database engines: a networked MySQL-compatible server and an embedded
// DuckDB instance share one capability contract, so callers classify,
// execute and render statements the same way regardless of backend.
//
// # Quick Start
//
// Connect to a networked engine:
//
//	ctx := rdsaicli.ConnectMySQL(db.ConnectionConfig{
//		Engine: db.EngineMySQL,
//		Host:   "127.0.0.1",
//		Port:   3306,
//		User:   "root",
//	}, nil, nil)
//
//	result, _ := ctx.Service.ExecuteQuery("SELECT * FROM users LIMIT 10")
//	db.RenderTable(os.Stdout, result.Columns, result.Rows)
//
// Or load local files into an embedded engine and query them:
//
//	ctx := rdsaicli.OpenDataSources([]string{"file:///tmp/orders.csv"}, nil)
//	result, _ := ctx.Service.ExecuteQuery("SELECT COUNT(*) FROM orders")
//
// # What the layer does
//
//   - classifies statements by type and decides result-set vs affected-rows
//   - runs mysql-style SOURCE scripts with DELIMITER support
//   - parses data-source URLs (file, http, https, s3, duckdb) and bulk-loads
//     CSV and Excel files as tables
//   - probes the backend's vector-index capability
//   - tracks the last executed statement for agent briefing
package rdsaicli
