package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SupportedExtensions maps loadable file extensions to their format tag.
var SupportedExtensions = map[string]string{
	".csv":  FormatCSV,
	".xlsx": FormatExcel,
}

const (
	FormatCSV   = "csv"
	FormatExcel = "excel"
)

// FileLoadError reports a failure to ingest one source.
type FileLoadError struct {
	URL string
	Err error
}

func (e *FileLoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.URL, e.Err)
}

func (e *FileLoadError) Unwrap() error { return e.Err }

// UnsupportedFileFormatError reports a source whose extension is not
// loadable. Legacy Excel gets a dedicated hint.
type UnsupportedFileFormatError struct {
	URL       string
	Extension string
}

func (e *UnsupportedFileFormatError) Error() string {
	if e.Extension == ".xls" {
		return fmt.Sprintf("%s is a legacy Excel 97-2003 file; convert it to .xlsx first", e.URL)
	}
	exts := make([]string, 0, len(SupportedExtensions))
	for ext := range SupportedExtensions {
		exts = append(exts, ext)
	}
	return fmt.Sprintf("unsupported file format %q in %s, supported formats: %s", e.Extension, e.URL, strings.Join(exts, ", "))
}

// Executor is the slice of a database client the loader needs.
type Executor interface {
	Execute(sql string) error
	FetchAll() ([][]any, error)
}

// LoadResult describes one ingested table.
type LoadResult struct {
	URL     string
	Table   string
	Rows    int64
	Columns int
}

// RemoteFetcher downloads a remote object to a local temp file and returns
// its path with a cleanup function.
type RemoteFetcher func(rawURL string) (string, func(), error)

// Loader bulk-loads tabular sources into an engine via CREATE TABLE AS.
type Loader struct {
	exec    Executor
	fetchS3 RemoteFetcher
	logger  *slog.Logger
}

// NewLoader builds a loader over exec. A nil logger uses slog.Default; S3
// sources are fetched with the default AWS credential chain.
func NewLoader(exec Executor, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		exec:    exec,
		fetchS3: func(rawURL string) (string, func(), error) { return FetchS3Object(rawURL, nil) },
		logger:  logger,
	}
}

// SetRemoteFetcher overrides how s3:// sources are downloaded.
func (l *Loader) SetRemoteFetcher(fetch RemoteFetcher) {
	l.fetchS3 = fetch
}

// InferTableName derives a table name from a source URL or path: the base
// name without extension, non-identifier characters folded to underscore,
// digit-leading names prefixed with underscore, "data" when nothing remains.
func InferTableName(rawURL string) string {
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
	}
	base := filepath.Base(filepath.ToSlash(path))
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	for _, r := range stem {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" || strings.Trim(name, "_") == "" {
		return "data"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

// DetectFormat classifies a source by extension.
func DetectFormat(rawURL string) (string, error) {
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	ext := strings.ToLower(filepath.Ext(path))
	format, ok := SupportedExtensions[ext]
	if !ok {
		return "", &UnsupportedFileFormatError{URL: rawURL, Extension: ext}
	}
	return format, nil
}

// Load ingests one source as table. An empty table name is inferred from the
// URL. The returned LoadResult carries row and column counts.
func (l *Loader) Load(parsed ParsedURL, table string) (LoadResult, error) {
	rawURL := parsed.URL()

	if table == "" {
		table = InferTableName(rawURL)
	}
	if err := validateTableName(table); err != nil {
		return LoadResult{}, &FileLoadError{URL: rawURL, Err: err}
	}

	format, err := DetectFormat(rawURL)
	if err != nil {
		return LoadResult{}, err
	}

	location, cleanup, err := l.resolveLocation(parsed)
	if err != nil {
		return LoadResult{}, &FileLoadError{URL: rawURL, Err: err}
	}
	if cleanup != nil {
		defer cleanup()
	}

	var readFn string
	switch format {
	case FormatCSV:
		readFn = "read_csv_auto"
	case FormatExcel:
		readFn = "read_xlsx"
	}

	stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s('%s')",
		table, readFn, strings.ReplaceAll(location, "'", "''"))
	if err := l.exec.Execute(stmt); err != nil {
		return LoadResult{}, &FileLoadError{URL: rawURL, Err: err}
	}

	result := LoadResult{URL: rawURL, Table: table}
	result.Rows, result.Columns = l.tableCounts(table)
	l.logger.Info("loaded data source", "url", rawURL, "table", table, "rows", result.Rows)
	return result, nil
}

// LoadAll ingests every source, deduplicating inferred table names with a
// numeric suffix. Individual failures are collected; only when every source
// fails does LoadAll return an error.
func (l *Loader) LoadAll(parsed []ParsedURL) ([]LoadResult, error) {
	var results []LoadResult
	var failures []string
	taken := make(map[string]bool)

	for _, p := range parsed {
		table := uniqueTableName(InferTableName(p.URL()), taken)
		res, err := l.Load(p, table)
		if err != nil {
			l.logger.Warn("data source load failed", "url", p.URL(), "error", err)
			failures = append(failures, fmt.Sprintf("  %s: %v", p.URL(), err))
			continue
		}
		taken[res.Table] = true
		results = append(results, res)
	}

	if len(results) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("failed to load all files:\n%s", strings.Join(failures, "\n"))
	}
	return results, nil
}

func uniqueTableName(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "_" + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// resolveLocation turns a parsed source into something the engine's read
// functions accept: a verified local path, a direct URL for http(s), or a
// downloaded temp file for s3.
func (l *Loader) resolveLocation(parsed ParsedURL) (string, func(), error) {
	switch {
	case parsed.IsFile():
		info, err := os.Stat(parsed.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", nil, fmt.Errorf("file not found: %s", parsed.Path)
			}
			return "", nil, err
		}
		if info.IsDir() {
			return "", nil, fmt.Errorf("%s is a directory, expected a file", parsed.Path)
		}
		return parsed.Path, nil, nil

	case parsed.IsHTTP():
		return parsed.Path, nil, nil

	case parsed.IsS3():
		return l.fetchS3(parsed.Path)

	default:
		return "", nil, fmt.Errorf("source %s is not loadable", parsed.URL())
	}
}

var tableNamePattern = `^[A-Za-z_][A-Za-z0-9_]*$`

func validateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("empty table name")
	}
	for i, r := range name {
		alpha := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_'
		if alpha || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return fmt.Errorf("invalid table name %q (want %s)", name, tableNamePattern)
	}
	return nil
}

// tableCounts fetches row and column counts for a freshly loaded table,
// best effort.
func (l *Loader) tableCounts(table string) (int64, int) {
	var rows int64 = -1
	if err := l.exec.Execute(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err == nil {
		if data, err := l.exec.FetchAll(); err == nil && len(data) > 0 && len(data[0]) > 0 {
			rows = toInt64(data[0][0])
		}
	}
	cols := 0
	if err := l.exec.Execute(fmt.Sprintf("PRAGMA table_info('%s')", table)); err == nil {
		if data, err := l.exec.FetchAll(); err == nil {
			cols = len(data)
		}
	}
	return rows, cols
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			return parsed
		}
	}
	return -1
}
