package db

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const defaultDelimiter = ";"

const sourceUsage = `Usage: \. <filename> | source <filename>`

const maxScriptErrors = 10

var sourcePathPattern = regexp.MustCompile(`(?i)SOURCE\s+(.+)$`)

// parseSourcePath extracts the script path from a SOURCE statement,
// tolerating a trailing semicolon and quoted paths.
func parseSourcePath(sql string) (string, error) {
	trimmed := strings.TrimSpace(sql)
	if strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(trimmed[:len(trimmed)-1])
	}

	m := sourcePathPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return "", fmt.Errorf("missing filename\n%s", sourceUsage)
	}
	path := strings.TrimSpace(m[1])
	if path == "" {
		return "", fmt.Errorf("missing filename\n%s", sourceUsage)
	}

	if len(path) >= 2 {
		if (path[0] == '"' && path[len(path)-1] == '"') || (path[0] == '\'' && path[len(path)-1] == '\'') {
			quote := path[0]
			path = path[1 : len(path)-1]
			if quote == '"' {
				path = strings.ReplaceAll(path, `\"`, `"`)
				path = strings.ReplaceAll(path, `\\`, `\`)
			}
		}
	}
	if path == "" {
		return "", fmt.Errorf("missing filename\n%s", sourceUsage)
	}
	return path, nil
}

// readScriptFile reads the script through the injected filesystem, expanding
// ~ and resolving relative paths against the working directory. Non-UTF-8
// content falls back to a Latin-1 decode.
func (s *Service) readScriptFile(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to open file '%s', error: %v", path, err)
		}
		path = filepath.Join(home, path[1:])
	}
	if !filepath.IsAbs(path) {
		if cwd, err := os.Getwd(); err == nil {
			path = filepath.Join(cwd, path)
		}
	}

	info, err := s.scriptFS.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("failed to open file '%s', error: No such file or directory", path)
		}
		if os.IsPermission(err) {
			return "", fmt.Errorf("failed to open file '%s', error: Permission denied", path)
		}
		return "", fmt.Errorf("failed to open file '%s', error: %v", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("failed to open file '%s', error: Is a directory", path)
	}

	f, err := s.scriptFS.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return "", fmt.Errorf("failed to open file '%s', error: Permission denied", path)
		}
		return "", fmt.Errorf("failed to open file '%s', error: %v", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read file '%s', error: %v", path, err)
	}

	if !utf8.Valid(data) {
		decoded, derr := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if derr == nil {
			data = decoded
		}
	}
	return string(data), nil
}

// SplitStatements splits script content into statements at line granularity.
// Comment lines (-- and #) are dropped, blank lines are kept only inside a
// pending statement, and DELIMITER directives switch the terminator for the
// lines that follow. Matching is line-based and not quote-aware, so a
// delimiter inside a string literal on its own line boundary still splits.
func SplitStatements(content, delimiter string) []string {
	if delimiter == "" {
		delimiter = defaultDelimiter
	}

	var statements []string
	var current []string
	currentDelimiter := delimiter

	flush := func() {
		if len(current) == 0 {
			return
		}
		stmt := strings.TrimSpace(strings.Join(current, "\n"))
		current = nil
		if stmt == "" || strings.HasPrefix(strings.ToUpper(stmt), "DELIMITER") {
			return
		}
		statements = append(statements, stmt)
	}

	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)

		if stripped == "" {
			if len(current) > 0 {
				current = append(current, line)
			}
			continue
		}
		if strings.HasPrefix(stripped, "--") || strings.HasPrefix(stripped, "#") {
			continue
		}

		if strings.HasPrefix(strings.ToUpper(stripped), "DELIMITER") {
			flush()
			if rest := strings.TrimSpace(stripped[len("DELIMITER"):]); rest != "" {
				currentDelimiter = rest
			}
			continue
		}

		current = append(current, line)

		if strings.HasSuffix(stripped, currentDelimiter) {
			stmt := strings.TrimRightFunc(strings.Join(current, "\n"), unicode.IsSpace)
			current = nil
			if strings.HasSuffix(stmt, currentDelimiter) {
				stmt = strings.TrimSpace(stmt[:len(stmt)-len(currentDelimiter)])
			}
			if stmt != "" {
				statements = append(statements, stmt)
			}
		}
	}

	flush()
	return statements
}

// executeSourceCommand runs a SOURCE statement end to end: parse the path,
// read the file, split, execute. File-level failures come back as a failed
// result; statement-level failures are tallied into the summary.
func (s *Service) executeSourceCommand(sql string) QueryResult {
	path, err := parseSourcePath(sql)
	if err != nil {
		return QueryResult{QueryType: QuerySource, AffectedRows: -1, Error: err.Error()}
	}

	content, err := s.readScriptFile(path)
	if err != nil {
		return QueryResult{QueryType: QuerySource, AffectedRows: -1, Error: err.Error()}
	}

	return s.executeScript(content, path)
}

// executeScript executes every statement of a script sequentially,
// continuing past failures, and summarizes the run as one QueryResult.
func (s *Service) executeScript(content, filename string) QueryResult {
	statements := SplitStatements(content, defaultDelimiter)

	if len(statements) == 0 {
		return QueryResult{
			QueryType:    QuerySource,
			Success:      true,
			AffectedRows: -1,
			Error:        "No statements found in script",
		}
	}

	s.mu.Lock()
	display := s.sourceDisplay
	s.mu.Unlock()

	start := time.Now()
	total := len(statements)
	var affectedSum int64
	var failures []string

	for i, stmt := range statements {
		// Scripts do not recurse into other scripts.
		if ClassifyQuery(stmt) == QuerySource {
			failures = append(failures, fmt.Sprintf("Statement %d/%d: nested SOURCE is not supported", i+1, total))
			continue
		}

		result, err := s.ExecuteQuery(stmt)
		if err != nil {
			failures = append(failures, fmt.Sprintf("Statement %d/%d: %v", i+1, total, err))
			continue
		}
		if display != nil {
			display(stmt, result, HasVerticalDirective(stmt))
		}
		if !result.Success {
			failures = append(failures, fmt.Sprintf("Statement %d/%d: %s", i+1, total, result.Error))
			continue
		}
		if result.AffectedRows > 0 {
			affectedSum += result.AffectedRows
		}
	}

	elapsed := time.Since(start).Seconds()
	s.logger.Info("script executed",
		"file", filename, "statements", total, "failed", len(failures), "duration", formatDuration(elapsed))

	summary := QueryResult{
		QueryType:        QuerySource,
		Success:          len(failures) == 0,
		AffectedRows:     -1,
		ExecutionTimeSec: elapsed,
	}
	if affectedSum > 0 {
		summary.AffectedRows = affectedSum
	}
	if len(failures) > 0 {
		shown := failures
		if len(shown) > maxScriptErrors {
			shown = shown[:maxScriptErrors]
		}
		summary.Error = strings.Join(shown, "\n")
		if extra := len(failures) - maxScriptErrors; extra > 0 {
			summary.Error += fmt.Sprintf("\n... and %d more error(s)", extra)
		}
	}
	return summary
}
