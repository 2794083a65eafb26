package main

import (
	"strings"
	"testing"

	"github.com/aliyun/rdsai-cli/db"
)

func setupTestCLI(t *testing.T) *CLI {
	t.Helper()
	svc := db.NewService(nil)
	return &CLI{
		service: svc,
		context: &db.ConnectionContext{Service: svc, History: db.NewQueryHistory(0)},
		history: make([]string, 0),
	}
}

func TestCLIAddToHistory(t *testing.T) {
	cli := setupTestCLI(t)

	cli.addToHistory("SELECT * FROM test;")
	cli.addToHistory("INSERT INTO test VALUES (1);")

	if len(cli.history) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(cli.history))
	}

	// Adding duplicate of last command should not increase count
	cli.addToHistory("INSERT INTO test VALUES (1);")
	if len(cli.history) != 2 {
		t.Errorf("Expected 2 history entries after duplicate, got %d", len(cli.history))
	}
}

func TestCLIHistoryLimit(t *testing.T) {
	cli := setupTestCLI(t)

	for i := 0; i < 1100; i++ {
		cli.addToHistory("SELECT " + string(rune(i)))
	}

	if len(cli.history) > 1000 {
		t.Errorf("Expected history to be limited to 1000, got %d", len(cli.history))
	}
}

func TestCLIGetPrompt(t *testing.T) {
	cli := setupTestCLI(t)

	prompt := cli.getPrompt(false)
	if !strings.Contains(prompt, "rdsai") {
		t.Error("Expected prompt to contain 'rdsai'")
	}

	prompt = cli.getPrompt(true)
	if !strings.Contains(prompt, "...>") {
		t.Error("Expected multi-line prompt to contain '...>'")
	}
}

func TestCLIHandleCommand(t *testing.T) {
	cli := setupTestCLI(t)

	tests := []struct {
		command  string
		expected bool // should return true (command handled)
	}{
		{".help", true},
		{".version", true},
		{".history", true},
		{".status", true},
		{".unknown", true}, // Unknown commands are still handled (with error message)
	}

	for _, test := range tests {
		result := cli.handleCommand(test.command)
		if result != test.expected {
			t.Errorf("handleCommand(%s) = %v, expected %v", test.command, result, test.expected)
		}
	}
}

func TestIsSourceLine(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"source setup.sql", true},
		{"SOURCE /tmp/setup.sql", true},
		{`\. setup.sql`, true},
		{"SELECT * FROM t;", false},
		{"sourcery", false},
	}

	for _, test := range tests {
		if got := isSourceLine(test.input); got != test.expected {
			t.Errorf("isSourceLine(%q) = %v, expected %v", test.input, got, test.expected)
		}
	}
}

func TestNormalizeSourceArgs(t *testing.T) {
	urls, err := normalizeSourceArgs([]string{"duckdb://:memory:", "https://example.com/data.csv"})
	if err != nil {
		t.Fatalf("normalizeSourceArgs failed: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("Expected 2 urls, got %d", len(urls))
	}

	if _, err := normalizeSourceArgs([]string{"what is this"}); err == nil {
		t.Error("Expected error for free text argument")
	}
}

func TestSSLOptions(t *testing.T) {
	if opts := sslOptions("", "", "", ""); opts != nil {
		t.Errorf("Expected nil options, got %v", opts)
	}

	opts := sslOptions("/tmp/ca.pem", "", "", "REQUIRED")
	if opts["ssl_ca"] != "/tmp/ca.pem" {
		t.Errorf("Expected ssl_ca to be set, got %v", opts)
	}
	if opts["ssl_mode"] != "REQUIRED" {
		t.Errorf("Expected ssl_mode to be set, got %v", opts)
	}
}

func TestVersionVariable(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		max      int
		expected string
	}{
		{"short", 10, "short"},
		{"this is a long string", 10, "this is..."},
		{"exact", 5, "exact"},
		{"ab", 10, "ab"},
	}

	for _, test := range tests {
		result := truncate(test.input, test.max)
		if result != test.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q", test.input, test.max, result, test.expected)
		}
	}
}
