package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw      string
		protocol Protocol
		path     string
		isMemory bool
	}{
		{"file:///data/orders.csv", ProtocolFile, "/data/orders.csv", false},
		{"file://relative/orders.csv", ProtocolFile, "/relative/orders.csv", false},
		{"duckdb:///data/app.db", ProtocolDuckDB, "/data/app.db", false},
		{"duckdb://:memory:", ProtocolDuckDB, MemoryPath, true},
		{"DUCKDB://:MEMORY:", ProtocolDuckDB, MemoryPath, true},
		{"http://example.com/data.csv", ProtocolHTTP, "http://example.com/data.csv", false},
		{"https://example.com/data.csv?sig=abc", ProtocolHTTPS, "https://example.com/data.csv?sig=abc", false},
		{"https://example.com/data.csv?v=1#sheet2", ProtocolHTTPS, "https://example.com/data.csv?v=1#sheet2", false},
		{"http://example.com/report.xlsx#Sales", ProtocolHTTP, "http://example.com/report.xlsx#Sales", false},
		{"s3://bucket/path/data.csv", ProtocolS3, "s3://bucket/path/data.csv", false},
	}

	for _, test := range tests {
		parsed, err := Parse(test.raw)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", test.raw, err)
			continue
		}
		if parsed.Protocol != test.protocol {
			t.Errorf("Parse(%q) protocol = %s, expected %s", test.raw, parsed.Protocol, test.protocol)
		}
		if parsed.Path != test.path {
			t.Errorf("Parse(%q) path = %q, expected %q", test.raw, parsed.Path, test.path)
		}
		if parsed.IsMemory != test.isMemory {
			t.Errorf("Parse(%q) isMemory = %v, expected %v", test.raw, parsed.IsMemory, test.isMemory)
		}
	}
}

func TestParseErrors(t *testing.T) {
	invalid := []string{
		"",
		"no-scheme.csv",
		"://missing-scheme",
		"ftp://example.com/data.csv",
		"s3:///missing-bucket",
		"http://",
	}

	for _, raw := range invalid {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) unexpectedly succeeded", raw)
		}
	}

	_, err := Parse("ftp://example.com/data.csv")
	if err == nil || !strings.Contains(err.Error(), "duckdb://") {
		t.Errorf("expected unsupported-protocol error to list supported schemes, got: %v", err)
	}
}

func TestURLRoundTrip(t *testing.T) {
	raws := []string{
		"file:///data/orders.csv",
		"duckdb://:memory:",
		"duckdb:///data/app.db",
		"https://example.com/data.csv?sig=abc",
		"https://example.com/data.csv?v=1#sheet2",
		"s3://bucket/data.csv",
	}

	for _, raw := range raws {
		parsed, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", raw, err)
		}
		again, err := Parse(parsed.URL())
		if err != nil {
			t.Fatalf("Parse(URL()) failed for %q: %v", raw, err)
		}
		if again != parsed {
			t.Errorf("round trip changed %q: %+v vs %+v", raw, parsed, again)
		}
	}
}

func TestProtocolPredicates(t *testing.T) {
	file, _ := Parse("file:///a.csv")
	if !file.IsFile() || file.IsHTTP() || file.IsS3() || file.IsNative() {
		t.Error("file:// predicates wrong")
	}
	https, _ := Parse("https://h/a.csv")
	if !https.IsHTTP() {
		t.Error("https:// should be HTTP")
	}
	native, _ := Parse("duckdb://:memory:")
	if !native.IsNative() {
		t.Error("duckdb:// should be native")
	}
}

func TestHasProtocol(t *testing.T) {
	if !HasProtocol("s3://bucket/key") {
		t.Error("expected scheme to be detected")
	}
	if HasProtocol("plain/path.csv") {
		t.Error("expected plain path to have no scheme")
	}
}

func TestIsBareFilename(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"data.csv", true},
		{"Report.XLSX", true},
		{"dir/data.csv", false},
		{"./data.csv", false},
		{"..\\data.csv", false},
		{"C:data.csv", false},
		{"data.txt", false},
		{"file://data.csv", false},
		{"", false},
	}

	for _, test := range tests {
		if got := IsBareFilename(test.path); got != test.expected {
			t.Errorf("IsBareFilename(%q) = %v, expected %v", test.path, got, test.expected)
		}
	}
}

func TestIsLocalFilePath(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"data.csv", true},
		{"dir/data.csv", true},
		{"~/exports/data.xlsx", true},
		{"dir/data.txt", false},
		{"how many users", false},
		{"s3://bucket/data.csv", false},
	}

	for _, test := range tests {
		if got := IsLocalFilePath(test.path); got != test.expected {
			t.Errorf("IsLocalFilePath(%q) = %v, expected %v", test.path, got, test.expected)
		}
	}
}

func TestResolveFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.csv")
	if err := os.WriteFile(path, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	resolved, err := ResolveFilePath(path)
	if err != nil {
		t.Fatalf("ResolveFilePath failed: %v", err)
	}
	if resolved != path {
		t.Errorf("expected %q, got %q", path, resolved)
	}

	if _, err := ResolveFilePath(filepath.Join(dir, "absent.csv")); err == nil {
		t.Error("expected error for missing file")
	} else if !strings.Contains(err.Error(), "file not found") {
		t.Errorf("expected 'file not found', got: %v", err)
	}

	if _, err := ResolveFilePath(dir); err == nil {
		t.Error("expected error for directory")
	}
}

func TestNormalizeLocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.csv")
	if err := os.WriteFile(path, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	normalized, err := NormalizeLocalPath(path)
	if err != nil {
		t.Fatalf("NormalizeLocalPath failed: %v", err)
	}
	if !strings.HasPrefix(normalized, "file://") {
		t.Errorf("expected file:// URL, got %q", normalized)
	}
	if _, err := Parse(normalized); err != nil {
		t.Errorf("normalized URL should parse: %v", err)
	}
}
