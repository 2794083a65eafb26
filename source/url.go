// Package source parses data-source URLs and ingests tabular files into an
// embedded analytical engine.
package source

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Protocol is a supported data-source URL scheme.
type Protocol string

const (
	ProtocolFile   Protocol = "file"
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolS3     Protocol = "s3"
	ProtocolDuckDB Protocol = "duckdb"
)

// MemoryPath is the sentinel authority selecting an in-memory database.
const MemoryPath = ":memory:"

const supportedProtocolList = "file://, http://, https://, s3://, duckdb://"

// ParsedURL is the normalized form of a data-source URL.
type ParsedURL struct {
	Protocol Protocol

	// Path is the local filesystem path for file and duckdb URLs, and the
	// full canonical URL for http(s) and s3 sources.
	Path string

	// IsMemory marks the duckdb://:memory: sentinel.
	IsMemory bool
}

// IsFile reports a file:// source.
func (u ParsedURL) IsFile() bool { return u.Protocol == ProtocolFile }

// IsHTTP reports an http:// or https:// source.
func (u ParsedURL) IsHTTP() bool {
	return u.Protocol == ProtocolHTTP || u.Protocol == ProtocolHTTPS
}

// IsS3 reports an s3:// source.
func (u ParsedURL) IsS3() bool { return u.Protocol == ProtocolS3 }

// IsNative reports a duckdb:// source, the engine's own database rather than
// a file to ingest.
func (u ParsedURL) IsNative() bool { return u.Protocol == ProtocolDuckDB }

// URL renders the canonical URL form; Parse(u.URL()) round-trips.
func (u ParsedURL) URL() string {
	switch u.Protocol {
	case ProtocolDuckDB:
		if u.IsMemory {
			return "duckdb://" + MemoryPath
		}
		return "duckdb://" + u.Path
	case ProtocolFile:
		return "file://" + u.Path
	default:
		return u.Path
	}
}

// HasProtocol reports whether raw carries an explicit scheme marker.
func HasProtocol(raw string) bool {
	return strings.Contains(raw, "://")
}

// Parse normalizes a data-source URL. The scheme is matched manually because
// the duckdb://:memory: sentinel is not a valid URL authority; only http(s)
// URLs go through net/url for normalization.
func Parse(raw string) (ParsedURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ParsedURL{}, fmt.Errorf("empty data-source URL")
	}

	idx := strings.Index(raw, "://")
	if idx <= 0 {
		return ParsedURL{}, fmt.Errorf("unsupported protocol in %q, supported protocols: %s", raw, supportedProtocolList)
	}
	scheme := strings.ToLower(raw[:idx])
	rest := raw[idx+3:]

	switch scheme {
	case "file":
		return ParsedURL{Protocol: ProtocolFile, Path: authorityPath(rest)}, nil

	case "duckdb":
		if strings.EqualFold(rest, MemoryPath) {
			return ParsedURL{Protocol: ProtocolDuckDB, Path: MemoryPath, IsMemory: true}, nil
		}
		return ParsedURL{Protocol: ProtocolDuckDB, Path: authorityPath(rest)}, nil

	case "http", "https":
		u, err := url.Parse(raw)
		if err != nil {
			return ParsedURL{}, fmt.Errorf("invalid %s URL %q: %w", scheme, raw, err)
		}
		if u.Host == "" {
			return ParsedURL{}, fmt.Errorf("invalid %s URL %q: missing host", scheme, raw)
		}
		canonical := scheme + "://" + u.Host + u.Path
		if u.RawQuery != "" {
			canonical += "?" + u.RawQuery
		}
		if u.Fragment != "" {
			canonical += "#" + u.Fragment
		}
		return ParsedURL{Protocol: Protocol(scheme), Path: canonical}, nil

	case "s3":
		if rest == "" || strings.HasPrefix(rest, "/") {
			return ParsedURL{}, fmt.Errorf("invalid s3 URL %q: missing bucket", raw)
		}
		return ParsedURL{Protocol: ProtocolS3, Path: "s3://" + rest}, nil

	default:
		return ParsedURL{}, fmt.Errorf("unsupported protocol %q://, supported protocols: %s", scheme, supportedProtocolList)
	}
}

// authorityPath reconstructs a local path from everything after the scheme
// marker. file://relative/p parses with "relative" in authority position, so
// the authority is folded back into the path.
func authorityPath(rest string) string {
	if decoded, err := url.PathUnescape(rest); err == nil {
		rest = decoded
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// IsBareFilename reports whether path is a plain filename with a supported
// data extension: no scheme, no directory components, no relative-path or
// drive-letter prefix. Bare filenames resolve against the working directory.
func IsBareFilename(path string) bool {
	if path == "" || HasProtocol(path) {
		return false
	}
	if strings.ContainsAny(path, `/\`) {
		return false
	}
	if strings.HasPrefix(path, ".") {
		return false
	}
	if len(path) > 1 && path[1] == ':' {
		return false
	}
	_, ok := SupportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsLocalFilePath reports whether path looks like a local file reference,
// bare or with directory components, as opposed to free text.
func IsLocalFilePath(path string) bool {
	if path == "" || HasProtocol(path) {
		return false
	}
	if IsBareFilename(path) {
		return true
	}
	if !strings.ContainsAny(path, `/\`) && !strings.HasPrefix(path, "~") {
		return false
	}
	_, ok := SupportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ResolveFilePath expands and absolutizes a local file reference, verifying
// it names an existing regular file.
func ResolveFilePath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot expand %q: %w", path, err)
		}
		path = filepath.Join(home, path[1:])
	}
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("cannot resolve %q: %w", path, err)
		}
		path = filepath.Join(cwd, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("cannot access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, expected a file", path)
	}
	return path, nil
}

// NormalizeLocalPath turns a local file reference into its file:// URL.
func NormalizeLocalPath(path string) (string, error) {
	resolved, err := ResolveFilePath(path)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(resolved), nil
}
