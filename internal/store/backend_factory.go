package store

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildBackendFromDSN picks a snapshot backend from a DSN string. An empty
// DSN falls back to the file backend at fallbackPath (the auto-managed
// "notes" value in the settings directory).
func BuildBackendFromDSN(dsn, fallbackPath string) (SnapshotBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewFileBackend(fallbackPath), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileBackend(path), nil
	case "memory", "mem", "inmem":
		return NewMemoryBackend(), nil
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteBackend(path)
	case "postgres", "postgresql":
		return NewPostgresBackend(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDSN, scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	path := parsed.Path
	if parsed.Opaque != "" {
		path = parsed.Opaque
	}
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: no path in %q", ErrInvalidDSN, raw)
	}
	return path, nil
}
