package store

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/auditdeck/ratekeeper/internal/config"
)

type targetKind int

const (
	targetMemory targetKind = iota
	targetFile
	targetRemote
)

const memoryDSN = ":memory:"

// target is a resolved libsql connection string.
type target struct {
	dsn  string
	kind targetKind
}

// local reports whether the database lives in this process or on this disk.
// Local databases get a single connection.
func (t target) local() bool {
	return t.kind != targetRemote
}

// resolveTarget turns the store config into a libsql DSN. A URL wins over a
// path; bare paths become file: DSNs and their parent directory is created.
func resolveTarget(cfg config.StoreConfig) (target, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		dsn, err := withAuthToken(raw, cfg.AuthToken)
		if err != nil {
			return target{}, err
		}
		return target{dsn: dsn, kind: targetRemote}, nil
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return target{}, errors.New("store path or url is required")
	case path == memoryDSN:
		return target{dsn: memoryDSN, kind: targetMemory}, nil
	case strings.HasPrefix(path, "libsql:"):
		return target{dsn: path, kind: targetRemote}, nil
	case strings.HasPrefix(path, "file:"):
		parsed, err := url.Parse(path)
		if err != nil {
			return target{}, fmt.Errorf("invalid store path: %w", err)
		}
		local := parsed.Path
		if local == "" {
			local = parsed.Opaque
		}
		if err := mkdirParent(strings.TrimPrefix(local, "//")); err != nil {
			return target{}, err
		}
		return target{dsn: path, kind: targetFile}, nil
	default:
		clean := filepath.Clean(path)
		if err := mkdirParent(clean); err != nil {
			return target{}, err
		}
		return target{dsn: "file:" + clean, kind: targetFile}, nil
	}
}

// withAuthToken adds authToken to a remote URL unless the URL already has one.
func withAuthToken(raw, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return raw, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	q := parsed.Query()
	if q.Get("authToken") != "" {
		return raw, nil
	}
	q.Set("authToken", token)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func mkdirParent(path string) error {
	dir := filepath.Dir(path)
	if path == "" || dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- shared data directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
