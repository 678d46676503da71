package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"

	"github.com/catalogsync/catalogsync/internal/config"
)

const (
	driverLibsql   = "libsql"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// Store wraps the database connection holding synced items and run history.
type Store struct {
	DB     *sql.DB
	driver string
}

// Open initializes a store connection using the provided configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = driverLibsql
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var (
		dsn   string
		err   error
		local bool
	)
	switch driver {
	case driverLibsql:
		dsn, err = buildLibsqlDSN(cfg)
		local = !strings.HasPrefix(dsn, "libsql:") && !strings.HasPrefix(dsn, "http")
	case driverSQLite:
		dsn, err = buildSQLiteDSN(cfg)
		local = true
	case driverPostgres:
		dsn = strings.TrimSpace(cfg.URL)
		if dsn == "" {
			err = errors.New("store url is required for postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if local {
		// single writer for embedded databases; also keeps :memory: on one connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}

	store := &Store{DB: db, driver: driver}
	if local && dsn != ":memory:" {
		if err := store.configureLocal(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return store, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Driver returns the configured store driver.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Ping checks database connectivity for the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	return s.DB.PingContext(ctx)
}

func (s *Store) configureLocal(ctx context.Context) error {
	var mode string
	if err := s.DB.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var timeout int
	if err := s.DB.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&timeout); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != driverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}

	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}

	if strings.HasPrefix(path, "libsql:") {
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func buildSQLiteDSN(cfg config.StoreConfig) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path is required for sqlite")
	}
	if path == ":memory:" {
		return path, nil
	}

	localPath := path
	if strings.HasPrefix(path, "file:") {
		extracted, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		localPath = extracted
	}
	if err := ensureStoreDir(localPath); err != nil {
		return "", err
	}
	return path, nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
