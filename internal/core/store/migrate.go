package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS items (
		sku TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		name TEXT,
		brand TEXT,
		price {{REAL}},
		stock INTEGER,
		remote_updated_at BIGINT,
		raw TEXT,
		first_seen_at BIGINT NOT NULL,
		synced_at BIGINT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_items_scope ON items(scope);`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at BIGINT NOT NULL,
		completed_at BIGINT,
		items_collected INTEGER NOT NULL DEFAULT 0,
		items_merged INTEGER NOT NULL DEFAULT 0,
		duplicates_removed INTEGER NOT NULL DEFAULT 0,
		created_count INTEGER NOT NULL DEFAULT 0,
		updated_count INTEGER NOT NULL DEFAULT 0,
		report TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, s.dialect(stmt)); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}

func (s *Store) dialect(stmt string) string {
	floatType := "REAL"
	if s.driver == driverPostgres {
		floatType = "DOUBLE PRECISION"
	}
	return strings.ReplaceAll(stmt, "{{REAL}}", floatType)
}
