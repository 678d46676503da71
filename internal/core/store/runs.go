package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/catalogsync/catalogsync/internal/core"
)

const defaultRunLimit = 20

// SaveRun stores or replaces a run report.
func (s *Store) SaveRun(ctx context.Context, run *core.SyncRun) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}

	var completedAt sql.NullInt64
	if run.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: run.CompletedAt.UnixMilli(), Valid: true}
	}

	_, err = s.DB.ExecContext(ctx, s.rebind(`
		INSERT INTO sync_runs (id, status, started_at, completed_at, items_collected, items_merged, duplicates_removed, created_count, updated_count, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			items_collected = excluded.items_collected,
			items_merged = excluded.items_merged,
			duplicates_removed = excluded.duplicates_removed,
			created_count = excluded.created_count,
			updated_count = excluded.updated_count,
			report = excluded.report
	`), run.ID, string(run.Status), run.StartedAt.UnixMilli(), completedAt,
		run.ItemsCollected, run.ItemsMerged, run.DuplicatesRemoved, run.Created, run.Updated, string(report))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*core.SyncRun, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = defaultRunLimit
	}

	rows, err := s.DB.QueryContext(ctx, s.rebind(`
		SELECT report FROM sync_runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	runs := []*core.SyncRun{}
	for rows.Next() {
		var report string
		if err := rows.Scan(&report); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var run core.SyncRun
		if err := json.Unmarshal([]byte(report), &run); err != nil {
			return nil, fmt.Errorf("decode run report: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	return runs, nil
}
