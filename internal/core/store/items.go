package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/catalogsync/catalogsync/internal/core"
)

// Upsert inserts or updates an item keyed by SKU and reports which happened.
func (s *Store) Upsert(ctx context.Context, item core.RemoteItem) (core.UpsertResult, error) {
	if s == nil || s.DB == nil {
		return "", errors.New("store is not initialized")
	}
	if item.SKU == "" {
		return "", errors.New("item sku is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var raw sql.NullString
	if len(item.Raw) > 0 {
		data, err := json.Marshal(item.Raw)
		if err != nil {
			return "", fmt.Errorf("encode item raw payload: %w", err)
		}
		raw = sql.NullString{String: string(data), Valid: true}
	}

	var remoteUpdated sql.NullInt64
	if !item.UpdatedAt.IsZero() {
		remoteUpdated = sql.NullInt64{Int64: item.UpdatedAt.Unix(), Valid: true}
	}

	now := time.Now().UTC().Unix()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM items WHERE sku = ?`), item.SKU).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = 0
	case err != nil:
		return "", fmt.Errorf("lookup item %s: %w", item.SKU, err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO items (sku, scope, name, brand, price, stock, remote_updated_at, raw, first_seen_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku) DO UPDATE SET
			scope = excluded.scope,
			name = excluded.name,
			brand = excluded.brand,
			price = excluded.price,
			stock = excluded.stock,
			remote_updated_at = excluded.remote_updated_at,
			raw = excluded.raw,
			synced_at = excluded.synced_at
	`), item.SKU, item.Scope, item.Name, item.Brand, item.Price, item.Stock, remoteUpdated, raw, now, now)
	if err != nil {
		return "", fmt.Errorf("upsert item %s: %w", item.SKU, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit upsert: %w", err)
	}

	if exists == 1 {
		return core.UpsertUpdated, nil
	}
	return core.UpsertCreated, nil
}

// GetItem loads a stored item by SKU. It returns nil when the SKU is unknown.
func (s *Store) GetItem(ctx context.Context, sku string) (*core.RemoteItem, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		item          core.RemoteItem
		name, brand   sql.NullString
		price         sql.NullFloat64
		stock         sql.NullInt64
		remoteUpdated sql.NullInt64
		raw           sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, s.rebind(`
		SELECT sku, scope, name, brand, price, stock, remote_updated_at, raw
		FROM items WHERE sku = ?
	`), sku).Scan(&item.SKU, &item.Scope, &name, &brand, &price, &stock, &remoteUpdated, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", sku, err)
	}

	item.Name = name.String
	item.Brand = brand.String
	item.Price = price.Float64
	item.Stock = int(stock.Int64)
	if remoteUpdated.Valid {
		item.UpdatedAt = time.Unix(remoteUpdated.Int64, 0).UTC()
	}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &item.Raw); err != nil {
			return nil, fmt.Errorf("decode item %s raw payload: %w", sku, err)
		}
	}

	return &item, nil
}

// CountItems returns the number of stored items.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}
