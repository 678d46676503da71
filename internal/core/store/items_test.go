package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/catalogsync/catalogsync/internal/config"
	"github.com/catalogsync/catalogsync/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, config.StoreConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	item := core.RemoteItem{
		SKU:       "A-1",
		Scope:     "main",
		Name:      "Lamp",
		Brand:     "Lumen",
		Price:     19.5,
		Stock:     4,
		UpdatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Raw:       map[string]any{"title": "Lamp"},
	}

	result, err := store.Upsert(ctx, item)
	require.NoError(t, err)
	require.Equal(t, core.UpsertCreated, result)

	item.Price = 17
	item.Scope = "secondary"
	result, err = store.Upsert(ctx, item)
	require.NoError(t, err)
	require.Equal(t, core.UpsertUpdated, result)

	stored, err := store.GetItem(ctx, "A-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "secondary", stored.Scope)
	require.InDelta(t, 17, stored.Price, 0.0001)
	require.Equal(t, 4, stored.Stock)
	require.Equal(t, item.UpdatedAt, stored.UpdatedAt)
	require.Equal(t, "Lamp", stored.Raw["title"])

	count, err := store.CountItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestGetItemMissing(t *testing.T) {
	store := openTestStore(t)
	item, err := store.GetItem(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, item)
}

func TestUpsertRequiresSKU(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Upsert(context.Background(), core.RemoteItem{Scope: "main"})
	require.Error(t, err)
}

func TestSaveAndListRuns(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		completed := base.Add(time.Duration(i)*time.Hour + time.Minute)
		run := &core.SyncRun{
			ID:              id,
			ScopesRequested: []string{"main"},
			Scopes: map[string]*core.ScopeReport{
				"main": {Scope: "main", Status: core.ScopeCompleted, PagesProcessed: i + 1},
			},
			ItemsMerged: 10 * i,
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			CompletedAt: &completed,
			Status:      core.RunCompleted,
		}
		require.NoError(t, store.SaveRun(ctx, run))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-3", runs[0].ID)
	require.Equal(t, "run-2", runs[1].ID)
	require.Equal(t, 3, runs[0].Scopes["main"].PagesProcessed)
	require.Equal(t, 20, runs[0].ItemsMerged)

	replaced := runs[1]
	replaced.Status = core.RunFailed
	require.NoError(t, store.SaveRun(ctx, replaced))

	runs, err = store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, core.RunFailed, runs[1].Status)
}
