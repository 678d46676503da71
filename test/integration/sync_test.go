package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogsync/catalogsync/internal/core"
	"github.com/catalogsync/catalogsync/internal/observability"
	"github.com/catalogsync/catalogsync/internal/server/handlers"
)

func TestSyncPipeline_TriggerPersistsMergedCatalog(t *testing.T) {
	observability.InitServerLogger("test", "error")

	fake := newFakeMarketplace()
	fake.catalogs["main"] = [][]map[string]any{
		{item("A-1", 10), item("B-2", 20)},
		{item("C-3", 30)},
	}
	fake.catalogs["outlet"] = [][]map[string]any{
		{item("A-1", 7), item("D-4", 40)},
	}
	market := startServer(t, fake)

	p := newPipeline(t, market.URL, "main", "outlet")
	api := startServer(t, p.server.Handler())
	client := api.Client()

	resp, err := client.Post(api.URL+"/sync/trigger", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	p.runner.Wait()

	status := p.runner.Status()
	require.NotNil(t, status.LastRun)
	run := status.LastRun
	assert.Equal(t, core.RunCompleted, run.Status)
	assert.Equal(t, 5, run.ItemsCollected)
	assert.Equal(t, 4, run.ItemsMerged)
	assert.Equal(t, 1, run.DuplicatesRemoved)
	assert.Equal(t, 4, run.Created)
	assert.Equal(t, map[string]int{"main": 2, "outlet": 1}, run.PagesProcessed())
	assert.Equal(t, 2, fake.Calls("main"))
	assert.Equal(t, 1, fake.Calls("outlet"))

	stored, err := p.store.GetItem(context.Background(), "A-1")
	require.NoError(t, err)
	assert.Equal(t, "main", stored.Scope)
	assert.InDelta(t, 10.0, stored.Price, 0.001)

	count, err := p.store.CountItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	resp, err = client.Get(api.URL + "/sync/runs?limit=5")
	require.NoError(t, err)
	var runs handlers.RunsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 1, runs.Count)
	assert.Equal(t, run.ID, runs.Runs[0].ID)
	assert.Equal(t, core.RunCompleted, runs.Runs[0].Status)

	resp, err = client.Get(api.URL + "/sync/status")
	require.NoError(t, err)
	var syncStatus handlers.SyncStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&syncStatus))
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, 3, syncStatus.Metrics.Total)
	assert.Equal(t, 1, syncStatus.Runner.RunCount)

	resp, err = client.Get(api.URL + "/health/ready")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncPipeline_SecondRunUpdatesItems(t *testing.T) {
	observability.InitServerLogger("test", "error")

	fake := newFakeMarketplace()
	fake.catalogs["main"] = [][]map[string]any{{item("A-1", 10)}}
	market := startServer(t, fake)

	p := newPipeline(t, market.URL, "main")

	first, err := p.runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Run.Created)

	fake.mu.Lock()
	fake.catalogs["main"] = [][]map[string]any{{item("A-1", 12)}}
	fake.mu.Unlock()

	second, err := p.runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Run.Created)
	assert.Equal(t, 1, second.Run.Updated)

	stored, err := p.store.GetItem(context.Background(), "A-1")
	require.NoError(t, err)
	assert.InDelta(t, 12.0, stored.Price, 0.001)

	runs, err := p.store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.ElementsMatch(t, []string{first.Run.ID, second.Run.ID}, []string{runs[0].ID, runs[1].ID})
}

func TestSyncPipeline_FailingScopeDegradesHealth(t *testing.T) {
	observability.InitServerLogger("test", "error")

	fake := newFakeMarketplace()
	fake.catalogs["main"] = [][]map[string]any{{item("A-1", 10)}}
	fake.status["broken"] = http.StatusBadGateway
	market := startServer(t, fake)

	p := newPipeline(t, market.URL, "main", "broken")

	result, err := p.runner.RunOnce(context.Background())
	require.NoError(t, err)

	run := result.Run
	assert.Equal(t, core.RunCompleted, run.Status)
	assert.Equal(t, core.ScopeCompleted, run.Scopes["main"].Status)
	assert.Equal(t, core.ScopeFailed, run.Scopes["broken"].Status)
	require.NotEmpty(t, run.Scopes["broken"].Errors)
	assert.Equal(t, core.CodeTransient, run.Scopes["broken"].Errors[0].Code)
	assert.Equal(t, 1, run.ItemsMerged)

	api := startServer(t, p.server.Handler())
	resp, err := api.Client().Get(api.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	// Half of the requests failed, which is above the error-rate ceiling.
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSyncPipeline_UnknownScopeIsConfigError(t *testing.T) {
	fake := newFakeMarketplace()
	market := startServer(t, fake)

	p := newPipeline(t, market.URL, "main")
	p.orch.Settings.Scopes = []string{"ghost"}

	_, err := p.runner.RunOnce(context.Background())
	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 0, fake.Calls("ghost"))
}
