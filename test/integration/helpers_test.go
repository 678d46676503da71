package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/catalogsync/catalogsync/internal/config"
	"github.com/catalogsync/catalogsync/internal/core"
	"github.com/catalogsync/catalogsync/internal/core/engine"
	"github.com/catalogsync/catalogsync/internal/core/marketplace"
	"github.com/catalogsync/catalogsync/internal/core/store"
	"github.com/catalogsync/catalogsync/internal/metrics"
	"github.com/catalogsync/catalogsync/internal/observability"
	"github.com/catalogsync/catalogsync/internal/server"
	"github.com/catalogsync/catalogsync/internal/server/handlers"
)

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// listenOrSkip binds IPv4 loopback explicitly and skips when the sandbox
// refuses to open sockets.
func listenOrSkip(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping: loopback listen not permitted: %v", err)
		}
		require.NoError(t, err)
	}
	return listener
}

func startServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ts := &httptest.Server{
		Listener: listenOrSkip(t),
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

// fakeMarketplace serves the card listing endpoint. Catalogs are keyed by the
// basic-auth username; each catalog is a list of pages.
type fakeMarketplace struct {
	mu       sync.Mutex
	catalogs map[string][][]map[string]any
	calls    map[string]int
	status   map[string]int
}

func newFakeMarketplace() *fakeMarketplace {
	return &fakeMarketplace{
		catalogs: map[string][][]map[string]any{},
		calls:    map[string]int{},
		status:   map[string]int{},
	}
}

func (f *fakeMarketplace) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != marketplace.ListPath {
		http.NotFound(w, r)
		return
	}
	user, _, ok := r.BasicAuth()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req struct {
		Page int `json:"page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls[user]++
	status := f.status[user]
	pages := f.catalogs[user]
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	var results []map[string]any
	if req.Page >= 1 && req.Page <= len(pages) {
		results = pages[req.Page-1]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"results":    results,
		"pagination": map[string]any{"totalPages": len(pages)},
	})
}

func (f *fakeMarketplace) Calls(user string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[user]
}

type pipeline struct {
	cfg      *config.Config
	store    *store.Store
	monitor  *engine.Monitor
	breakers *engine.BreakerRegistry
	orch     *engine.Orchestrator
	runner   *engine.Runner
	server   *server.Server
}

// newPipeline wires the engine the way the serve command does, against the
// given marketplace URL and a temporary sqlite store.
func newPipeline(t *testing.T, marketplaceURL string, scopes ...string) *pipeline {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		Scopes:     map[string]config.ScopeConfig{},
		RateLimits: map[string]core.RateLimits{"catalog": {PerSecond: 50, PerMinute: 1000}},
		Breaker:    config.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute},
	}
	for _, scope := range scopes {
		cfg.Scopes[scope] = config.ScopeConfig{
			BaseURL:  marketplaceURL,
			Username: scope,
			Password: "secret",
			Timeout:  2 * time.Second,
		}
	}

	db, err := store.Open(ctx, config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "catalog.db")})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { _ = db.Close() })

	limiter, err := engine.NewRateLimiter(config.ResourceLimits(cfg.RateLimits), 0)
	require.NoError(t, err)

	breakers, err := engine.NewBreakerRegistry(engine.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	}, nil)
	require.NoError(t, err)

	monitor := engine.NewMonitor(time.Minute, engine.DefaultThresholds, nil)

	orch := &engine.Orchestrator{
		Credentials: cfg,
		Fetcher:     &marketplace.Client{HTTP: &http.Client{}},
		Limiter:     limiter,
		Breakers:    breakers,
		Monitor:     monitor,
		Sink:        db,
		Metrics:     metrics.TelemetrySink{},
		Runs:        db,
		Settings: engine.SyncSettings{
			Scopes:         scopes,
			ResourceClass:  core.ResourceCatalog,
			MaxPages:       5,
			ItemsPerPage:   2,
			RetryBaseDelay: time.Millisecond,
			RetryMaxDelay:  5 * time.Millisecond,
			MaxRetries:     1,
		},
	}
	if observability.ServerLogger != nil {
		orch.Logger = observability.ServerLogger
	}
	runner := engine.NewRunner(orch)

	hm := handlers.NewHealthManager("test")
	hm.RegisterCritical("store", handlers.StoreChecker{Store: db})
	hm.RegisterChecker("marketplace", handlers.MonitorChecker{Monitor: monitor})
	hm.RegisterChecker("circuit_breakers", handlers.BreakerChecker{Breakers: breakers})
	hm.MarkStarted()

	srv := server.New(config.ServerConfig{Host: "127.0.0.1"}, server.Dependencies{
		Health: hm,
		Sync: &handlers.SyncHandlers{
			Runner:   runner,
			Runs:     db,
			Monitor:  monitor,
			Breakers: breakers,
		},
	})
	t.Cleanup(func() { handlers.SetHTTPErrorResponder(nil) })

	return &pipeline{
		cfg:      cfg,
		store:    db,
		monitor:  monitor,
		breakers: breakers,
		orch:     orch,
		runner:   runner,
		server:   srv,
	}
}

func item(sku string, price float64) map[string]any {
	return map[string]any{"sku": sku, "name": "Item " + sku, "price": price, "stock": 1}
}
