package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogsync/catalogsync/internal/config"
	"github.com/catalogsync/catalogsync/internal/core/engine"
	apperrors "github.com/catalogsync/catalogsync/internal/errors"
	"github.com/catalogsync/catalogsync/internal/server/handlers"
)

type fakeController struct {
	triggered int
}

func (f *fakeController) Status() engine.RunnerStatus { return engine.RunnerStatus{RunCount: 3} }

func (f *fakeController) Trigger(context.Context) error {
	f.triggered++
	return nil
}

func testServer(t *testing.T, deps Dependencies) *Server {
	t.Helper()
	t.Cleanup(func() { handlers.SetHTTPErrorResponder(nil) })
	return New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, deps)
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := testServer(t, Dependencies{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/version", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerRoutes(t *testing.T) {
	controller := &fakeController{}
	health := handlers.NewHealthManager("1.0.0")
	srv := testServer(t, Dependencies{
		Health: health,
		Sync:   &handlers.SyncHandlers{Runner: controller},
	})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/health/live", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodGet, "/health/startup", http.StatusServiceUnavailable},
		{http.MethodGet, "/version", http.StatusOK},
		{http.MethodGet, "/sync/status", http.StatusOK},
		{http.MethodGet, "/sync/runs", http.StatusServiceUnavailable},
		{http.MethodPost, "/sync/trigger", http.StatusAccepted},
		{http.MethodPost, "/admin/signal", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, 1, controller.triggered)

	health.MarkStarted()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/startup", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerStatusReportsRunner(t *testing.T) {
	srv := testServer(t, Dependencies{Sync: &handlers.SyncHandlers{Runner: &fakeController{}}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body handlers.SyncStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 3, body.Runner.RunCount)
	assert.Empty(t, body.Breakers)
}

func TestServerAddrAndShutdown(t *testing.T) {
	srv := New(config.ServerConfig{Host: "localhost", Port: 8181}, Dependencies{})
	t.Cleanup(func() { handlers.SetHTTPErrorResponder(nil) })

	assert.Equal(t, "localhost:8181", srv.Addr())
	assert.NotNil(t, srv.Health())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}

func TestDurationOr(t *testing.T) {
	assert.Equal(t, 5*time.Second, durationOr(0, 5*time.Second))
	assert.Equal(t, time.Second, durationOr(time.Second, 5*time.Second))
}
