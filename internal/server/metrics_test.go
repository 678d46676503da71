package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry/exporters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogsync/catalogsync/internal/observability"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func stubExporter(t *testing.T, transport roundTripFunc) {
	t.Helper()
	originalClient := metricsProxyClient
	originalExporter := observability.PrometheusExporter
	t.Cleanup(func() {
		metricsProxyClient = originalClient
		observability.PrometheusExporter = originalExporter
	})
	metricsProxyClient = &http.Client{Transport: transport}
	observability.PrometheusExporter = exporters.NewPrometheusExporter("catalogsync", ":9090")
}

func TestMetricsHandlerForwardsScrape(t *testing.T) {
	var gotAccept string
	stubExporter(t, func(req *http.Request) (*http.Response, error) {
		gotAccept = req.Header.Get("Accept")
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("# HELP catalogsync_sync_runs_total Finished sync runs\ncatalogsync_sync_runs_total 1\n")),
			Header:     make(http.Header),
		}
		resp.Header.Set("Connection", "keep-alive")
		return resp, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "text/plain")
	rec := httptest.NewRecorder()
	MetricsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", gotAccept)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Empty(t, rec.Header().Get("Connection"))
	assert.Contains(t, rec.Body.String(), "catalogsync_sync_runs_total 1")
}

func TestMetricsHandlerExporterDown(t *testing.T) {
	stubExporter(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	rec := httptest.NewRecorder()
	MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMetricsHandlerWithoutExporter(t *testing.T) {
	original := observability.PrometheusExporter
	observability.PrometheusExporter = nil
	t.Cleanup(func() { observability.PrometheusExporter = original })

	rec := httptest.NewRecorder()
	MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
}
