// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/abbot/internal/config"
	"github.com/autobrr/abbot/internal/dispatch"
	"github.com/autobrr/abbot/internal/domain"
	"github.com/autobrr/abbot/internal/metrics"
	"github.com/autobrr/abbot/internal/mirror"
	"github.com/autobrr/abbot/internal/scraper"
)

type routeKey struct {
	Method string
	Path   string
}

type fakeService struct {
	noClient bool
	sent     []string
	deleted  []string
}

func (f *fakeService) Search(_ context.Context, query string, _ int) ([]domain.BookSummary, error) {
	if _, err := scraper.NormalizeQuery(query); err != nil {
		return nil, err
	}
	if query == "offline" {
		return nil, fmt.Errorf("%w: every mirror failed", scraper.ErrSourceUnreachable)
	}
	return []domain.BookSummary{{Title: "Dune", DetailsLink: "/abss/dune/", Categories: []string{}}}, nil
}

func (f *fakeService) Details(_ context.Context, link string) (domain.BookDetails, error) {
	if strings.HasPrefix(link, "https://evil.example") {
		return domain.BookDetails{}, &scraper.SSRFError{Link: link, Reason: "host is not a listing mirror"}
	}
	return domain.BookDetails{BookSummary: domain.BookSummary{Title: "Dune", DetailsLink: link}, InfoHash: "abc"}, nil
}

func (f *fakeService) HasClient() bool { return !f.noClient }

func (f *fakeService) SendDetails(_ context.Context, link, _ string) dispatch.Result {
	if f.noClient {
		return dispatch.Result{Kind: dispatch.KindClientUnavailable, Message: "Torrent client is unavailable"}
	}
	f.sent = append(f.sent, link)
	return dispatch.Result{OK: true, Message: "Download added."}
}

func (f *fakeService) SendMagnet(_ context.Context, uri, _ string) dispatch.Result {
	if !strings.HasPrefix(uri, "magnet:?") {
		return dispatch.Result{Kind: dispatch.KindInvalidRequest, Message: "Invalid request"}
	}
	f.sent = append(f.sent, uri)
	return dispatch.Result{OK: true, Message: "Download added."}
}

func (f *fakeService) Status(context.Context) ([]domain.TorrentRecord, error) {
	if f.noClient {
		return nil, dispatch.ErrNoClient
	}
	return []domain.TorrentRecord{{ID: "abc123", Name: "Dune", Progress: 50, State: "downloading", Size: "1.0 GiB"}}, nil
}

func (f *fakeService) Delete(_ context.Context, id string, _ bool) dispatch.Result {
	if id == "gone" {
		return dispatch.Result{Kind: dispatch.KindClientRejected, Message: "Torrent client refused the request"}
	}
	f.deleted = append(f.deleted, id)
	return dispatch.Result{OK: true, Message: "Torrent removed."}
}

type stubProber struct {
	outcome mirror.Outcome
}

func (p stubProber) Probe(context.Context, mirror.Candidate) mirror.Outcome {
	return p.outcome
}

func newTestDependencies(t *testing.T, svc *fakeService, cfg *domain.Config, outcome mirror.Outcome) *Dependencies {
	t.Helper()

	if cfg == nil {
		cfg = &domain.Config{BaseURL: "/"}
	}
	reg := mirror.NewRegistry("audiobookbay.lu", "https", []string{"audiobookbay.is"}, false)

	return &Dependencies{
		Config:   &config.AppConfig{Config: cfg},
		Version:  "test",
		Service:  svc,
		Resolver: mirror.NewResolver(reg, stubProber{outcome: outcome}, mirror.ResolverOptions{}),
		Metrics:  metrics.New(),
	}
}

func newTestRouter(t *testing.T, svc *fakeService) http.Handler {
	t.Helper()

	router, err := NewServer(newTestDependencies(t, svc, nil, mirror.OutcomeReachable)).Handler()
	require.NoError(t, err)
	return router
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIRoutes(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		noClient bool
		status   int
		contains string
	}{
		{name: "search", method: http.MethodGet, target: "/api/search?q=dune", status: http.StatusOK, contains: `"count":1`},
		{name: "search_pages", method: http.MethodGet, target: "/api/search?q=dune&pages=2", status: http.StatusOK},
		{name: "search_bad_pages", method: http.MethodGet, target: "/api/search?q=dune&pages=99", status: http.StatusBadRequest},
		{name: "search_missing_query", method: http.MethodGet, target: "/api/search", status: http.StatusBadRequest},
		{name: "search_short_query", method: http.MethodGet, target: "/api/search?q=a", status: http.StatusBadRequest, contains: `"kind":"invalid_request"`},
		{name: "search_offline", method: http.MethodGet, target: "/api/search?q=offline", status: http.StatusBadGateway, contains: `"kind":"source_unreachable"`},
		{name: "details", method: http.MethodGet, target: "/api/details?link=/abss/dune/", status: http.StatusOK, contains: `"link":"/abss/dune/"`},
		{name: "details_ssrf", method: http.MethodGet, target: "/api/details?link=https://evil.example/x", status: http.StatusBadRequest, contains: `"kind":"ssrf_rejected"`},
		{name: "send_link", method: http.MethodPost, target: "/api/send", body: `{"link":"/abss/dune/"}`, status: http.StatusOK, contains: `"ok":true`},
		{name: "send_magnet", method: http.MethodPost, target: "/api/send", body: `{"magnet":"magnet:?xt=urn:btih:abc"}`, status: http.StatusOK},
		{name: "send_bad_magnet", method: http.MethodPost, target: "/api/send", body: `{"magnet":"http://x"}`, status: http.StatusBadRequest},
		{name: "send_both", method: http.MethodPost, target: "/api/send", body: `{"link":"/a","magnet":"magnet:?x"}`, status: http.StatusBadRequest},
		{name: "send_empty", method: http.MethodPost, target: "/api/send", body: `{}`, status: http.StatusBadRequest},
		{name: "send_garbage", method: http.MethodPost, target: "/api/send", body: `{`, status: http.StatusBadRequest},
		{name: "send_no_client", method: http.MethodPost, target: "/api/send", body: `{"link":"/abss/dune/"}`, noClient: true, status: http.StatusServiceUnavailable},
		{name: "status", method: http.MethodGet, target: "/api/status", status: http.StatusOK, contains: `"size":"1.0 GiB"`},
		{name: "status_search", method: http.MethodGet, target: "/api/status?search=foundation", status: http.StatusOK, contains: `"count":0`},
		{name: "status_no_client", method: http.MethodGet, target: "/api/status", noClient: true, status: http.StatusServiceUnavailable, contains: `"kind":"client_unavailable"`},
		{name: "delete", method: http.MethodDelete, target: "/api/torrents/abc123?purge=true", status: http.StatusOK},
		{name: "delete_bad_purge", method: http.MethodDelete, target: "/api/torrents/abc123?purge=maybe", status: http.StatusBadRequest},
		{name: "delete_rejected", method: http.MethodDelete, target: "/api/torrents/gone", status: http.StatusConflict},
		{name: "version", method: http.MethodGet, target: "/api/version", status: http.StatusOK, contains: `"hasClient":true`},
		{name: "mirrors", method: http.MethodGet, target: "/api/mirrors", status: http.StatusOK, contains: `"candidates":["audiobookbay.lu","audiobookbay.is"]`},
		{name: "openapi", method: http.MethodGet, target: "/api/openapi.yaml", status: http.StatusOK, contains: "openapi:"},
		{name: "health", method: http.MethodGet, target: "/health", status: http.StatusOK},
		{name: "liveness", method: http.MethodGet, target: "/healthz/liveness", status: http.StatusOK},
		{name: "readiness", method: http.MethodGet, target: "/healthz/readiness", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &fakeService{noClient: tt.noClient})

			rec := do(t, router, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestSendAndDeleteReachService(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(t, svc)

	do(t, router, http.MethodPost, "/api/send", `{"link":"/abss/dune/","title":"Dune"}`)
	do(t, router, http.MethodDelete, "/api/torrents/abc123", "")

	assert.Equal(t, []string{"/abss/dune/"}, svc.sent)
	assert.Equal(t, []string{"abc123"}, svc.deleted)
}

func TestReadinessFailsWhenEveryMirrorIsDown(t *testing.T) {
	deps := newTestDependencies(t, &fakeService{}, nil, mirror.OutcomeUnreachable)
	_, err := deps.Resolver.Resolve(context.Background())
	require.Error(t, err)

	router, err := NewServer(deps).Handler()
	require.NoError(t, err)

	rec := do(t, router, http.MethodGet, "/healthz/readiness", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body.Status)
	assert.Contains(t, body.Checks["mirrors"], "unreachable")
}

func TestMetricsEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		status  int
	}{
		{name: "enabled", enabled: true, status: http.StatusOK},
		{name: "disabled", enabled: false, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &domain.Config{BaseURL: "/", MetricsEnabled: tt.enabled}
			router, err := NewServer(newTestDependencies(t, &fakeService{}, cfg, mirror.OutcomeReachable)).Handler()
			require.NoError(t, err)

			rec := do(t, router, http.MethodGet, "/metrics", "")
			assert.Equal(t, tt.status, rec.Code)
			if tt.enabled {
				assert.Contains(t, rec.Body.String(), "go_goroutines")
			}
		})
	}
}

func TestBaseURLMountsAPI(t *testing.T) {
	cfg := &domain.Config{BaseURL: "/abbot/"}
	router, err := NewServer(newTestDependencies(t, &fakeService{}, cfg, mirror.OutcomeReachable)).Handler()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/abbot/api/version", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/", "").Code)
}

func TestAllEndpointsDocumented(t *testing.T) {
	server := NewServer(newTestDependencies(t, &fakeService{}, nil, mirror.OutcomeReachable))
	router, err := server.Handler()
	require.NoError(t, err)

	actualRoutes := collectRouterRoutes(t, router)
	documentedRoutes := loadDocumentedRoutes(t)

	undocumented := diffRoutes(actualRoutes, documentedRoutes)
	if len(undocumented) > 0 {
		t.Fatalf("found %d undocumented API endpoints:\n%s", len(undocumented), formatRoutes(undocumented))
	}

	missingHandlers := diffRoutes(documentedRoutes, actualRoutes)
	if len(missingHandlers) > 0 {
		t.Fatalf("found %d documented endpoints without handlers:\n%s", len(missingHandlers), formatRoutes(missingHandlers))
	}

	t.Logf("checked %d API routes registered in chi", len(actualRoutes))
}

func collectRouterRoutes(t *testing.T, r chi.Routes) map[routeKey]struct{} {
	t.Helper()

	routes := make(map[routeKey]struct{})
	err := chi.Walk(r, func(method string, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		method = strings.ToUpper(method)
		if !isComparableMethod(method) {
			return nil
		}

		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			return nil
		}

		routes[routeKey{Method: method, Path: normalizedPath}] = struct{}{}
		return nil
	})
	require.NoError(t, err)

	return routes
}

func loadDocumentedRoutes(t *testing.T) map[routeKey]struct{} {
	t.Helper()

	specBytes := OpenAPISpec()
	require.NotEmpty(t, specBytes, "OpenAPI spec should be embedded")

	var spec map[string]any
	require.NoError(t, yaml.Unmarshal(specBytes, &spec))

	pathsNode, ok := spec["paths"].(map[string]any)
	require.True(t, ok, "OpenAPI spec missing paths section")

	routes := make(map[routeKey]struct{})
	for path, pathItem := range pathsNode {
		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			continue
		}

		methods, ok := pathItem.(map[string]any)
		if !ok {
			continue
		}

		for method := range methods {
			upperMethod := strings.ToUpper(method)
			if !isComparableMethod(upperMethod) {
				continue
			}
			routes[routeKey{Method: upperMethod, Path: normalizedPath}] = struct{}{}
		}
	}

	return routes
}

func normalizeRoutePath(path string) (string, bool) {
	if path == "" || strings.Contains(path, "/*") {
		return "", false
	}

	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	if !strings.HasPrefix(path, "/api") && !strings.HasPrefix(path, "/health") {
		return "", false
	}

	return path, true
}

func isComparableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func diffRoutes(left, right map[routeKey]struct{}) []routeKey {
	diff := make([]routeKey, 0)
	for route := range left {
		if _, exists := right[route]; !exists {
			diff = append(diff, route)
		}
	}

	sort.Slice(diff, func(i, j int) bool {
		if diff[i].Path == diff[j].Path {
			return diff[i].Method < diff[j].Method
		}
		return diff[i].Path < diff[j].Path
	})

	return diff
}

func formatRoutes(routes []routeKey) string {
	lines := make([]string, len(routes))
	for i, route := range routes {
		lines[i] = fmt.Sprintf("%s %s", route.Method, route.Path)
	}
	return strings.Join(lines, "\n")
}
