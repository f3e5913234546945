package serverapp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tns-records/internal/catalog"
	"tns-records/internal/config"
	"tns-records/internal/schemarefresh"
	"tns-records/internal/tenant"
)

func staticRegistry(t *testing.T, ids ...string) *tenant.Registry {
	t.Helper()
	tenants := make([]*tenant.Tenant, 0, len(ids))
	for _, id := range ids {
		cat, err := catalog.New(catalog.Table{Real: "MATERIAL", Columns: []catalog.Column{{Real: "MATID"}, {Real: "CODIGO"}}})
		if err != nil {
			t.Fatalf("failed to build catalog: %v", err)
		}
		tenants = append(tenants, &tenant.Tenant{ID: id, Catalogs: schemarefresh.NewStatic(id, cat)})
	}
	registry, err := tenant.NewRegistry(tenants...)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return registry
}

func adminConfig(enabled bool) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			HealthCheckTimeout: time.Second,
			Admin: config.AdminConfig{
				CatalogReloadEnabled: enabled,
				AuthToken:            "secret-token",
				AuthTokenHeader:      "X-Admin-Token",
			},
		},
	}
}

func TestBuildRouter_AdminRouteDisabledReturnsNotFound(t *testing.T) {
	cfg := adminConfig(false)
	recordsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	adminHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux := buildRouter(cfg, testLogger(), staticRegistry(t, "192"), recordsHandler, adminHandler, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/reload-catalog", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestBuildRouter_AdminRouteEnabledInvokesHandler(t *testing.T) {
	cfg := adminConfig(true)
	recordsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	adminHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux := buildRouter(cfg, testLogger(), staticRegistry(t, "192"), recordsHandler, adminHandler, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/reload-catalog", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
}

func TestBuildRouter_RecordsRoute(t *testing.T) {
	cfg := adminConfig(false)
	var hits int
	recordsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})

	mux := buildRouter(cfg, testLogger(), staticRegistry(t, "192"), recordsHandler, nil, nil)

	for _, path := range []string{"/records", "/records/"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status %d, got %d", path, http.StatusOK, rec.Code)
		}
	}
	if hits != 2 {
		t.Fatalf("expected records handler to run twice, ran %d times", hits)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tns/records/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d for unknown path, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestBuildAdminHandler_DisabledReturnsNil(t *testing.T) {
	handler, err := buildAdminHandler(adminConfig(false), testLogger(), staticRegistry(t, "192"), nil)
	if err != nil {
		t.Fatalf("unexpected buildAdminHandler error: %v", err)
	}
	if handler != nil {
		t.Fatalf("expected nil handler when catalog reload is disabled")
	}
}

func TestBuildAdminHandler_RequiresToken(t *testing.T) {
	cfg := adminConfig(true)
	cfg.Server.Admin.AuthToken = ""

	if _, err := buildAdminHandler(cfg, testLogger(), staticRegistry(t, "192"), nil); err == nil {
		t.Fatalf("expected error for missing admin token")
	}
}

func TestBuildAdminHandler_TokenModeMissingHeaderUnauthorized(t *testing.T) {
	adminHandler, err := buildAdminHandler(adminConfig(true), testLogger(), staticRegistry(t, "192"), nil)
	if err != nil {
		t.Fatalf("unexpected buildAdminHandler error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/reload-catalog", nil)
	rec := httptest.NewRecorder()
	adminHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestBuildAdminHandler_TokenModeValidHeaderReachesHandler(t *testing.T) {
	adminHandler, err := buildAdminHandler(adminConfig(true), testLogger(), staticRegistry(t, "192"), nil)
	if err != nil {
		t.Fatalf("unexpected buildAdminHandler error: %v", err)
	}

	// GET verifies token auth passes through to catalogReloadHandler without refreshing.
	req := httptest.NewRequest(http.MethodGet, "/admin/reload-catalog", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	rec := httptest.NewRecorder()
	adminHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestCatalogReloadHandler_AllTenants(t *testing.T) {
	handler := catalogReloadHandler(staticRegistry(t, "207", "192"), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-catalog", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var body reloadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Status != "ok" || len(body.Tenants) != 2 || body.Tenants[0] != "192" || body.Tenants[1] != "207" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCatalogReloadHandler_SingleTenant(t *testing.T) {
	handler := catalogReloadHandler(staticRegistry(t, "207", "192"), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-catalog?tenant=207", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var body reloadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if len(body.Tenants) != 1 || body.Tenants[0] != "207" {
		t.Fatalf("unexpected tenants: %v", body.Tenants)
	}
}

func TestCatalogReloadHandler_UnknownTenant(t *testing.T) {
	handler := catalogReloadHandler(staticRegistry(t, "192"), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-catalog?tenant=999", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}
