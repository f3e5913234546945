package serverapp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tns-records/internal/tenant"

	"github.com/DATA-DOG/go-sqlmock"
)

func pingTenant(t *testing.T, id string, pingErr error) *tenant.Tenant {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	expect := mock.ExpectPing()
	if pingErr != nil {
		expect.WillReturnError(pingErr)
	}
	return &tenant.Tenant{ID: id, DB: db}
}

func TestHealthHandler_AllTenantsHealthy(t *testing.T) {
	registry, err := tenant.NewRegistry(pingTenant(t, "192", nil), pingTenant(t, "207", nil))
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	rec := httptest.NewRecorder()
	healthHandler(registry, time.Second)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Status != "healthy" || body.Tenants["192"] != "ok" || body.Tenants["207"] != "ok" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHealthHandler_OneTenantDown(t *testing.T) {
	registry, err := tenant.NewRegistry(
		pingTenant(t, "192", nil),
		pingTenant(t, "207", errors.New("connection refused: 10.0.0.7:3050")),
	)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	rec := httptest.NewRecorder()
	healthHandler(registry, time.Second)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Status != "unhealthy" || body.Tenants["192"] != "ok" || body.Tenants["207"] != "failed" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if got := rec.Body.String(); containsAny(got, "10.0.0.7", "refused") {
		t.Fatalf("health body leaks driver error: %s", got)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
