package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/services"
)

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func decodeErrorEnvelope(t *testing.T, resp *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var envelope errorEnvelope
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return envelope
}

type stubSystemService struct {
	reportFn func(ctx context.Context) (services.SystemReport, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemReport, error) {
	if s.reportFn != nil {
		return s.reportFn(ctx)
	}
	return services.SystemReport{
		Status:      domain.HealthStatusOK,
		Checks:      map[string]domain.SystemHealthCheck{},
		GeneratedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}, nil
}

func TestRouterHealthz(t *testing.T) {
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(&stubSystemService{})))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", payload["status"])
	}
}

func TestRouterReadyzReportsDegradedChecks(t *testing.T) {
	system := &stubSystemService{
		reportFn: func(ctx context.Context) (services.SystemReport, error) {
			return services.SystemReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusDegraded, Detail: "slow responses", Latency: 1200 * time.Millisecond},
				},
				Version:     "1.4.0",
				Environment: "staging",
				Uptime:      2 * time.Hour,
				GeneratedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(system)))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 for degraded, got %d", resp.Code)
	}

	var payload healthReportPayload
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Status != "degraded" {
		t.Fatalf("expected degraded status, got %s", payload.Status)
	}
	if payload.Version != "1.4.0" || payload.Environment != "staging" {
		t.Fatalf("unexpected build metadata: %+v", payload)
	}
	check, ok := payload.Checks["firestore"]
	if !ok {
		t.Fatalf("expected firestore check, got %+v", payload.Checks)
	}
	if check.LatencyMS != 1200 {
		t.Fatalf("expected latency 1200ms, got %d", check.LatencyMS)
	}
}

func TestRouterReadyzErrorStatusIsUnavailable(t *testing.T) {
	system := &stubSystemService{
		reportFn: func(ctx context.Context) (services.SystemReport, error) {
			return services.SystemReport{
				Status:      domain.HealthStatusError,
				Checks:      map[string]domain.SystemHealthCheck{},
				GeneratedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(system)))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", resp.Code)
	}
}

func TestRouterUnknownRouteReturnsJSONEnvelope(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	envelope := decodeErrorEnvelope(t, resp)
	if envelope.Error != "route_not_found" {
		t.Fatalf("expected route_not_found, got %s", envelope.Error)
	}
	if envelope.Success {
		t.Fatalf("expected success false")
	}
}

func TestRouterUnconfiguredGroupReturnsNotImplemented(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501, got %d", resp.Code)
	}
	envelope := decodeErrorEnvelope(t, resp)
	if envelope.Error != "not_implemented" {
		t.Fatalf("expected not_implemented, got %s", envelope.Error)
	}
}
