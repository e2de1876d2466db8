package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsRecordsLedgerAndParserOutcomes(t *testing.T) {
	metrics := NewMetrics()
	metrics.LedgerApply("sale", "applied")
	metrics.LedgerApply("sale", "applied")
	metrics.LedgerApply("", "invalid")
	metrics.ParserResult("remote", "fallback")

	body := scrape(t, metrics)
	for _, want := range []string{
		`duka_ledger_apply_total{kind="sale",outcome="applied"} 2`,
		`duka_ledger_apply_total{kind="unknown",outcome="invalid"} 1`,
		`duka_parser_results_total{outcome="fallback",strategy="remote"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in body, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.LedgerApply("sale", "applied")
	metrics.ParserResult("heuristic", "ok")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/transactions")

	req := httptest.NewRequest(http.MethodPost, "/api/transactions", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `duka_http_requests_total{code="418",route="/api/transactions"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `duka_http_request_duration_seconds_bucket{route="/api/transactions"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}
