package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `vereinskasse_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `vereinskasse_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDomainCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObligationCreated("fee")
	metrics.PaymentLinked("fee")
	metrics.PaymentLinked("fee")
	metrics.PaymentUnlinked("item")
	metrics.CheckRecorded("approved")
	metrics.PeriodFinalized(3)

	body := scrape(t, metrics)
	require.Contains(t, body, `vereinskasse_obligations_created_total{kind="fee"} 1`)
	require.Contains(t, body, `vereinskasse_payments_total{action="link",kind="fee"} 2`)
	require.Contains(t, body, `vereinskasse_payments_total{action="unlink",kind="item"} 1`)
	require.Contains(t, body, `vereinskasse_transaction_checks_total{verdict="approved"} 1`)
	require.Contains(t, body, "vereinskasse_check_periods_finalized_total 1")
	require.Contains(t, body, "vereinskasse_transactions_locked_total 3")
}

func TestNilMetricsAreInert(t *testing.T) {
	var metrics *Metrics
	metrics.PaymentLinked("fee")
	metrics.PeriodFinalized(2)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
