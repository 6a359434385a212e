package review

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

func newTestRouter(t *testing.T, svc *Service, actor shared.Actor) http.Handler {
	t.Helper()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	h.MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCreatePeriod(t *testing.T) {
	svc, _, _ := newTestService()

	rr := do(t, newTestRouter(t, svc, admin), http.MethodPost, "/check-periods",
		`{"period_name":"Q1 2025","business_year":2025,"date_from":"2025-01-01","date_to":"2025-03-31","leader_id":11,"assistant_id":11}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "assistant_id", problem["field"])

	rr = do(t, newTestRouter(t, svc, leader), http.MethodPost, "/check-periods",
		`{"period_name":"Q1 2025","business_year":2025,"date_from":"2025-01-01","date_to":"2025-03-31","leader_id":11,"assistant_id":12}`)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, newTestRouter(t, svc, admin), http.MethodPost, "/check-periods",
		`{"period_name":"Q1 2025","business_year":2025,"date_from":"2025-01-01","date_to":"2025-03-31","leader_id":11,"assistant_id":12}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestHandlerOverviewAndFinalize(t *testing.T) {
	svc, _, _, period := seedQ1(t)
	router := newTestRouter(t, svc, leader)

	rr := do(t, router, http.MethodPost, "/check-periods/1/checks", `{"transaction_id":1,"check_result":"approved"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var outcome map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &outcome))
	require.Equal(t, float64(2), outcome["next"].(map[string]any)["id"])

	rr = do(t, router, http.MethodPost, "/check-periods/1/checks", `{"transaction_id":2,"check_result":"under_investigation"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, http.MethodGet, "/check-periods/1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var overview overviewResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &overview))
	require.Equal(t, period.ID, overview.Period.ID)
	require.Equal(t, Progress{Total: 3, Unchecked: 2, Checked: 1}, overview.Progress)
	require.Len(t, overview.Transactions, 3)

	rr = do(t, router, http.MethodPost, "/check-periods/1/finalize", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, float64(2), problem["remaining"])

	rr = do(t, router, http.MethodGet, "/check-periods/999", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
