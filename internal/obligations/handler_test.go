package obligations

import (
	"context"
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

type fakeEnqueuer struct {
	calls []GenerateFeesInput
}

func (f *fakeEnqueuer) EnqueueFeeGeneration(ctx context.Context, actor shared.Actor, in GenerateFeesInput) (string, error) {
	f.calls = append(f.calls, in)
	return "task-1", nil
}

func newTestRouter(t *testing.T, actor shared.Actor) (http.Handler, *memoryRepo, *fakeEnqueuer) {
	t.Helper()
	svc, repo, _ := newTestService()
	jobs := &fakeEnqueuer{}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, jobs)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	h.MountRoutes(r)
	return r, repo, jobs
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCreateFeeAndDuplicate(t *testing.T) {
	router, _, _ := newTestRouter(t, treasurer)
	body := `{"member_id":42,"year":2025,"amount":"120.00","due_date":"2025-03-31"}`

	rr := do(t, router, http.MethodPost, "/fee-obligations", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, "open", created["status"])
	require.Equal(t, "120", created["outstanding"])

	rr = do(t, router, http.MethodPost, "/fee-obligations", body)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerValidationProblem(t *testing.T) {
	router, _, _ := newTestRouter(t, treasurer)

	rr := do(t, router, http.MethodPost, "/fee-obligations", `{"member_id":42,"year":2025,"amount":"120","due_date":"31.03.2025"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "due_date", problem["field"])

	rr = do(t, router, http.MethodPost, "/fee-obligations", `{"member_id":42,"year":2025,"amount":"-1","due_date":"2025-03-31"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "amount", problem["field"])
}

func TestHandlerCancelAndNotFound(t *testing.T) {
	router, repo, _ := newTestRouter(t, treasurer)
	rr := do(t, router, http.MethodPost, "/fee-obligations", `{"member_id":42,"year":2025,"amount":"120","due_date":"2025-03-31"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, router, http.MethodPost, "/fee-obligations/1/cancel", `{"reason":"moved away"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, FeeStatusCancelled, repo.fees[1].Status)

	rr = do(t, router, http.MethodPost, "/fee-obligations/1/cancel", `{"reason":"again"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, http.MethodGet, "/fee-obligations/99", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerMarkPaidForbiddenForMembers(t *testing.T) {
	router, repo, _ := newTestRouter(t, member)
	rr := do(t, router, http.MethodPost, "/item-obligations", `{"receiver_name":"Kiosk","description":"Getränke","amount":"12.50","due_date":"2025-03-31"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Len(t, repo.items, 1)

	rr = do(t, router, http.MethodPost, "/item-obligations/1/mark-paid", "")
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandlerGenerateEnqueues(t *testing.T) {
	router, _, jobs := newTestRouter(t, treasurer)
	rr := do(t, router, http.MethodPost, "/fee-obligations/generate", `{"year":2026,"amount":"120","due_date":"2026-03-31"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Len(t, jobs.calls, 1)
	require.Equal(t, 2026, jobs.calls[0].Year)
}
