package payments

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *memoryStore) {
	t.Helper()
	svc, store, _ := newTestService()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), treasurer)))
		})
	})
	h.MountRoutes(r)
	return r, store
}

func send(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerLinkAndUnlinkFee(t *testing.T) {
	router, store := newTestRouter(t)
	store.addFee(1, "120")
	store.addTxn(10, "100")

	rr := send(router, http.MethodPost, "/fee-obligations/1/payments",
		`{"transaction_id":10,"amount":"60.00","payment_date":"2025-02-01","payment_method":" transfer "}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created Payment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, "transfer", created.Method)
	require.True(t, dec("60").Equal(store.fees[1].PaidAmount))

	rr = send(router, http.MethodGet, "/transactions/10/allocation", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Allocation Allocation `json:"allocation"`
		Payments   []Payment  `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, dec("40").Equal(body.Allocation.Remaining))
	require.Len(t, body.Payments, 1)

	rr = send(router, http.MethodDelete, "/fee-payments/1", "", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.True(t, store.fees[1].PaidAmount.IsZero())
}

func TestHandlerRejectsAmountAboveRemaining(t *testing.T) {
	router, store := newTestRouter(t)
	store.addFee(1, "120")
	store.addTxn(10, "50")

	rr := send(router, http.MethodPost, "/fee-obligations/1/payments",
		`{"transaction_id":10,"amount":"50.01","payment_date":"2025-02-01"}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), `"field":"amount"`)
	require.Empty(t, store.payments[KindFee])
}

func TestHandlerIdempotencyKey(t *testing.T) {
	router, store := newTestRouter(t)
	store.addFee(1, "120")
	body := `{"amount":"10","payment_date":"2025-02-01"}`

	rr := send(router, http.MethodPost, "/fee-obligations/1/payments", body, map[string]string{IdempotencyHeader: "nope"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	key := uuid.NewString()
	rr = send(router, http.MethodPost, "/fee-obligations/1/payments", body, map[string]string{IdempotencyHeader: key})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = send(router, http.MethodPost, "/fee-obligations/1/payments", body, map[string]string{IdempotencyHeader: key})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Len(t, store.payments[KindFee], 1)
}

func TestHandlerErrorMapping(t *testing.T) {
	router, store := newTestRouter(t)
	store.addFee(1, "120")
	store.addTxn(10, "120")
	period := int64(3)
	locked := store.txns[10]
	locked.CheckedInPeriodID = &period
	store.txns[10] = locked

	rr := send(router, http.MethodPost, "/fee-obligations/1/payments",
		`{"transaction_id":10,"amount":"10","payment_date":"2025-02-01"}`, nil)
	require.Equal(t, http.StatusLocked, rr.Code)

	rr = send(router, http.MethodPost, "/fee-obligations/1/payments", `{"amount":"10"}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = send(router, http.MethodPost, "/fee-obligations/99/payments", `{"amount":"10","payment_date":"2025-02-01"}`, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = send(router, http.MethodGet, "/fee-obligations/1/payments", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[]`, rr.Body.String())
}
