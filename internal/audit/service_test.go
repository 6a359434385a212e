package audit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

type stubTimelineRepo struct {
	rows      []TimelineRow
	lastQuery WindowQuery
}

func (s *stubTimelineRepo) Window(ctx context.Context, q WindowQuery) ([]TimelineRow, error) {
	s.lastQuery = q
	end := q.Offset + q.Limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	if q.Offset >= end {
		return nil, nil
	}
	return s.rows[q.Offset:end], nil
}

var auditor = shared.Actor{ID: 20, Roles: []string{shared.RoleAuditor}}

func mockRows(n int) []TimelineRow {
	rows := make([]TimelineRow, 0, n)
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rows = append(rows, TimelineRow{
			ID:       int64(n - i),
			At:       base.Add(-time.Duration(i) * time.Hour),
			ActorID:  5,
			Action:   "payment.link",
			Entity:   "fee_obligation",
			EntityID: "42",
			Meta:     []byte(`{}`),
		})
	}
	return rows
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: mockRows(3)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), auditor, TimelineFilters{
		From:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		Page:     1,
		PageSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 3, repo.lastQuery.Limit)
	require.Equal(t, 0, repo.lastQuery.Offset)
	require.Equal(t, "2025-04-01", repo.lastQuery.Before.Format(time.DateOnly))

	result, err = svc.Timeline(context.Background(), auditor, TimelineFilters{Page: 2, PageSize: 2, Entity: " fee_obligation "})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, "fee_obligation", *repo.lastQuery.Entity)
	require.Nil(t, repo.lastQuery.Action)
	require.Nil(t, repo.lastQuery.From)
}

func TestServiceTimelineGuards(t *testing.T) {
	svc := NewService(&stubTimelineRepo{})

	_, err := svc.Timeline(context.Background(), shared.Actor{ID: 5, Roles: []string{shared.RoleTreasurer}}, TimelineFilters{})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Timeline(context.Background(), shared.Actor{}, TimelineFilters{})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Timeline(context.Background(), auditor, TimelineFilters{
		From: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Timeline(context.Background(), auditor, TimelineFilters{Page: shared.MaxPage + 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	result, err := svc.Timeline(context.Background(), auditor, TimelineFilters{PageSize: 1000})
	require.NoError(t, err)
	require.Equal(t, maxPageSize, result.Paging.PageSize)
	require.NotNil(t, result.Rows)
}

func TestTimelineHandler(t *testing.T) {
	repo := &stubTimelineRepo{rows: mockRows(1)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	serve := func(actor shared.Actor, target string) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
			})
		})
		NewHandler(logger, NewService(repo)).MountRoutes(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		return rr
	}

	rr := serve(auditor, "/audit-logs?actor_id=5&action=payment.link")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"action":"payment.link"`)
	require.Equal(t, int64(5), *repo.lastQuery.ActorID)

	rr = serve(auditor, "/audit-logs?from=03/01/2025")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = serve(auditor, "/audit-logs?page=9223372036854775807")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), `"field":"page"`)

	rr = serve(shared.Actor{ID: 9, Roles: []string{shared.RoleTreasurer}}, "/audit-logs")
	require.Equal(t, http.StatusForbidden, rr.Code)
}
