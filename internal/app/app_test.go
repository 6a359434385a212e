package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/vereinskasse/vereinskasse/internal/audit"
	"github.com/vereinskasse/vereinskasse/internal/observability"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubResolver struct {
	actor shared.Actor
	err   error
}

func (s stubResolver) Resolve(ctx context.Context, r *http.Request) (shared.Actor, error) {
	return s.actor, s.err
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SESSION_TTL", "30m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, 30*time.Minute, cfg.SessionTTL)
	require.Equal(t, "vk_session", cfg.SessionCookie)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, 7*24*time.Hour, cfg.IdempotencyRetention)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	cfg := &Config{AppEnv: "development", RateLimitPerMinute: 100, AppRequestTimeout: time.Second}
	router := NewRouter(RouterParams{Logger: discard, Config: cfg, Metrics: observability.NewMetrics()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "vereinskasse_http_requests_total")
}

func TestRequireActor(t *testing.T) {
	serve := func(resolver ActorResolver) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Use(RequireActor(resolver, discard))
		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(actor.Roles[0]))
		})
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/whoami", nil))
		return rr
	}

	rr := serve(stubResolver{actor: shared.Actor{ID: 5, Roles: []string{shared.RoleTreasurer}}})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, shared.RoleTreasurer, rr.Body.String())

	rr = serve(stubResolver{err: shared.ErrNoSession})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Type"), "application/problem+json")

	rr = serve(stubResolver{err: errors.New("redis: connection refused")})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

type emptyAuditRepo struct{}

func (emptyAuditRepo) Window(ctx context.Context, q audit.WindowQuery) ([]audit.TimelineRow, error) {
	return nil, nil
}

func TestRouterProtectsAPI(t *testing.T) {
	cfg := &Config{AppEnv: "development", RateLimitPerMinute: 100, AppRequestTimeout: time.Second}
	handler := audit.NewHandler(discard, audit.NewService(emptyAuditRepo{}))

	router := NewRouter(RouterParams{Logger: discard, Config: cfg, Sessions: stubResolver{err: shared.ErrNoSession}, AuditHandler: handler})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/audit-logs", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	auditorActor := shared.Actor{ID: 3, Roles: []string{shared.RoleAuditor}}
	router = NewRouter(RouterParams{Logger: discard, Config: cfg, Sessions: stubResolver{actor: auditorActor}, AuditHandler: handler})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/audit-logs", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"rows":[]`)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	require.True(t, InTestMode())
	t.Setenv(TestModeEnv, "false")
	require.False(t, InTestMode())
	t.Setenv(TestModeEnv, "")
	require.False(t, InTestMode())
}
