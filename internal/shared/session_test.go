package shared

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, "vk_session", time.Hour), mr
}

func TestSessionResolveByCookieAndHeader(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	actor := Actor{ID: 7, Roles: []string{RoleTreasurer}}
	require.NoError(t, store.Issue(ctx, "abc", actor))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: store.CookieName(), Value: "abc"})
	got, err := store.Resolve(ctx, req)
	require.NoError(t, err)
	require.Equal(t, actor, got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Session abc")
	got, err = store.Resolve(ctx, req)
	require.NoError(t, err)
	require.True(t, got.HasRole(RoleTreasurer))
}

func TestSessionMissingExpiredOrRevoked(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Resolve(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, store.Issue(ctx, "short", Actor{ID: 3}))
	mr.FastForward(2 * time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Session short")
	_, err = store.Resolve(ctx, req)
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, store.Issue(ctx, "gone", Actor{ID: 4}))
	require.NoError(t, store.Revoke(ctx, "gone"))
	req.Header.Set("Authorization", "Session gone")
	_, err = store.Resolve(ctx, req)
	require.ErrorIs(t, err, ErrNoSession)

	require.Error(t, store.Issue(ctx, "", Actor{ID: 1}))
}

func TestSessionStoreUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Session abc")
	_, err := store.Resolve(context.Background(), req)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNoSession))
}

func TestActorRoles(t *testing.T) {
	actor := Actor{ID: 1, Roles: []string{" Admin "}}
	require.True(t, actor.IsAdmin())
	require.False(t, actor.HasRole(RoleAuditor))
	require.NoError(t, RequireActor(actor))
	require.ErrorIs(t, RequireActor(Actor{}), ErrForbidden)

	ctx := ContextWithActor(context.Background(), actor)
	require.Equal(t, actor, ActorFromContext(ctx))
	require.Equal(t, Actor{}, ActorFromContext(context.Background()))
}

func TestErrorsClassify(t *testing.T) {
	require.ErrorIs(t, Invalid("amount", "gt"), ErrValidation)
	require.True(t, IsBusiness(Invalid("amount", "gt")))
	require.True(t, IsBusiness(&CountMismatchError{Remaining: 2}))

	storage := Storage("insert", errors.New("conn reset"))
	require.ErrorIs(t, storage, ErrStorage)
	require.False(t, IsBusiness(storage))
}

func TestDayTruncatesToUTCMidnight(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	got := Day(time.Date(2025, 3, 31, 23, 30, 0, 0, berlin))
	require.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), got)
	require.True(t, Day(time.Time{}).IsZero())
}
