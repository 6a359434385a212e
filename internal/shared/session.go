package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession indicates the request carried no valid session.
var ErrNoSession = errors.New("session missing or expired")

// SessionStore resolves actors from sessions kept in Redis. Sessions are
// written by the external auth service; Issue exists for tooling and tests.
type SessionStore struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, cookieName string, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, cookieName: cookieName, ttl: ttl}
}

// CookieName returns the cookie carrying the session id.
func (s *SessionStore) CookieName() string {
	return s.cookieName
}

// Issue stores actor under id.
func (s *SessionStore) Issue(ctx context.Context, id string, actor Actor) error {
	if id == "" {
		return errors.New("session id required")
	}
	payload, err := json.Marshal(actor)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.redisKey(id), payload, s.ttl).Err()
}

// Revoke deletes the session.
func (s *SessionStore) Revoke(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.redisKey(id)).Err()
}

// Resolve loads the actor for the session referenced by r, either through the
// session cookie or an "Authorization: Session <id>" header.
func (s *SessionStore) Resolve(ctx context.Context, r *http.Request) (Actor, error) {
	id := sessionID(r, s.cookieName)
	if id == "" {
		return Actor{}, ErrNoSession
	}
	payload, err := s.client.Get(ctx, s.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Actor{}, ErrNoSession
		}
		return Actor{}, err
	}
	var actor Actor
	if err := json.Unmarshal(payload, &actor); err != nil {
		return Actor{}, err
	}
	if actor.ID <= 0 {
		return Actor{}, ErrNoSession
	}
	return actor, nil
}

func (s *SessionStore) redisKey(id string) string {
	return "session:" + id
}

func sessionID(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(header, "Session "); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}
