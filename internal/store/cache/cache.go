// Package cache puts a read-through key-value cache in front of user profile
// lookups so presence and push fan-out do not hit the database for every event.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Tyrowin/duochat/internal/domain"
	"github.com/Tyrowin/duochat/internal/store"
)

// ErrMiss is returned by Cache implementations when a key is absent.
var ErrMiss = errors.New("cache: miss")

// Cache is a string key-value cache. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Users wraps a store.Users with a read-through profile cache. Cache errors
// are logged and fall back to the underlying store.
type Users struct {
	next   store.Users
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ store.Users = (*Users)(nil)

// NewUsers wraps next. A non-positive ttl defaults to five minutes.
func NewUsers(next store.Users, cache Cache, ttl time.Duration, logger *slog.Logger) *Users {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Users{next: next, cache: cache, ttl: ttl, logger: logger}
}

func userKey(id string) string { return "duochat:user:" + id }

// GetUser returns the cached profile or loads and caches it.
func (u *Users) GetUser(ctx context.Context, id string) (*domain.User, error) {
	raw, err := u.cache.Get(ctx, userKey(id))
	switch {
	case err == nil:
		var user domain.User
		if jsonErr := json.Unmarshal([]byte(raw), &user); jsonErr == nil {
			return &user, nil
		}
		u.logger.Warn("discarding undecodable cached user", "user_id", id)
	case !errors.Is(err, ErrMiss):
		u.logger.Warn("user cache read failed", "user_id", id, "err", err)
	}

	user, err := u.next.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if encoded, jsonErr := json.Marshal(user); jsonErr == nil {
		if setErr := u.cache.Set(ctx, userKey(id), string(encoded), u.ttl); setErr != nil {
			u.logger.Warn("user cache write failed", "user_id", id, "err", setErr)
		}
	}
	return user, nil
}

// ListContacts is not cached; contact sets change whenever a conversation is created.
func (u *Users) ListContacts(ctx context.Context, userID string) ([]string, error) {
	return u.next.ListContacts(ctx, userID)
}

var _ store.Invalidator = (*Users)(nil)

// Invalidate drops the cached profiles of the given users.
func (u *Users) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, userKey(id))
	}
	_, err := u.cache.Del(ctx, keys...)
	return err
}
