package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mosaicfin/onboard/model"
)

// redisRecord is the stored value for a session. The access token is kept
// out of the Session's public JSON shape, so it travels in its own field.
type redisRecord struct {
	Session     model.Session `json:"session"`
	AccessToken string        `json:"access_token"`
}

// RedisStore is a Redis-backed Store. The record TTL tracks the session
// expiry, so Redis handles the sweep and Get only double-checks the token
// expiry.
type RedisStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisStore creates a new Redis-backed session store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Get returns the session, or ErrNotFound if it is missing or expired.
func (s *RedisStore) Get(ctx context.Context, id string) (*model.Session, error) {
	raw, err := s.client.Get(ctx, Key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", Key(id), err)
	}

	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session %q: %w", id, err)
	}
	rec.Session.AccessToken = rec.AccessToken

	if rec.Session.Expired(s.now()) {
		_ = s.client.Del(ctx, Key(id)).Err()
		return nil, ErrNotFound
	}

	return &rec.Session, nil
}

// Put stores the session with a TTL matching its expiry.
func (s *RedisStore) Put(ctx context.Context, sess *model.Session) error {
	rec := redisRecord{Session: *sess.Clone(), AccessToken: sess.AccessToken}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session %q: %w", sess.ID, err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, Key(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", Key(sess.ID), err)
	}
	return nil
}

// HealthCheck pings Redis. Used by the readiness endpoint.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Delete removes the session. Missing sessions are not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, Key(id)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", Key(id), err)
	}
	return nil
}
