package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veridexhq/veridex/internal/domain"
)

// SessionStore implements domain.SessionStore using Redis string keys with
// JSON-serialized session data. The key TTL tracks the session expiry, so
// expired sessions disappear without a sweeper.
//
// Key schema:
//
//	session:{id} - JSON-encoded session record
type SessionStore struct {
	rdb *redis.Client
}

// NewSessionStore creates a SessionStore backed by the given Client.
func NewSessionStore(c *Client) *SessionStore {
	return &SessionStore{rdb: c.Underlying()}
}

func sessionKey(id string) string { return "session:" + id }

// Put stores the session until its expiry time. Sessions already past expiry
// are not stored.
func (ss *SessionStore) Put(ctx context.Context, s domain.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: marshal session %s: %w", s.ID, err)
	}
	if err := ss.rdb.Set(ctx, sessionKey(s.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put session %s: %w", s.ID, err)
	}
	return nil
}

// Get retrieves a session by ID. Missing, revoked, and expired sessions all
// return ErrNotFound.
func (ss *SessionStore) Get(ctx context.Context, id string) (domain.Session, error) {
	data, err := ss.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("redis: get session %s: %w", id, err)
	}
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.Session{}, fmt.Errorf("redis: unmarshal session %s: %w", id, err)
	}
	return s, nil
}

// Revoke deletes a session immediately. Revoking a missing session is a
// no-op.
func (ss *SessionStore) Revoke(ctx context.Context, id string) error {
	if err := ss.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: revoke session %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SessionStore = (*SessionStore)(nil)
