package domain

import (
	"context"
	"time"
)

// NonceCache stores one-shot sign-in nonces keyed by wallet address. Entries
// expire on their own; Consume removes the entry atomically so a nonce can
// be redeemed exactly once.
type NonceCache interface {
	Put(ctx context.Context, address, nonce string, ttl time.Duration) error
	Consume(ctx context.Context, address string) (string, error)
}

// SessionStore keeps authenticated session records with bounded lifetime.
type SessionStore interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Revoke(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out plus a durable, trimmed stream that
// keeps a bounded history of lifecycle events for offline inspection.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
