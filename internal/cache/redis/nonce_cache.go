package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veridexhq/veridex/internal/domain"
)

// consumeLua fetches and deletes a nonce in one step so that a signature
// replay can never redeem the same nonce twice.
const consumeLua = `
local v = redis.call('GET', KEYS[1])
if v then
    redis.call('DEL', KEYS[1])
end
return v
`

// NonceCache implements domain.NonceCache using Redis string keys with a TTL.
//
// Key schema:
//
//	nonce:{address} - the pending sign-in nonce for a wallet
type NonceCache struct {
	rdb       *redis.Client
	consumeSc *redis.Script
}

// NewNonceCache creates a NonceCache backed by the given Client.
func NewNonceCache(c *Client) *NonceCache {
	return &NonceCache{
		rdb:       c.Underlying(),
		consumeSc: redis.NewScript(consumeLua),
	}
}

func nonceKey(address string) string { return "nonce:" + address }

// Put stores a nonce for the address. A second Put before the first expires
// overwrites it, so only the most recently issued nonce is redeemable.
func (nc *NonceCache) Put(ctx context.Context, address, nonce string, ttl time.Duration) error {
	if err := nc.rdb.Set(ctx, nonceKey(address), nonce, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put nonce for %s: %w", address, err)
	}
	return nil
}

// Consume returns the pending nonce for the address and deletes it
// atomically. A missing or expired nonce returns ErrNonceInvalid.
func (nc *NonceCache) Consume(ctx context.Context, address string) (string, error) {
	res, err := nc.consumeSc.Run(ctx, nc.rdb, []string{nonceKey(address)}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNonceInvalid
		}
		return "", fmt.Errorf("redis: consume nonce for %s: %w", address, err)
	}
	nonce, ok := res.(string)
	if !ok || nonce == "" {
		return "", domain.ErrNonceInvalid
	}
	return nonce, nil
}

// Compile-time interface check.
var _ domain.NonceCache = (*NonceCache)(nil)
