package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// loginStatePrefix is the Redis key prefix for pending login states.
const loginStatePrefix = "login:state:"

// ErrStateNotFound indicates an unknown, expired, or already-consumed
// login state.
var ErrStateNotFound = errors.New("login state not found")

// SaveLoginState stores the returnURL for a pending login under its
// state nonce. The entry expires after ttl.
func (c *Cache) SaveLoginState(ctx context.Context, state, returnURL string, ttl time.Duration) error {
	key := loginStatePrefix + state

	if err := c.client.Set(ctx, key, returnURL, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save login state: %w", err)
	}

	return nil
}

// TakeLoginState consumes a pending login state and returns its
// returnURL. States are single-use: a second take for the same nonce
// fails with ErrStateNotFound.
func (c *Cache) TakeLoginState(ctx context.Context, state string) (string, error) {
	key := loginStatePrefix + state

	returnURL, err := c.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrStateNotFound
		}
		return "", fmt.Errorf("failed to take login state: %w", err)
	}

	return returnURL, nil
}
