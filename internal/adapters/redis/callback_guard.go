package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kerdos/kerdos-api/internal/ports"
)

// CallbackGuard claims callback keys with SET NX so a callback is processed once
// across all replicas.
type CallbackGuard struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.CallbackGuard = (*CallbackGuard)(nil)

// NewCallbackGuard creates a guard using the "oauth:callback:" key prefix.
func NewCallbackGuard(client redis.UniversalClient) *CallbackGuard {
	return &CallbackGuard{client: client, prefix: "oauth:callback:"}
}

func (g *CallbackGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("callback key cannot be empty")
	}
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (g *CallbackGuard) Release(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return g.client.Del(ctx, g.prefix+key).Err()
}
