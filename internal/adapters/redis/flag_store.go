package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kerdos/kerdos-api/internal/ports"
)

// FlagStore persists per-device boolean flags. A set flag never expires.
type FlagStore struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.FlagStore = (*FlagStore)(nil)

// NewFlagStore creates a FlagStore using the "device:flag:" key prefix.
func NewFlagStore(client redis.UniversalClient) *FlagStore {
	return &FlagStore{client: client, prefix: "device:flag:"}
}

func (s *FlagStore) key(deviceID, flag string) (string, error) {
	if deviceID == "" || flag == "" {
		return "", errors.New("device ID and flag are required")
	}
	return s.prefix + deviceID + ":" + flag, nil
}

func (s *FlagStore) Get(ctx context.Context, deviceID, flag string) (bool, error) {
	k, err := s.key(deviceID, flag)
	if err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *FlagStore) Set(ctx context.Context, deviceID, flag string) error {
	k, err := s.key(deviceID, flag)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, k, "true", 0).Err()
}

func (s *FlagStore) Clear(ctx context.Context, deviceID, flag string) error {
	k, err := s.key(deviceID, flag)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, k).Err()
}
