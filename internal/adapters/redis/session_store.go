// Package redis provides Redis-backed adapters for sessions, OAuth flows, device
// flags and cross-replica auth events.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// DefaultSessionMaxAge bounds how long an idle device session is kept.
const DefaultSessionMaxAge = 30 * 24 * time.Hour

// SessionStore keeps one session per device. The key lives for maxAge from the last
// save, independent of the access token expiry, because an expired access token is
// still refreshable.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	maxAge time.Duration
}

var _ ports.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a new Redis-based session store.
func NewSessionStore(client redis.UniversalClient, maxAge time.Duration) *SessionStore {
	return NewSessionStoreWithPrefix(client, "session:", maxAge)
}

// NewSessionStoreWithPrefix creates a Redis session store with a custom key prefix.
func NewSessionStoreWithPrefix(client redis.UniversalClient, prefix string, maxAge time.Duration) *SessionStore {
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	return &SessionStore{client: client, prefix: prefix, maxAge: maxAge}
}

func (s *SessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.DeviceID == "" {
		return errors.New("session device ID cannot be empty")
	}
	if !sess.Tokens.Valid() {
		return domainauth.ErrMissingTokens
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.prefix+sess.DeviceID, data, s.maxAge).Err()
}

func (s *SessionStore) Get(ctx context.Context, deviceID string) (domainauth.Session, error) {
	if deviceID == "" {
		return domainauth.Session{}, ports.ErrNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+deviceID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, ports.ErrNotFound
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if unmarshalErr := json.Unmarshal(data, &sess); unmarshalErr != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}
	return sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return nil // Nothing to delete
	}
	return s.client.Del(ctx, s.prefix+deviceID).Err()
}
