package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerdos/kerdos-api/internal/adapters/membus"
	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	mockauth "github.com/kerdos/kerdos-api/internal/mocks/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

type identityFixture struct {
	svc      *IdentityService
	provider *mockauth.MockIdentityProvider
	sessions *mockauth.MemorySessionStore
	bus      *membus.Bus
}

func newIdentityFixture(t *testing.T) identityFixture {
	t.Helper()
	f := identityFixture{
		provider: mockauth.NewMockIdentityProvider(),
		sessions: mockauth.NewMemorySessionStore(),
		bus:      membus.New(),
	}
	f.svc = NewIdentityService(IdentityServiceOptions{
		Provider: f.provider,
		Sessions: f.sessions,
		Events:   IdentityEvents{Bus: f.bus, RefreshLeeway: time.Minute},
	})
	t.Cleanup(func() { _ = f.bus.Close() })
	return f
}

func subscribe(t *testing.T, bus ports.EventBus, topic string) ports.Subscription {
	t.Helper()
	sub, err := bus.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func nextEvent(t *testing.T, sub ports.Subscription) domainauth.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domainauth.Event{}
	}
}

func TestNewIdentityService_PanicsWithoutDeps(t *testing.T) {
	assert.Panics(t, func() { NewIdentityService(IdentityServiceOptions{}) })
}

func TestIdentityService_SetSession(t *testing.T) {
	f := newIdentityFixture(t)
	sub := subscribe(t, f.bus, ports.DeviceTopic("dev-1"))
	ctx := context.Background()

	tokens := domainauth.TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)}
	sess, err := f.svc.SetSession(ctx, "dev-1", tokens)
	require.NoError(t, err)
	assert.Equal(t, "mock-user-1", sess.User.UserID)
	assert.Equal(t, "dev-1", sess.DeviceID)

	stored, err := f.sessions.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, tokens.AccessToken, stored.Tokens.AccessToken)

	ev := nextEvent(t, sub)
	assert.Equal(t, domainauth.EventSignedIn, ev.Type)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "mock-user-1", ev.UserID)
}

func TestIdentityService_SetSession_RejectsIncompletePair(t *testing.T) {
	f := newIdentityFixture(t)
	_, err := f.svc.SetSession(context.Background(), "dev-1", domainauth.TokenPair{AccessToken: "a"})
	require.ErrorIs(t, err, domainauth.ErrMissingTokens)
	assert.Equal(t, 0, f.provider.Calls("Resolve"))
}

func TestIdentityService_CurrentSession(t *testing.T) {
	ctx := context.Background()

	t.Run("no session", func(t *testing.T) {
		f := newIdentityFixture(t)
		sess, err := f.svc.CurrentSession(ctx, "dev-1")
		require.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("fresh session is returned as is", func(t *testing.T) {
		f := newIdentityFixture(t)
		_, err := f.svc.SetSession(ctx, "dev-1", domainauth.TokenPair{
			AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour),
		})
		require.NoError(t, err)

		sess, err := f.svc.CurrentSession(ctx, "dev-1")
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "a", sess.Tokens.AccessToken)
		assert.Equal(t, 0, f.provider.Calls("Refresh"))
	})

	t.Run("due session is refreshed", func(t *testing.T) {
		f := newIdentityFixture(t)
		_, err := f.svc.SetSession(ctx, "dev-1", domainauth.TokenPair{
			AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Minute),
		})
		require.NoError(t, err)
		sub := subscribe(t, f.bus, ports.DeviceTopic("dev-1"))

		sess, err := f.svc.CurrentSession(ctx, "dev-1")
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "access-1", sess.Tokens.AccessToken)
		assert.Equal(t, "r", sess.Tokens.RefreshToken)
		assert.Equal(t, domainauth.EventTokenRefreshed, nextEvent(t, sub).Type)
	})

	t.Run("failed refresh signs the device out", func(t *testing.T) {
		f := newIdentityFixture(t)
		f.provider.RefreshFunc = func(context.Context, string) (domainauth.TokenPair, error) {
			return domainauth.TokenPair{}, errors.New("invalid_grant")
		}
		_, err := f.svc.SetSession(ctx, "dev-1", domainauth.TokenPair{
			AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Minute),
		})
		require.NoError(t, err)
		sub := subscribe(t, f.bus, ports.DeviceTopic("dev-1"))

		sess, err := f.svc.CurrentSession(ctx, "dev-1")
		require.NoError(t, err)
		assert.Nil(t, sess)
		assert.Equal(t, domainauth.EventSignedOut, nextEvent(t, sub).Type)

		_, err = f.sessions.Get(ctx, "dev-1")
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})
}

func TestIdentityService_SignOut(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes and removes", func(t *testing.T) {
		f := newIdentityFixture(t)
		_, err := f.svc.SetSession(ctx, "dev-1", domainauth.TokenPair{AccessToken: "a", RefreshToken: "r"})
		require.NoError(t, err)
		sub := subscribe(t, f.bus, ports.DeviceTopic("dev-1"))

		require.NoError(t, f.svc.SignOut(ctx, "dev-1"))
		assert.Equal(t, 1, f.provider.Calls("Revoke"))
		ev := nextEvent(t, sub)
		assert.Equal(t, domainauth.EventSignedOut, ev.Type)
		assert.Nil(t, ev.Session)
	})

	t.Run("revoke failure keeps the session", func(t *testing.T) {
		f := newIdentityFixture(t)
		f.provider.RevokeFunc = func(context.Context, domainauth.TokenPair) error { return errors.New("boom") }
		_, err := f.svc.SetSession(ctx, "dev-1", domainauth.TokenPair{AccessToken: "a", RefreshToken: "r"})
		require.NoError(t, err)

		require.Error(t, f.svc.SignOut(ctx, "dev-1"))
		_, err = f.sessions.Get(ctx, "dev-1")
		assert.NoError(t, err)
	})

	t.Run("signed out device still announces", func(t *testing.T) {
		f := newIdentityFixture(t)
		sub := subscribe(t, f.bus, ports.DeviceTopic("dev-2"))
		require.NoError(t, f.svc.SignOut(ctx, "dev-2"))
		assert.Equal(t, 0, f.provider.Calls("Revoke"))
		assert.Equal(t, domainauth.EventSignedOut, nextEvent(t, sub).Type)
	})
}

func TestIdentityService_NotifyUserUpdated(t *testing.T) {
	f := newIdentityFixture(t)
	sub := subscribe(t, f.bus, ports.UsersTopic)

	require.NoError(t, f.svc.NotifyUserUpdated(context.Background(), "u-1"))
	ev := nextEvent(t, sub)
	assert.Equal(t, domainauth.EventUserUpdated, ev.Type)
	assert.Equal(t, "u-1", ev.UserID)
}
