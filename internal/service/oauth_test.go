package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerdos/kerdos-api/internal/adapters/membus"
	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	mockauth "github.com/kerdos/kerdos-api/internal/mocks/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

type oauthFixture struct {
	svc      *OAuthService
	provider *mockauth.MockIdentityProvider
	flows    *mockauth.MemoryFlowStore
	guard    *mockauth.MemoryCallbackGuard
	sessions *mockauth.MemorySessionStore
}

func newOAuthFixture(t *testing.T) oauthFixture {
	t.Helper()
	f := oauthFixture{
		provider: mockauth.NewMockIdentityProvider(),
		flows:    mockauth.NewMemoryFlowStore(),
		guard:    mockauth.NewMemoryCallbackGuard(),
		sessions: mockauth.NewMemorySessionStore(),
	}
	bus := membus.New()
	t.Cleanup(func() { _ = bus.Close() })
	identity := NewIdentityService(IdentityServiceOptions{
		Provider: f.provider,
		Sessions: f.sessions,
		Events:   IdentityEvents{Bus: bus},
	})
	f.svc = NewOAuthService(OAuthServiceOptions{
		Deps:   OAuthDeps{Provider: f.provider, Sessions: identity},
		Stores: OAuthStores{Flows: f.flows, Guard: f.guard},
		Config: OAuthSettings{
			Providers:      []string{"google"},
			RedirectURL:    "https://api.kerdos.test/auth/callback",
			AppRedirectURL: "kerdos://auth/callback",
			FlowTTL:        10 * time.Minute,
			GuardTTL:       10 * time.Minute,
		},
	})
	return f
}

func fragmentOf(t *testing.T, link string) url.Values {
	t.Helper()
	_, frag, ok := strings.Cut(link, "#")
	require.True(t, ok, "deep link has no fragment: %s", link)
	v, err := url.ParseQuery(frag)
	require.NoError(t, err)
	return v
}

func TestOAuthService_Begin(t *testing.T) {
	ctx := context.Background()

	t.Run("google stores a pending flow", func(t *testing.T) {
		f := newOAuthFixture(t)
		authURL, err := f.svc.Begin(ctx, "dev-1", " Google ")
		require.NoError(t, err)
		assert.Contains(t, authURL, "state=state-1")

		flow, err := f.flows.Take(ctx, "state-1")
		require.NoError(t, err)
		assert.Equal(t, "dev-1", flow.DeviceID)
		assert.Equal(t, "google", flow.Provider)
		assert.Equal(t, "verifier-1", flow.Verifier)
	})

	for _, p := range []string{"facebook", "apple", ""} {
		t.Run("unsupported "+p, func(t *testing.T) {
			f := newOAuthFixture(t)
			_, err := f.svc.Begin(ctx, "dev-1", p)
			require.Error(t, err)
			assert.True(t, apperrors.IsAppError(err, apperrors.ErrCodeProviderUnsupported))
			assert.Equal(t, 0, f.provider.Calls("Begin"))
		})
	}
}

func TestOAuthService_CompleteRedirect(t *testing.T) {
	ctx := context.Background()

	t.Run("success carries the token pair", func(t *testing.T) {
		f := newOAuthFixture(t)
		_, err := f.svc.Begin(ctx, "dev-1", "google")
		require.NoError(t, err)

		link, err := f.svc.CompleteRedirect(ctx, RedirectInput{Code: "c", State: "state-1"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(link, "kerdos://auth/callback#"))
		v := fragmentOf(t, link)
		assert.Equal(t, "access-2", v.Get("access_token"))
		assert.Equal(t, "refresh-2", v.Get("refresh_token"))
		assert.NotEmpty(t, v.Get("expires_in"))
	})

	t.Run("state is single use", func(t *testing.T) {
		f := newOAuthFixture(t)
		_, err := f.svc.Begin(ctx, "dev-1", "google")
		require.NoError(t, err)
		_, err = f.svc.CompleteRedirect(ctx, RedirectInput{Code: "c", State: "state-1"})
		require.NoError(t, err)

		link, err := f.svc.CompleteRedirect(ctx, RedirectInput{Code: "c", State: "state-1"})
		require.Error(t, err)
		assert.Equal(t, "invalid_request", fragmentOf(t, link).Get("error"))
	})

	t.Run("provider error is forwarded", func(t *testing.T) {
		f := newOAuthFixture(t)
		link, err := f.svc.CompleteRedirect(ctx, RedirectInput{
			State: "state-9", Error: "access_denied", ErrorDescription: "user cancelled",
		})
		require.Error(t, err)
		v := fragmentOf(t, link)
		assert.Equal(t, "access_denied", v.Get("error"))
		assert.Equal(t, "user cancelled", v.Get("error_description"))
	})

	t.Run("missing code", func(t *testing.T) {
		f := newOAuthFixture(t)
		link, err := f.svc.CompleteRedirect(ctx, RedirectInput{State: "state-1"})
		require.Error(t, err)
		assert.Equal(t, "invalid_request", fragmentOf(t, link).Get("error"))
	})

	t.Run("exchange failure", func(t *testing.T) {
		f := newOAuthFixture(t)
		f.provider.ExchangeFunc = func(context.Context, ports.ExchangeInput) (domainauth.TokenPair, error) {
			return domainauth.TokenPair{}, errors.New("bad code")
		}
		_, err := f.svc.Begin(ctx, "dev-1", "google")
		require.NoError(t, err)
		link, err := f.svc.CompleteRedirect(ctx, RedirectInput{Code: "c", State: "state-1"})
		require.Error(t, err)
		assert.Equal(t, "server_error", fragmentOf(t, link).Get("error"))
	})
}

const callbackURL = "kerdos://auth/callback#access_token=at-1&refresh_token=rt-1&expires_in=3600&token_type=bearer"

func TestOAuthService_ProcessDeepLink(t *testing.T) {
	ctx := context.Background()

	t.Run("signs in once", func(t *testing.T) {
		f := newOAuthFixture(t)
		res, err := f.svc.ProcessDeepLink(ctx, "dev-1", callbackURL)
		require.NoError(t, err)
		assert.Equal(t, DeepLinkSignedIn, res.Status)
		require.NotNil(t, res.Session)
		assert.Equal(t, "at-1", res.Session.Tokens.AccessToken)

		again, err := f.svc.ProcessDeepLink(ctx, "dev-1", callbackURL)
		require.NoError(t, err)
		assert.Equal(t, DeepLinkAlreadyProcessed, again.Status)
		assert.Nil(t, again.Session)
		assert.Equal(t, 1, f.provider.Calls("Resolve"))
	})

	t.Run("concurrent duplicates resolve once", func(t *testing.T) {
		f := newOAuthFixture(t)
		var wg sync.WaitGroup
		statuses := make(chan DeepLinkStatus, 8)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.svc.ProcessDeepLink(ctx, "dev-1", callbackURL)
				if err == nil {
					statuses <- res.Status
				}
			}()
		}
		wg.Wait()
		close(statuses)

		n := 0
		for range statuses {
			n++
		}
		assert.Equal(t, 8, n)
		assert.Equal(t, 1, f.provider.Calls("Resolve"))
	})

	t.Run("failure releases the claim", func(t *testing.T) {
		f := newOAuthFixture(t)
		f.provider.ResolveFunc = func(context.Context, domainauth.TokenPair) (domainauth.Identity, error) {
			return domainauth.Identity{}, errors.New("jwt expired")
		}
		_, err := f.svc.ProcessDeepLink(ctx, "dev-1", callbackURL)
		require.Error(t, err)
		assert.True(t, apperrors.IsAppError(err, apperrors.ErrCodeOAuthExchange))

		pair, perr := domainauth.ParseCallbackURL(callbackURL, time.Now())
		require.NoError(t, perr)
		assert.False(t, f.guard.Claimed(pair.Fingerprint()))

		f.provider.ResolveFunc = nil
		res, err := f.svc.ProcessDeepLink(ctx, "dev-1", callbackURL)
		require.NoError(t, err)
		assert.Equal(t, DeepLinkSignedIn, res.Status)
	})

	t.Run("provider error", func(t *testing.T) {
		f := newOAuthFixture(t)
		_, err := f.svc.ProcessDeepLink(ctx, "dev-1", "kerdos://auth/callback#error=access_denied")
		require.Error(t, err)
		assert.True(t, apperrors.IsAppError(err, apperrors.ErrCodeOAuthProvider))
		assert.Equal(t, 0, f.provider.Calls("Resolve"))
	})

	t.Run("missing tokens", func(t *testing.T) {
		f := newOAuthFixture(t)
		_, err := f.svc.ProcessDeepLink(ctx, "dev-1", "kerdos://auth/callback#access_token=only")
		require.Error(t, err)
		assert.True(t, apperrors.IsAppError(err, apperrors.ErrCodeOAuthInvalidCallback))
	})
}
