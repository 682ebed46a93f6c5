package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/publicsuffix"

	"github.com/kerdos/kerdos-api/internal/adapters/catalog"
	"github.com/kerdos/kerdos-api/internal/adapters/claimmap"
	"github.com/kerdos/kerdos-api/internal/adapters/membus"
	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/domain/model"
	mockauth "github.com/kerdos/kerdos-api/internal/mocks/auth"
	"github.com/kerdos/kerdos-api/internal/service"
	"github.com/kerdos/kerdos-api/internal/service/authstate"
	"github.com/kerdos/kerdos-api/internal/stream"
)

const (
	appRedirect = "kerdos://auth/callback"
	pollTimeout = 2 * time.Second
)

type noProgress struct{}

func (noProgress) ModuleProgress(context.Context, string) (map[string]int, error) {
	return map[string]int{}, nil
}

type apiFixture struct {
	srv      *httptest.Server
	client   *http.Client
	jar      http.CookieJar
	provider *mockauth.MockIdentityProvider
	identity *service.IdentityService
	profiles *mockauth.MemoryProfileStore
	registry *authstate.Registry
	hub      *stream.Hub
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	bus := membus.New()
	t.Cleanup(func() { _ = bus.Close() })

	f := &apiFixture{
		provider: mockauth.NewMockIdentityProvider(),
		profiles: mockauth.NewMemoryProfileStore(),
	}
	f.identity = service.NewIdentityService(service.IdentityServiceOptions{
		Provider: f.provider,
		Sessions: mockauth.NewMemorySessionStore(),
		Events:   service.IdentityEvents{Bus: bus, RefreshLeeway: time.Minute, Logger: logger},
	})
	mapper, err := claimmap.New(claimmap.Expressions{
		Username: "user_metadata.username",
		FullName: "user_metadata.full_name || user_metadata.name",
	})
	require.NoError(t, err)
	cat, err := catalog.Load("")
	require.NoError(t, err)

	onboarding := service.NewOnboardingService(mockauth.NewMemoryFlagStore(), cat)
	oauth := service.NewOAuthService(service.OAuthServiceOptions{
		Deps:   service.OAuthDeps{Provider: f.provider, Sessions: f.identity, Logger: logger},
		Stores: service.OAuthStores{Flows: mockauth.NewMemoryFlowStore(), Guard: mockauth.NewMemoryCallbackGuard()},
		Config: service.OAuthSettings{
			Providers:      []string{"google"},
			RedirectURL:    "https://api.kerdos.test/auth/callback",
			AppRedirectURL: appRedirect,
			FlowTTL:        10 * time.Minute,
			GuardTTL:       10 * time.Minute,
		},
	})

	f.registry = authstate.NewRegistry(authstate.RegistryOptions{
		Manager: authstate.ManagerOptions{
			Deps: authstate.Deps{
				Sessions:   f.identity,
				Profiles:   service.NewProfileService(service.ProfileServiceOptions{Store: f.profiles, Mapper: mapper, Logger: logger}),
				Onboarding: onboarding,
			},
			Events: authstate.Events{Bus: bus, RefreshLeeway: time.Minute, Logger: logger},
		},
		Logger: logger,
	})
	t.Cleanup(f.registry.Close)

	f.hub = stream.NewHub(logger)
	go f.hub.Run(context.Background())
	t.Cleanup(f.hub.Stop)

	router := NewRouter(RouterServices{
		Devices:    f.registry,
		OAuth:      oauth,
		Onboarding: onboarding,
		Screens: service.NewScreenService(service.ScreenServiceOptions{
			Catalog:   cat,
			Progress:  noProgress{},
			Providers: []string{"google"},
		}),
		Hub:        f.hub,
		Upgrader:   stream.Upgrader(nil),
		LaunchWait: time.Second,
		Logger:     logger,
	})
	f.srv = httptest.NewServer(Recover(logger)(Logging(logger)(router)))
	t.Cleanup(f.srv.Close)

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	require.NoError(t, err)
	f.jar = jar
	f.client = &http.Client{
		Jar:     jar,
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, deviceID string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if deviceID != "" {
		req.Header.Set(DeviceIDHeader, deviceID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

// waitState polls /v1/auth/state until pred holds.
func (f *apiFixture) waitState(t *testing.T, deviceID string, pred func(stream.AuthStateData) bool) stream.AuthStateData {
	t.Helper()
	var last stream.AuthStateData
	require.Eventually(t, func() bool {
		resp, data := f.do(t, http.MethodGet, "/v1/auth/state", deviceID, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		last = decode[stream.AuthStateData](t, data)
		return pred(last)
	}, pollTimeout, 10*time.Millisecond)
	return last
}

func (f *apiFixture) launch(t *testing.T, deviceID string) stream.AuthStateData {
	t.Helper()
	resp, data := f.do(t, http.MethodPost, "/v1/launch", deviceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	return decode[stream.AuthStateData](t, data)
}

func (f *apiFixture) signIn(t *testing.T, deviceID, userID, username string) {
	t.Helper()
	access := "access-for-" + userID
	f.provider.SetIdentity(access, domainauth.Identity{
		UserID:   userID,
		Email:    userID + "@example.com",
		Metadata: map[string]any{"username": username},
	})
	_, err := f.identity.SetSession(context.Background(), deviceID, domainauth.TokenPair{
		AccessToken:  access,
		RefreshToken: "refresh-for-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	f.waitState(t, deviceID, func(s stream.AuthStateData) bool {
		return s.State.User != nil && s.State.User.UserID == userID && s.State.Profile != nil
	})
}

func newDevice() string { return uuid.NewString() }

func TestRouter_RequiresDeviceID(t *testing.T) {
	f := newAPIFixture(t)

	resp, data := f.do(t, http.MethodGet, "/v1/auth/state", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "device_id_required", decode[errorBody](t, data).Error)

	resp, data = f.do(t, http.MethodGet, "/v1/auth/state", "not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_device_id", decode[errorBody](t, data).Error)
}

func TestRouter_HealthAndUnknownRoute(t *testing.T) {
	f := newAPIFixture(t)

	resp, data := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, healthResponse, string(data))

	resp, data = f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[readinessResponse](t, data).Status)

	resp, data = f.do(t, http.MethodGet, "/v2/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[errorBody](t, data).Error)
}

func TestRouter_LaunchSignedOutRoutesToWelcome(t *testing.T) {
	f := newAPIFixture(t)
	dev := newDevice()

	snap := f.launch(t, dev)
	assert.True(t, snap.State.Initialized)
	assert.False(t, snap.State.Loading)
	assert.Nil(t, snap.State.User)
	assert.Nil(t, snap.State.Session)
	assert.True(t, snap.Decision.Redirect)
	assert.Equal(t, "welcome", string(snap.Decision.Target))
	assert.Equal(t, "welcome", string(snap.Location))
	assert.Equal(t, 1, f.registry.Len())
}

func TestRouter_ScreenGuard(t *testing.T) {
	f := newAPIFixture(t)
	dev := newDevice()
	f.launch(t, dev)

	resp, data := f.do(t, http.MethodGet, "/v1/screens/home", dev, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/v1/screens/welcome", resp.Header.Get("Location"))
	redirect := decode[screenResponse](t, data)
	assert.True(t, redirect.Decision.Redirect)
	assert.Nil(t, redirect.Model)

	resp, data = f.do(t, http.MethodGet, "/v1/screens/welcome", dev, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok := decode[screenResponse](t, data)
	assert.False(t, ok.Decision.Redirect)
	require.NotNil(t, ok.Model)
	require.NotNil(t, ok.Model.Welcome)
	assert.Equal(t, "Kerdos", ok.Model.Welcome.AppName)

	resp, _ = f.do(t, http.MethodGet, "/v1/screens/settings", dev, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_OnboardingCompleteRoutesToAuth(t *testing.T) {
	f := newAPIFixture(t)
	dev := newDevice()
	f.launch(t, dev)

	resp, data := f.do(t, http.MethodGet, "/v1/onboarding", dev, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[service.OnboardingView](t, data)
	assert.False(t, view.HasSeenOnboarding)
	assert.NotEmpty(t, view.Slides)

	resp, _ = f.do(t, http.MethodPost, "/v1/onboarding/complete", dev, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = f.do(t, http.MethodGet, "/v1/onboarding", dev, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[service.OnboardingView](t, data).HasSeenOnboarding)

	resp, _ = f.do(t, http.MethodGet, "/v1/screens/home", dev, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/v1/screens/auth", resp.Header.Get("Location"))

	// A fresh launch after release reads the stored flag.
	resp, _ = f.do(t, http.MethodPost, "/v1/release", dev, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	snap := f.launch(t, dev)
	assert.Equal(t, "auth", string(snap.Decision.Target))
}

func TestRouter_OAuthFlowSignsInOnce(t *testing.T) {
	f := newAPIFixture(t)
	dev := newDevice()
	f.launch(t, dev)

	resp, data := f.do(t, http.MethodPost, "/v1/auth/oauth", dev, map[string]string{"provider": "google"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	begin := decode[beginOAuthResponse](t, data)
	assert.Contains(t, begin.URL, "state=state-1")

	resp, _ = f.do(t, http.MethodGet, "/auth/callback?code=abc&state=state-1", "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	link := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(link, appRedirect+"#"), link)
	assert.Contains(t, link, "access_token=access-2")

	resp, data = f.do(t, http.MethodPost, "/v1/auth/deeplink", dev, map[string]string{"url": link})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "signed_in", decode[statusResponse](t, data).Status)

	resp, data = f.do(t, http.MethodPost, "/v1/auth/deeplink", dev, map[string]string{"url": link})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "already_processed", decode[statusResponse](t, data).Status)
	assert.Equal(t, 1, f.provider.Calls("Resolve"))

	snap := f.waitState(t, dev, func(s stream.AuthStateData) bool {
		return s.State.User != nil && s.State.Profile != nil
	})
	assert.Equal(t, "mock-user-1", snap.State.User.UserID)
	require.NotNil(t, snap.State.Session)
	assert.False(t, snap.State.Session.ExpiresAt.IsZero())
	assert.NotContains(t, mustJSON(t, snap), "access-2")

	resp, data = f.do(t, http.MethodGet, "/v1/screens/home", dev, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	home := decode[screenResponse](t, data)
	require.NotNil(t, home.Model.Home)
	assert.Equal(t, "Hola, mock_user", home.Model.Home.Greeting)

	resp, _ = f.do(t, http.MethodPost, "/v1/auth/signout", dev, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f.waitState(t, dev, func(s stream.AuthStateData) bool {
		return s.State.User == nil && s.State.Profile == nil && s.State.Session == nil
	})
}

func TestRouter_OAuthErrors(t *testing.T) {
	f := newAPIFixture(t)
	dev := newDevice()

	resp, data := f.do(t, http.MethodPost, "/v1/auth/oauth", dev, map[string]string{"provider": "apple"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "provider_unsupported", decode[errorBody](t, data).Error)

	resp, data = f.do(t, http.MethodPost, "/v1/auth/oauth", dev, map[string]any{"provider": "google", "extra": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_json", decode[errorBody](t, data).Error)

	resp, _ = f.do(t, http.MethodGet, "/auth/callback?state=unknown&code=x", "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "error=invalid_request")

	resp, data = f.do(t, http.MethodPost, "/v1/auth/deeplink", dev, map[string]string{"url": appRedirect + "#foo=bar"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "oauth_invalid_callback", decode[errorBody](t, data).Error)

	resp, data = f.do(t, http.MethodPost, "/v1/auth/deeplink", dev,
		map[string]string{"url": appRedirect + "#error=access_denied&error_description=denied"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "oauth_provider_error", decode[errorBody](t, data).Error)
}

func TestRouter_ProfileUpdate(t *testing.T) {
	f := newAPIFixture(t)
	dev := newDevice()
	f.launch(t, dev)

	resp, data := f.do(t, http.MethodPatch, "/v1/profile", dev, map[string]string{"username": "someone"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decode[model.UpdateProfileResult](t, data).Code)

	taken := "taken_name"
	f.profiles.Put(model.UserProfile{ID: "other-user", Username: &taken})
	f.signIn(t, dev, "user-a", "alice_01")

	resp, data = f.do(t, http.MethodPatch, "/v1/profile", dev, map[string]string{"username": "alice_01"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	same := decode[model.UpdateProfileResult](t, data)
	assert.False(t, same.Success)
	assert.Contains(t, same.Message, "cannot be the same")

	resp, data = f.do(t, http.MethodPatch, "/v1/profile", dev, map[string]string{"username": taken})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	conflict := decode[model.UpdateProfileResult](t, data)
	assert.Equal(t, "23505", conflict.Code)
	assert.Equal(t, "username already in use", conflict.Message)
	assert.Equal(t, "username", conflict.Field)

	resp, data = f.do(t, http.MethodPatch, "/v1/profile", dev, map[string]string{"username": "alice_02"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	updated := decode[model.UpdateProfileResult](t, data)
	assert.True(t, updated.Success)
	require.NotNil(t, updated.Profile)
	assert.Equal(t, "alice_02", *updated.Profile.Username)

	snap := f.waitState(t, dev, func(s stream.AuthStateData) bool {
		return s.State.Profile != nil && s.State.Profile.Username != nil && *s.State.Profile.Username == "alice_02"
	})
	assert.Equal(t, "user-a", snap.State.Profile.ID)

	resp, data = f.do(t, http.MethodPost, "/v1/profile/refresh", dev, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[authstate.View](t, data)
	require.NotNil(t, view.Profile)
	assert.Equal(t, "alice_02", *view.Profile.Username)
}

func TestRouter_Calendar(t *testing.T) {
	f := newAPIFixture(t)
	dev := newDevice()

	resp, data := f.do(t, http.MethodGet, "/v1/calendar?month=2026-02", dev, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cal := decode[service.Calendar](t, data)
	assert.Equal(t, "2026-02", cal.Month)
	assert.Len(t, cal.Week, 7)
	assert.NotEmpty(t, cal.Grid)

	resp, data = f.do(t, http.MethodGet, "/v1/calendar?month=feb", dev, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[errorBody](t, data)
	assert.Equal(t, "validation", body.Error)
	assert.Equal(t, "month", body.Field)
}

func TestRouter_StreamPushesStateAndReleaseDisconnects(t *testing.T) {
	f := newAPIFixture(t)
	dev := newDevice()
	f.launch(t, dev)

	dialer := websocket.Dialer{Jar: f.jar, HandshakeTimeout: time.Second}
	header := http.Header{}
	header.Set(DeviceIDHeader, dev)
	conn, resp, err := dialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/v1/auth/stream", header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(pollTimeout)))
	var msg struct {
		Type string               `json:"type"`
		Data stream.AuthStateData `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, stream.MessageTypeAuthState, msg.Type)
	assert.True(t, msg.Data.State.Initialized)
	require.Eventually(t, func() bool { return f.hub.Connections(dev) == 1 }, pollTimeout, 10*time.Millisecond)

	resp2, _ := f.do(t, http.MethodPost, "/v1/release", dev, nil)
	require.Equal(t, http.StatusNoContent, resp2.StatusCode)
	assert.Equal(t, 0, f.registry.Len())
	require.Eventually(t, func() bool { return f.hub.Connections(dev) == 0 }, pollTimeout, 10*time.Millisecond)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
