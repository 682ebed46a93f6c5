package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kerdos/kerdos-api/internal/service"
	"github.com/kerdos/kerdos-api/internal/service/authstate"
	"github.com/kerdos/kerdos-api/internal/stream"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Devices    *authstate.Registry
	OAuth      OAuthFlow
	Onboarding *service.OnboardingService
	Screens    *service.ScreenService
	Hub        *stream.Hub
	Upgrader   *websocket.Upgrader
	// Readiness maps a dependency name to its ping; empty serves only /healthz.
	Readiness  map[string]Pinger
	LaunchWait time.Duration
	Logger     *slog.Logger // optional
}

// NewRouter creates the API router. Logging, recovery and compression are
// applied by the caller.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Readiness, logger))

	registerDeviceRoutes(mux, &DeviceHandlers{
		Devices:    services.Devices,
		Hub:        services.Hub,
		Upgrader:   services.Upgrader,
		LaunchWait: services.LaunchWait,
		Logger:     logger,
	})
	registerAuthRoutes(mux, &AuthHandlers{OAuth: services.OAuth, Devices: services.Devices, Logger: logger})
	registerProfileRoutes(mux, &ProfileHandlers{Devices: services.Devices, Logger: logger})
	registerOnboardingRoutes(mux, &OnboardingHandlers{
		Svc:     services.Onboarding,
		Devices: services.Devices,
		Logger:  logger,
	})
	registerScreenRoutes(mux, &ScreenHandlers{
		Screens:    services.Screens,
		Onboarding: services.Onboarding,
		Devices:    services.Devices,
		Logger:     logger,
	})

	mux.Handle("/", http.HandlerFunc(notFound))
	return mux
}

// device wraps a handler with the X-Device-ID requirement.
func device(h http.HandlerFunc) http.Handler {
	return RequireDevice()(h)
}

func registerDeviceRoutes(mux *http.ServeMux, h *DeviceHandlers) {
	mux.Handle("POST /v1/launch", device(h.Launch))
	mux.Handle("POST /v1/release", device(h.Release))
	mux.Handle("GET /v1/auth/state", device(h.State))
	mux.Handle("GET /v1/auth/stream", device(h.Stream))
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.Handle("POST /v1/auth/oauth", device(h.BeginOAuth))
	mux.Handle("POST /v1/auth/deeplink", device(h.DeepLink))
	mux.Handle("POST /v1/auth/signout", device(h.SignOut))
	// The provider redirects the browser here; no device header is present.
	mux.Handle("GET /auth/callback", http.HandlerFunc(h.Callback))
}

func registerProfileRoutes(mux *http.ServeMux, h *ProfileHandlers) {
	mux.Handle("POST /v1/profile/refresh", device(h.Refresh))
	mux.Handle("PATCH /v1/profile", device(h.Update))
}

func registerOnboardingRoutes(mux *http.ServeMux, h *OnboardingHandlers) {
	mux.Handle("GET /v1/onboarding", device(h.Get))
	mux.Handle("POST /v1/onboarding/complete", device(h.Complete))
}

func registerScreenRoutes(mux *http.ServeMux, h *ScreenHandlers) {
	mux.Handle("GET "+screensPrefix+"{screen...}", device(h.Screen))
	mux.Handle("GET /v1/calendar", device(h.Calendar))
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: errors.New("route not found")})
}
