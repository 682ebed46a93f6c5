package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kerdos/kerdos-api/config"
	httpx "github.com/kerdos/kerdos-api/internal/http"
	"github.com/kerdos/kerdos-api/internal/stream"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Stores   StoreDeps
	Logger   *slog.Logger
}

// NewHTTPServer builds the HTTP server; the caller starts and stops it.
func NewHTTPServer(cfg *HTTPServerConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	services := httpx.RouterServices{
		Devices:    cfg.Services.Devices,
		OAuth:      cfg.Services.OAuth,
		Onboarding: cfg.Services.Onboarding,
		Screens:    cfg.Services.Screens,
		Hub:        cfg.Services.Hub,
		Upgrader:   stream.Upgrader(appCfg.HTTP.AllowedOrigins),
		Readiness:  readinessChecks(cfg.Stores),
		LaunchWait: appCfg.Session.LaunchWait,
		Logger:     logger,
	}

	handler := buildHTTPHandler(httpHandlerConfig{
		Logger:   logger,
		Services: services,
		HTTP:     appCfg.HTTP,
	})

	addr := appCfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Websocket writes set their own deadlines once hijacked.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func readinessChecks(stores StoreDeps) map[string]httpx.Pinger {
	checks := map[string]httpx.Pinger{}
	if stores.DB != nil {
		checks["postgres"] = httpx.PingFunc(stores.DB.PingContext)
	}
	if stores.Redis != nil {
		checks["redis"] = httpx.PingFunc(func(ctx context.Context) error {
			return stores.Redis.Ping(ctx).Err()
		})
	}
	return checks
}

type httpHandlerConfig struct {
	Logger   *slog.Logger
	Services httpx.RouterServices
	HTTP     config.HTTPConfig
}

func buildHTTPHandler(cfg httpHandlerConfig) http.Handler {
	router := httpx.NewRouter(cfg.Services)

	// Apply compression middleware first (innermost) so logging captures compressed sizes
	// Order: Recover -> Logging -> Compression -> Router
	h := router
	if cfg.HTTP.CompressionEnabled {
		cfg.Logger.Info("HTTP compression enabled", "level", cfg.HTTP.CompressionLevel)
		h = httpx.Compression(httpx.CompressionConfig{Level: cfg.HTTP.CompressionLevel, Logger: cfg.Logger})(h)
	}

	h = httpx.Logging(cfg.Logger)(h)
	h = httpx.Recover(cfg.Logger)(h)

	return h
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Hub     *stream.Hub
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server. Hijacked websocket
// connections are not tracked by Shutdown, so the hub is stopped first.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	if cfg.Hub != nil {
		cfg.Hub.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(cfg.Context, shutdownWaitTimeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}
	return nil
}
