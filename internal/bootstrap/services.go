package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kerdos/kerdos-api/config"
	"github.com/kerdos/kerdos-api/internal/adapters/catalog"
	redisadapter "github.com/kerdos/kerdos-api/internal/adapters/redis"
	"github.com/kerdos/kerdos-api/internal/data"
	"github.com/kerdos/kerdos-api/internal/ports"
	"github.com/kerdos/kerdos-api/internal/service"
	"github.com/kerdos/kerdos-api/internal/service/authstate"
	"github.com/kerdos/kerdos-api/internal/stream"
)

// ServiceContainer holds the application services shared by every service mode.
type ServiceContainer struct {
	Identity   *service.IdentityService
	Profiles   *service.ProfileService
	Onboarding *service.OnboardingService
	OAuth      *service.OAuthService
	Screens    *service.ScreenService
	Progress   *service.ProgressService
	Devices    *authstate.Registry
	Hub        *stream.Hub
}

// ServiceDeps contains the connections and provider services are built on.
type ServiceDeps struct {
	Config   *config.AppConfig
	Stores   StoreDeps
	Provider ports.IdentityProvider
	Logger   *slog.Logger
}

// StoreDeps are the backing stores.
type StoreDeps struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

// ConnectStores connects to Postgres and Redis concurrently.
func ConnectStores(ctx context.Context, cfg DatabaseConfig) (StoreDeps, error) {
	var deps StoreDeps
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		db, err := ConnectDB(cfg)
		if err != nil {
			return err
		}
		deps.DB = db
		return nil
	})
	g.Go(func() error {
		client, err := ConnectRedis(cfg)
		if err != nil {
			return err
		}
		deps.Redis = client
		return nil
	})
	if err := g.Wait(); err != nil {
		deps.Close(cfg.Logger)
		return StoreDeps{}, err
	}
	return deps, nil
}

// Close closes whichever connections are open.
func (d StoreDeps) Close(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
	}
}

// NewServices wires stores, adapters and services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.Stores.DB == nil || deps.Stores.Redis == nil || deps.Provider == nil {
		return ServiceContainer{}, errors.New("services require config, database, redis and an identity provider")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	content, err := catalog.Load(cfg.Content.CatalogPath)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("load content catalog: %w", err)
	}
	mapper, err := BuildClaimMapper(cfg.Auth.Claims)
	if err != nil {
		return ServiceContainer{}, err
	}

	rdb := deps.Stores.Redis
	bus := redisadapter.NewEventBus(rdb, logger)
	flags := redisadapter.NewFlagStore(rdb)

	identity := service.NewIdentityService(service.IdentityServiceOptions{
		Provider: deps.Provider,
		Sessions: redisadapter.NewSessionStore(rdb, cfg.Session.MaxAge),
		Events:   service.IdentityEvents{Bus: bus, RefreshLeeway: cfg.Session.RefreshLeeway, Logger: logger},
	})
	profiles := service.NewProfileService(service.ProfileServiceOptions{
		Store:  data.NewProfileRepo(deps.Stores.DB),
		Mapper: mapper,
		Logger: logger,
	})
	onboarding := service.NewOnboardingService(flags, content)
	progress := service.NewProgressService(service.ProgressServiceOptions{
		Store:    data.NewProgressRepo(deps.Stores.DB),
		Notifier: identity,
		Deps:     service.ProgressDeps{Catalog: content, Logger: logger},
	})

	oauth := service.NewOAuthService(service.OAuthServiceOptions{
		Deps:   service.OAuthDeps{Provider: deps.Provider, Sessions: identity, Logger: logger},
		Stores: service.OAuthStores{Flows: redisadapter.NewFlowStore(rdb), Guard: redisadapter.NewCallbackGuard(rdb)},
		Config: service.OAuthSettings{
			Providers:      cfg.Auth.Providers,
			RedirectURL:    cfg.Auth.OAuth.RedirectURL,
			AppRedirectURL: cfg.Auth.AppRedirectURL,
			FlowTTL:        cfg.Session.FlowTTL,
			GuardTTL:       cfg.Session.CallbackGuardTTL,
		},
	})
	screens := service.NewScreenService(service.ScreenServiceOptions{
		Catalog:   content,
		Progress:  progress,
		Providers: cfg.Auth.Providers,
	})

	devices := authstate.NewRegistry(authstate.RegistryOptions{
		Manager: authstate.ManagerOptions{
			Deps: authstate.Deps{Sessions: identity, Profiles: profiles, Onboarding: onboarding},
			Events: authstate.Events{
				Bus:           bus,
				RefreshLeeway: cfg.Session.RefreshLeeway,
				Logger:        logger,
			},
		},
		Eviction: authstate.Eviction{Idle: cfg.Session.IdleEviction, Interval: cfg.Session.ReapInterval},
		Logger:   logger,
	})

	return ServiceContainer{
		Identity:   identity,
		Profiles:   profiles,
		Onboarding: onboarding,
		OAuth:      oauth,
		Screens:    screens,
		Progress:   progress,
		Devices:    devices,
		Hub:        stream.NewHub(logger),
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Stores   StoreDeps
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

func buildBackgroundServices(cfg *ServiceOrchestrationConfig) []backgroundService {
	return []backgroundService{
		{
			mode:  config.ServiceModeHTTP,
			name:  "device registry",
			start: cfg.Services.Devices.Run,
		},
		{
			mode: config.ServiceModeHTTP,
			name: "stream hub",
			start: func(ctx context.Context) error {
				cfg.Services.Hub.Run(ctx)
				return nil
			},
		},
		{
			mode: config.ServiceModeProgressConsumer,
			name: "progress consumer",
			start: func(ctx context.Context) error {
				return RunProgressConsumer(ctx, ProgressConsumerConfig{
					Kafka:   cfg.Config.Kafka,
					Handler: cfg.Services.Progress,
					Logger:  cfg.Logger,
				})
			},
		},
	}
}

// RunServicesWithShutdown starts all enabled services and blocks until a
// shutdown signal arrives or one of them fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(sigCtx)

	for _, svc := range buildBackgroundServices(cfg) {
		if !enabled[svc.mode] {
			continue
		}
		g.Go(func() error {
			logger.InfoContext(ctx, "background service started", "service", svc.name, "mode", svc.mode)
			if err := svc.start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s failed: %w", svc.name, err)
			}
			logger.Info(svc.name + " stopped")
			return nil
		})
	}

	if enabled[config.ServiceModeHTTP] {
		server := NewHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Stores:   cfg.Stores,
			Logger:   logger,
		})
		g.Go(func() error {
			logger.Info("starting HTTP server", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down services...")
			return ShutdownHTTPServer(ShutdownConfig{
				Context: context.WithoutCancel(ctx),
				Server:  server,
				Hub:     cfg.Services.Hub,
				Logger:  logger,
			})
		})
	}

	return g.Wait()
}
