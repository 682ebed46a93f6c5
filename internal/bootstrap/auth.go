package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kerdos/kerdos-api/config"
	"github.com/kerdos/kerdos-api/internal/adapters/claimmap"
	"github.com/kerdos/kerdos-api/internal/adapters/devauth"
	"github.com/kerdos/kerdos-api/internal/adapters/oidc"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// AuthConfig contains configuration for the identity provider.
type AuthConfig struct {
	Auth   config.AuthConfig
	Logger *slog.Logger
}

// BuildIdentityProvider creates the identity provider for the configured auth mode.
//
//nolint:ireturn // the auth mode picks the concrete provider at runtime.
func BuildIdentityProvider(ctx context.Context, cfg AuthConfig) (ports.IdentityProvider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		logger.Warn("dev auth enabled; every sign-in resolves to the configured dev user",
			"user_id", cfg.Auth.DevAuth.UserID)
		prov, err := devauth.NewProvider(devauth.Config{
			UserID:      cfg.Auth.DevAuth.UserID,
			Email:       cfg.Auth.DevAuth.Email,
			FullName:    cfg.Auth.DevAuth.FullName,
			RedirectURL: cfg.Auth.OAuth.RedirectURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create dev auth provider: %w", err)
		}
		return prov, nil

	case config.AuthModeOAuth:
		oauth := cfg.Auth.OAuth
		if oauth.DiscoveryURL == "" || oauth.ClientID == "" || oauth.ClientSecret == "" {
			return nil, errors.New("oauth auth mode requires OAUTH_DISCOVERY_URL, OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET")
		}
		prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:      oauth.ClientID,
			ClientSecret:  oauth.ClientSecret,
			RedirectURL:   oauth.RedirectURL,
			Scope:         oauth.Scope,
			DiscoveryURL:  oauth.DiscoveryURL,
			RevocationURL: oauth.RevocationURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create oidc provider: %w", err)
		}
		return prov, nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

// BuildClaimMapper compiles the profile seeding expressions.
func BuildClaimMapper(cfg config.ClaimsConfig) (*claimmap.Mapper, error) {
	m, err := claimmap.New(claimmap.Expressions{
		Username:  cfg.Username,
		FullName:  cfg.FullName,
		AvatarURL: cfg.AvatarURL,
	})
	if err != nil {
		return nil, fmt.Errorf("compile claim expressions: %w", err)
	}
	return m, nil
}
