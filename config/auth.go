package config

import (
	"fmt"
	"strings"
)

// AuthMode represents the authentication mode for the application.
type AuthMode string

const (
	// AuthModeOAuth uses OAuth/OIDC for authentication.
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeMock uses mock/dev authentication (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "oauth", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oauth, mock)", v)
	}
}

// OAuthConfig contains OAuth/OIDC configuration.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"     envDefault:"kerdos"`
	ClientSecret string `env:"CLIENT_SECRET" envDefault:"kerdos"`
	// RedirectURL is the provider redirect target served by this API.
	// Defaults to APP_BASE_URL + /auth/callback.
	RedirectURL  string `env:"REDIRECT_URL"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	// RevocationURL overrides the revocation_endpoint advertised by discovery.
	RevocationURL string `env:"REVOCATION_URL"`
}

// DevAuthConfig controls mock/dev authentication identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID   string `env:"USER_ID"   envDefault:"00000000-0000-4000-8000-000000000001"`
	Email    string `env:"EMAIL"     envDefault:"dev@kerdos.app"`
	FullName string `env:"FULL_NAME" envDefault:"Dev User"`
}

// ClaimsConfig holds the JMESPath expressions used to seed a profile from identity metadata.
type ClaimsConfig struct {
	Username  string `env:"USERNAME"   envDefault:"user_metadata.username || user_metadata.preferred_username"`
	FullName  string `env:"FULL_NAME"  envDefault:"user_metadata.full_name || user_metadata.name"`
	AvatarURL string `env:"AVATAR_URL" envDefault:"user_metadata.avatar_url || user_metadata.picture"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which identity provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"oauth"`

	// OAuth configuration (used when Mode=oauth).
	OAuth OAuthConfig `envPrefix:"OAUTH_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// Claims configures profile seeding from identity metadata.
	Claims ClaimsConfig `envPrefix:"CLAIM_"`

	// AppRedirectURL is the app deep link that receives the token fragment.
	AppRedirectURL string `env:"APP_REDIRECT_URL" envDefault:"kerdos://auth/callback"`

	// Providers lists the sign-in providers the app may request.
	Providers []string `env:"AUTH_PROVIDERS" envDefault:"google" envSeparator:","`
}

// Sanitize normalizes provider names.
func (a *AuthConfig) Sanitize() {
	out := a.Providers[:0]
	for _, p := range a.Providers {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	a.Providers = out
}
