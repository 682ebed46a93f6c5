// Package devauth provides a config-driven IdentityProvider for local development.
package devauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

const devTokenPrefix = "dev."

// Config controls the dev auth provider behavior.
// FullName is optional.
type Config struct {
	UserID      string
	Email       string
	FullName    string
	RedirectURL string        // our own /auth/callback
	TokenTTL    time.Duration // default 1h when zero
}

// Provider implements ports.IdentityProvider for local development.
// Begin redirects straight back to our callback with a locally generated code;
// every token it issues resolves to the configured identity.
type Provider struct {
	identity    domainauth.Identity
	redirectURL string
	tokenTTL    time.Duration
	now         func() time.Time
}

var _ ports.IdentityProvider = (*Provider)(nil)

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("dev auth: RedirectURL is required")
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = time.Hour
	}

	metadata := map[string]any{"email": cfg.Email}
	if cfg.FullName != "" {
		metadata["full_name"] = cfg.FullName
	}
	return &Provider{
		identity:    domainauth.Identity{UserID: cfg.UserID, Email: cfg.Email, Metadata: metadata},
		redirectURL: cfg.RedirectURL,
		tokenTTL:    ttl,
		now:         time.Now,
	}, nil
}

// Begin returns our callback URL carrying a dev code and fresh state.
func (p *Provider) Begin(_ context.Context, _ ports.BeginInput) (ports.BeginResult, error) {
	state, err := randomString(24)
	if err != nil {
		return ports.BeginResult{}, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(24)
	if err != nil {
		return ports.BeginResult{}, fmt.Errorf("generate nonce: %w", err)
	}
	verifier, err := randomString(43)
	if err != nil {
		return ports.BeginResult{}, fmt.Errorf("generate verifier: %w", err)
	}

	q := url.Values{"code": {"dev"}, "state": {state}}
	return ports.BeginResult{
		AuthURL:  p.redirectURL + "?" + q.Encode(),
		State:    state,
		Nonce:    nonce,
		Verifier: verifier,
	}, nil
}

// Exchange ignores the code and issues a fresh dev token pair.
func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.TokenPair, error) {
	if in.Code == "" {
		return domainauth.TokenPair{}, errors.New("authorization code is required")
	}
	return p.issue(devTokenPrefix + uuid.NewString()), nil
}

// Resolve accepts only tokens this provider issued.
func (p *Provider) Resolve(_ context.Context, tokens domainauth.TokenPair) (domainauth.Identity, error) {
	if !strings.HasPrefix(tokens.AccessToken, devTokenPrefix) {
		return domainauth.Identity{}, errors.New("dev auth: unknown access token")
	}
	return p.identity, nil
}

// Refresh issues a new access token and keeps the refresh token.
func (p *Provider) Refresh(_ context.Context, refreshToken string) (domainauth.TokenPair, error) {
	if !strings.HasPrefix(refreshToken, devTokenPrefix) {
		return domainauth.TokenPair{}, errors.New("dev auth: unknown refresh token")
	}
	return p.issue(refreshToken), nil
}

// Revoke is a no-op; dev tokens carry no server state.
func (p *Provider) Revoke(context.Context, domainauth.TokenPair) error { return nil }

func (p *Provider) issue(refreshToken string) domainauth.TokenPair {
	return domainauth.TokenPair{
		AccessToken:  devTokenPrefix + uuid.NewString(),
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    p.now().Add(p.tokenTTL).UTC(),
	}
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
