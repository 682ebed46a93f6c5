package ports

// Package ports defines interfaces (hexagonal ports) for auth, profile and event behavior.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.

import (
	"context"
	"errors"
	"time"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/domain/model"
)

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// BeginInput carries inputs for initiating an auth flow.
type BeginInput struct {
	Provider    string
	RedirectURL string
}

// BeginResult is a started authorization-code flow. State, Nonce and Verifier
// must be kept until the provider redirects back.
type BeginResult struct {
	AuthURL  string
	State    string
	Nonce    string
	Verifier string
}

// ExchangeInput groups parameters for the code/token exchange.
type ExchangeInput struct {
	Code        string
	Verifier    string
	Nonce       string
	RedirectURL string
}

// IdentityProvider is the remote identity/session provider.
type IdentityProvider interface {
	// Begin starts the login flow and returns the provider auth URL with its state, nonce and PKCE verifier.
	Begin(ctx context.Context, in BeginInput) (BeginResult, error)

	// Exchange trades an authorization code for a token pair, verifying the nonce.
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.TokenPair, error)

	// Resolve returns the identity the token pair belongs to.
	Resolve(ctx context.Context, tokens domainauth.TokenPair) (domainauth.Identity, error)

	// Refresh obtains a new token pair from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (domainauth.TokenPair, error)

	// Revoke signs the token pair out at the provider.
	Revoke(ctx context.Context, tokens domainauth.TokenPair) error
}

// SessionStore persists the session bound to each device.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Get(ctx context.Context, deviceID string) (domainauth.Session, error)
	Delete(ctx context.Context, deviceID string) error
}

// FlowStore keeps pending OAuth flows keyed by state. Take removes the flow so
// a state can only be redeemed once.
type FlowStore interface {
	Put(ctx context.Context, flow domainauth.PendingFlow, ttl time.Duration) error
	Take(ctx context.Context, state string) (domainauth.PendingFlow, error)
}

// CallbackGuard records callbacks that are being or have been processed.
type CallbackGuard interface {
	// Claim returns true if the key was not already claimed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops a claim so the callback may be retried.
	Release(ctx context.Context, key string) error
}

// ClaimMapper derives a profile seed from identity metadata.
type ClaimMapper interface {
	Seed(identity domainauth.Identity) (model.ProfileSeed, error)
}
