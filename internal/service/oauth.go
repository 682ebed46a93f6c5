package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// SessionSetter makes a token pair the session of a device.
type SessionSetter interface {
	SetSession(ctx context.Context, deviceID string, tokens domainauth.TokenPair) (domainauth.Session, error)
}

// OAuthServiceOptions groups dependencies for OAuthService.
type OAuthServiceOptions struct {
	Deps   OAuthDeps
	Stores OAuthStores
	Config OAuthSettings
}

// OAuthDeps are the collaborators OAuthService calls out to.
type OAuthDeps struct {
	Provider ports.IdentityProvider
	Sessions SessionSetter
	Logger   *slog.Logger
}

// OAuthStores hold OAuth flow state shared across replicas.
type OAuthStores struct {
	Flows ports.FlowStore
	Guard ports.CallbackGuard
}

// OAuthSettings configures OAuthService.
type OAuthSettings struct {
	// Providers lists the enabled sign-in providers.
	Providers []string
	// RedirectURL is the provider redirect target (our /auth/callback).
	RedirectURL string
	// AppRedirectURL is the app deep link that receives the token fragment.
	AppRedirectURL string
	FlowTTL        time.Duration
	GuardTTL       time.Duration
}

// DeepLinkStatus reports how a deep-link callback was handled.
type DeepLinkStatus string

const (
	DeepLinkSignedIn         DeepLinkStatus = "signed_in"
	DeepLinkAlreadyProcessed DeepLinkStatus = "already_processed"
)

// DeepLinkResult is the outcome of ProcessDeepLink.
type DeepLinkResult struct {
	Status  DeepLinkStatus      `json:"status"`
	Session *domainauth.Session `json:"-"`
}

// OAuthService runs the OAuth sign-in flow: it starts provider flows, turns the
// provider redirect into an app deep link, and redeems deep-link callbacks once.
type OAuthService struct {
	provider ports.IdentityProvider
	sessions SessionSetter
	flows    ports.FlowStore
	guard    ports.CallbackGuard
	cfg      OAuthSettings
	logger   *slog.Logger
	inflight singleflight.Group
	now      func() time.Time
}

// NewOAuthService constructs a new OAuthService.
func NewOAuthService(opts OAuthServiceOptions) *OAuthService {
	if opts.Deps.Provider == nil || opts.Deps.Sessions == nil {
		panic("service: OAuthService requires Provider and Sessions")
	}
	if opts.Stores.Flows == nil || opts.Stores.Guard == nil {
		panic("service: OAuthService requires Flows and Guard")
	}
	logger := opts.Deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthService{
		provider: opts.Deps.Provider,
		sessions: opts.Deps.Sessions,
		flows:    opts.Stores.Flows,
		guard:    opts.Stores.Guard,
		cfg:      opts.Config,
		logger:   logger.With("component", "oauth"),
		now:      time.Now,
	}
}

// Begin starts a flow for provider on behalf of deviceID and returns the URL the
// app must open.
func (s *OAuthService) Begin(ctx context.Context, deviceID, provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !s.providerEnabled(provider) {
		return "", apperrors.New(apperrors.ErrCodeProviderUnsupported,
			fmt.Sprintf("sign-in with %q is not available", provider))
	}

	res, err := s.provider.Begin(ctx, ports.BeginInput{Provider: provider, RedirectURL: s.cfg.RedirectURL})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeOAuthProvider, "could not start sign-in")
	}

	flow := domainauth.PendingFlow{
		State:     res.State,
		DeviceID:  deviceID,
		Provider:  provider,
		Verifier:  res.Verifier,
		Nonce:     res.Nonce,
		CreatedAt: s.now().UTC(),
	}
	if putErr := s.flows.Put(ctx, flow, s.cfg.FlowTTL); putErr != nil {
		return "", fmt.Errorf("store pending flow: %w", putErr)
	}
	return res.AuthURL, nil
}

// RedirectInput carries the query of the provider redirect.
type RedirectInput struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CompleteRedirect redeems the pending flow named by state and returns the app
// deep link carrying either the token pair or the error. The returned error is
// for logging only; the deep link is always usable.
func (s *OAuthService) CompleteRedirect(ctx context.Context, in RedirectInput) (string, error) {
	var flow domainauth.PendingFlow
	var takeErr error
	if in.State != "" {
		flow, takeErr = s.flows.Take(ctx, in.State)
	}

	if in.Error != "" {
		return s.deepLink(domainauth.ErrorFragment(in.Error, in.ErrorDescription)),
			&domainauth.ProviderError{Code: in.Error, Description: in.ErrorDescription}
	}
	if in.Code == "" || in.State == "" {
		return s.deepLink(domainauth.ErrorFragment("invalid_request", "missing code or state")),
			errors.New("redirect is missing code or state")
	}
	if takeErr != nil {
		return s.deepLink(domainauth.ErrorFragment("invalid_request", "unknown or expired state")),
			fmt.Errorf("take pending flow: %w", takeErr)
	}

	tokens, err := s.provider.Exchange(ctx, ports.ExchangeInput{
		Code:        in.Code,
		Verifier:    flow.Verifier,
		Nonce:       flow.Nonce,
		RedirectURL: s.cfg.RedirectURL,
	})
	if err != nil {
		return s.deepLink(domainauth.ErrorFragment("server_error", "token exchange failed")),
			fmt.Errorf("exchange code for device %s: %w", flow.DeviceID, err)
	}
	return s.deepLink(domainauth.CallbackFragment(tokens, s.now())), nil
}

func (s *OAuthService) deepLink(fragment string) string {
	return s.cfg.AppRedirectURL + "#" + fragment
}

// ProcessDeepLink redeems the token pair carried by a deep-link or redirect URL.
// Each pair is redeemed once: a pair already claimed, here or on another
// replica, yields DeepLinkAlreadyProcessed and no session change. On failure the
// claim is released and the error returned; nothing is retried.
func (s *OAuthService) ProcessDeepLink(ctx context.Context, deviceID, rawURL string) (DeepLinkResult, error) {
	tokens, err := domainauth.ParseCallbackURL(rawURL, s.now())
	if err != nil {
		var perr *domainauth.ProviderError
		if errors.As(err, &perr) {
			msg := perr.Description
			if msg == "" {
				msg = perr.Code
			}
			return DeepLinkResult{}, apperrors.Wrap(err, apperrors.ErrCodeOAuthProvider, msg)
		}
		return DeepLinkResult{}, apperrors.Wrap(err, apperrors.ErrCodeOAuthInvalidCallback,
			"the sign-in callback did not contain a session")
	}

	key := tokens.Fingerprint()
	v, err, _ := s.inflight.Do(key, func() (any, error) {
		return s.redeem(ctx, deviceID, key, tokens)
	})
	if err != nil {
		return DeepLinkResult{}, err
	}
	return v.(DeepLinkResult), nil
}

func (s *OAuthService) redeem(
	ctx context.Context,
	deviceID, key string,
	tokens domainauth.TokenPair,
) (DeepLinkResult, error) {
	claimed, err := s.guard.Claim(ctx, key, s.cfg.GuardTTL)
	if err != nil {
		return DeepLinkResult{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "could not record the sign-in callback")
	}
	if !claimed {
		s.logger.InfoContext(ctx, "callback already processed", "device_id", deviceID)
		return DeepLinkResult{Status: DeepLinkAlreadyProcessed}, nil
	}

	sess, err := s.sessions.SetSession(ctx, deviceID, tokens)
	if err != nil {
		if relErr := s.guard.Release(context.WithoutCancel(ctx), key); relErr != nil {
			s.logger.WarnContext(ctx, "release callback claim failed", "error", relErr)
		}
		return DeepLinkResult{}, apperrors.Wrap(err, apperrors.ErrCodeOAuthExchange, "could not establish the session")
	}
	return DeepLinkResult{Status: DeepLinkSignedIn, Session: &sess}, nil
}

func (s *OAuthService) providerEnabled(name string) bool {
	for _, p := range s.cfg.Providers {
		if p == name {
			return true
		}
	}
	return false
}
