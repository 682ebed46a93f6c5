// Package oidc implements ports.IdentityProvider against an OpenID Connect provider
// using the authorization-code flow with PKCE.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// Provider implements the IdentityProvider interface using OIDC/OAuth2.
type Provider struct {
	config        *oauth2.Config
	revocationURL string
	httpClient    *http.Client

	// go-oidc provider and verifier
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

var _ ports.IdentityProvider = (*Provider)(nil)

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	DiscoveryURL string
	// RevocationURL overrides the discovered revocation_endpoint.
	RevocationURL string
	HTTPClient    *http.Client // Optional, defaults to a 30s-timeout client
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
}

// NewProvider creates a new OIDC provider.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if config.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	p := &Provider{httpClient: httpClient}

	// Single discovery fetch backs both the verifier and the endpoints.
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(p.clientContext(ctx), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: config.ClientID})

	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if claimsErr := op.Claims(&extra); claimsErr != nil {
		return nil, fmt.Errorf("decode discovery claims: %w", claimsErr)
	}
	p.revocationURL = firstNonEmpty(config.RevocationURL, extra.RevocationEndpoint)

	p.config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURL,
		Scopes:       strings.Fields(config.Scope),
		Endpoint:     op.Endpoint(),
	}

	return p, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// Begin builds the provider authorization URL with fresh state, nonce and PKCE verifier.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (ports.BeginResult, error) {
	state, err := generateRandomString(32)
	if err != nil {
		return ports.BeginResult{}, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := generateRandomString(32)
	if err != nil {
		return ports.BeginResult{}, fmt.Errorf("generate nonce: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{
		gooidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	}
	if in.RedirectURL != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", in.RedirectURL))
	}

	return ports.BeginResult{
		AuthURL:  p.config.AuthCodeURL(state, opts...),
		State:    state,
		Nonce:    nonce,
		Verifier: verifier,
	}, nil
}

// Exchange redeems the authorization code and, when openid is requested, verifies
// the ID token nonce.
func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.TokenPair, error) {
	if in.Code == "" {
		return domainauth.TokenPair{}, errors.New("authorization code is required")
	}
	if in.Verifier == "" {
		return domainauth.TokenPair{}, errors.New("PKCE verifier is required")
	}

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(in.Verifier)}
	if in.RedirectURL != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", in.RedirectURL))
	}
	token, err := p.config.Exchange(p.clientContext(ctx), in.Code, opts...)
	if err != nil {
		return domainauth.TokenPair{}, fmt.Errorf("exchange code for token: %w", err)
	}

	if p.hasOpenIDScope() {
		if verifyErr := p.verifyIDToken(ctx, token, in.Nonce); verifyErr != nil {
			return domainauth.TokenPair{}, verifyErr
		}
	}

	pair := tokenPair(token, "")
	if !pair.Valid() {
		return domainauth.TokenPair{}, domainauth.ErrMissingTokens
	}
	return pair, nil
}

// Resolve fetches the identity behind the access token from the userinfo endpoint.
// All userinfo claims are kept as metadata for profile seeding.
func (p *Provider) Resolve(ctx context.Context, tokens domainauth.TokenPair) (domainauth.Identity, error) {
	if tokens.AccessToken == "" {
		return domainauth.Identity{}, errors.New("access token is required")
	}

	ui, err := p.oidcProvider.UserInfo(p.clientContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tokens.AccessToken,
		TokenType:   firstNonEmpty(tokens.TokenType, "Bearer"),
	}))
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("fetch user info: %w", err)
	}

	metadata := map[string]any{}
	if claimsErr := ui.Claims(&metadata); claimsErr != nil {
		return domainauth.Identity{}, fmt.Errorf("decode user info: %w", claimsErr)
	}
	if ui.Subject == "" {
		return domainauth.Identity{}, errors.New("user info has no subject")
	}
	return domainauth.Identity{UserID: ui.Subject, Email: ui.Email, Metadata: metadata}, nil
}

// Refresh trades the refresh token for a new pair. Providers that do not rotate
// refresh tokens keep the one presented.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (domainauth.TokenPair, error) {
	if refreshToken == "" {
		return domainauth.TokenPair{}, errors.New("refresh token is required")
	}

	src := p.config.TokenSource(p.clientContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	token, err := src.Token()
	if err != nil {
		return domainauth.TokenPair{}, fmt.Errorf("refresh token: %w", err)
	}
	return tokenPair(token, refreshToken), nil
}

// Revoke revokes the refresh token (RFC 7009). Without a revocation endpoint it is a no-op.
func (p *Provider) Revoke(ctx context.Context, tokens domainauth.TokenPair) error {
	if p.revocationURL == "" {
		return nil
	}
	tok, hint := tokens.RefreshToken, "refresh_token"
	if tok == "" {
		tok, hint = tokens.AccessToken, "access_token"
	}
	if tok == "" {
		return nil
	}

	form := url.Values{"token": {tok}, "token_type_hint": {hint}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(p.config.ClientSecret))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke token: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) verifyIDToken(ctx context.Context, tok *oauth2.Token, expectedNonce string) error {
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return err
	}
	idTok, err := p.verifier.Verify(p.clientContext(ctx), rawID)
	if err != nil {
		return fmt.Errorf("verify id_token: %w", err)
	}
	if expectedNonce != "" && idTok.Nonce != expectedNonce {
		return errors.New("invalid nonce")
	}
	return nil
}

func tokenPair(tok *oauth2.Token, fallbackRefresh string) domainauth.TokenPair {
	return domainauth.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: firstNonEmpty(tok.RefreshToken, fallbackRefresh),
		TokenType:    strings.ToLower(tok.Type()),
		ExpiresAt:    tok.Expiry.UTC(),
	}
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// generateRandomString generates a cryptographically secure URL-safe random string of exact length.
func generateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	nBytes := (length*3 + 3) / 4
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}

// hasOpenIDScope reports whether the configured scopes include "openid".
func (p *Provider) hasOpenIDScope() bool {
	for _, sc := range p.config.Scopes {
		if sc == "openid" {
			return true
		}
	}
	return false
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	s, ok := tok.Extra("id_token").(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
