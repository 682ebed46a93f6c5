package devauth

import (
	"context"
	"net/url"
	"strings"
	"testing"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	prov, err := NewProvider(Config{
		UserID:      "dev-user",
		Email:       "dev@example.com",
		FullName:    "Dev User",
		RedirectURL: "http://localhost:8080/auth/callback",
	})
	if err != nil {
		t.Fatalf("NewProvider error: %v", err)
	}
	return prov
}

func TestProvider_BeginExchangeResolve(t *testing.T) {
	prov := newTestProvider(t)
	ctx := context.Background()

	res, err := prov.Begin(ctx, ports.BeginInput{Provider: "google"})
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if !strings.HasPrefix(res.AuthURL, "http://localhost:8080/auth/callback?") {
		t.Fatalf("unexpected authURL: %s", res.AuthURL)
	}
	u, _ := url.Parse(res.AuthURL)
	if u.Query().Get("state") != res.State || res.Nonce == "" || res.Verifier == "" {
		t.Fatalf("state, nonce and verifier should be generated: %+v", res)
	}

	pair, err := prov.Exchange(ctx, ports.ExchangeInput{Code: "dev", Verifier: res.Verifier})
	if err != nil {
		t.Fatalf("Exchange error: %v", err)
	}
	if !pair.Valid() {
		t.Fatalf("expected a complete token pair: %+v", pair)
	}

	id, err := prov.Resolve(ctx, pair)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if id.UserID != "dev-user" || id.Email != "dev@example.com" || id.Metadata["full_name"] != "Dev User" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestProvider_RefreshKeepsRefreshToken(t *testing.T) {
	prov := newTestProvider(t)
	ctx := context.Background()

	pair, _ := prov.Exchange(ctx, ports.ExchangeInput{Code: "dev"})
	next, err := prov.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if next.RefreshToken != pair.RefreshToken || next.AccessToken == pair.AccessToken {
		t.Fatalf("unexpected refreshed pair: %+v", next)
	}

	if _, err := prov.Refresh(ctx, "foreign"); err == nil {
		t.Fatal("expected foreign refresh token to be rejected")
	}
}

func TestProvider_ResolveRejectsForeignToken(t *testing.T) {
	prov := newTestProvider(t)
	_, err := prov.Resolve(context.Background(), domainauth.TokenPair{AccessToken: "abc", RefreshToken: "def"})
	if err == nil {
		t.Fatal("expected error for foreign token")
	}
}

func TestNewProvider_Validation(t *testing.T) {
	if _, err := NewProvider(Config{Email: "a@b.c", RedirectURL: "x"}); err == nil {
		t.Fatal("expected missing user id error")
	}
	if _, err := NewProvider(Config{UserID: "u", RedirectURL: "x"}); err == nil {
		t.Fatal("expected missing email error")
	}
	if _, err := NewProvider(Config{UserID: "u", Email: "a@b.c"}); err == nil {
		t.Fatal("expected missing redirect error")
	}
}
