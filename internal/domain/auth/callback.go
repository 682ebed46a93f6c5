package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxExpiresIn bounds expires_in (seconds) well below time.Duration overflow.
const maxExpiresIn = 365 * 24 * 60 * 60

// ErrMissingTokens is returned when a callback fragment lacks the token pair.
var ErrMissingTokens = errors.New("callback is missing access_token or refresh_token")

// ProviderError is an error reported by the identity provider in a callback.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return "provider error: " + e.Code
	}
	return fmt.Sprintf("provider error: %s: %s", e.Code, e.Description)
}

// ParseCallbackURL extracts the token pair from the fragment of a deep link or
// redirect URL (the portion after '#', formatted as a query string).
func ParseCallbackURL(raw string, now time.Time) (TokenPair, error) {
	_, fragment, ok := strings.Cut(strings.TrimSpace(raw), "#")
	if !ok || fragment == "" {
		return TokenPair{}, ErrMissingTokens
	}
	return ParseCallbackFragment(fragment, now)
}

// ParseCallbackFragment parses a "access_token=..&refresh_token=.." fragment.
func ParseCallbackFragment(fragment string, now time.Time) (TokenPair, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return TokenPair{}, fmt.Errorf("parse callback fragment: %w", err)
	}

	if code := values.Get("error"); code != "" {
		return TokenPair{}, &ProviderError{Code: code, Description: values.Get("error_description")}
	}

	pair := TokenPair{
		AccessToken:  values.Get("access_token"),
		RefreshToken: values.Get("refresh_token"),
		TokenType:    values.Get("token_type"),
	}
	if !pair.Valid() {
		return TokenPair{}, ErrMissingTokens
	}

	if v := values.Get("expires_in"); v != "" {
		secs, convErr := strconv.ParseInt(v, 10, 64)
		if convErr != nil || secs < 0 || secs > maxExpiresIn {
			return TokenPair{}, fmt.Errorf("invalid expires_in %q", v)
		}
		pair.ExpiresAt = now.Add(time.Duration(secs) * time.Second)
	}
	return pair, nil
}

// CallbackFragment renders the fragment the app deep link receives.
func CallbackFragment(t TokenPair, now time.Time) string {
	v := url.Values{}
	v.Set("access_token", t.AccessToken)
	v.Set("refresh_token", t.RefreshToken)
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	v.Set("token_type", tokenType)
	if !t.ExpiresAt.IsZero() {
		secs := int(t.ExpiresAt.Sub(now).Round(time.Second).Seconds())
		if secs < 0 {
			secs = 0
		}
		v.Set("expires_in", strconv.Itoa(secs))
	}
	return v.Encode()
}

// ErrorFragment renders a provider error for the app deep link.
func ErrorFragment(code, description string) string {
	v := url.Values{}
	v.Set("error", code)
	if description != "" {
		v.Set("error_description", description)
	}
	return v.Encode()
}
