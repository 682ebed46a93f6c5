package auth

// Package auth contains domain-level types for identities, sessions and auth events.
// It is pure and free of framework/adapter concerns.

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kerdos/kerdos-api/internal/domain/model"
)

// Identity represents the authenticated principal returned by the identity provider.
// Adapters map provider-specific claims into this shape; Metadata keeps the raw
// user metadata so profile seeding can pick fields out of it.
type Identity struct {
	UserID   string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// TokenPair is the provider-issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether both tokens are present.
func (t TokenPair) Valid() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}

// Fingerprint identifies a token pair without exposing it. Two deliveries of the
// same callback share a fingerprint.
func (t TokenPair) Fingerprint() string {
	sum := sha256.Sum256([]byte(t.AccessToken + "\x00" + t.RefreshToken))
	return hex.EncodeToString(sum[:])
}

// Session is the cached copy of a provider session bound to one device.
type Session struct {
	DeviceID  string    `json:"device_id"`
	Tokens    TokenPair `json:"tokens"`
	User      Identity  `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiresAt returns the access token expiry.
func (s Session) ExpiresAt() time.Time { return s.Tokens.ExpiresAt }

// NeedsRefresh reports whether the access token expires within leeway of now.
// A zero expiry never needs a refresh.
func (s Session) NeedsRefresh(now time.Time, leeway time.Duration) bool {
	if s.Tokens.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(s.Tokens.ExpiresAt)
}

// EventType names a change in a device's remote session.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// Event is published whenever a device session changes.
// Session is nil for SIGNED_OUT and for user-scoped USER_UPDATED events.
type Event struct {
	Type     EventType `json:"type"`
	DeviceID string    `json:"device_id,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	Session  *Session  `json:"session,omitempty"`
	At       time.Time `json:"at"`
}

// CarriesSession reports whether the event replaces the device session.
func (e Event) CarriesSession() bool {
	return e.Session != nil && e.Type != EventSignedOut
}

// PendingFlow is an OAuth authorization-code flow waiting for its provider redirect.
type PendingFlow struct {
	State     string    `json:"state"`
	DeviceID  string    `json:"device_id"`
	Provider  string    `json:"provider"`
	Verifier  string    `json:"verifier"`
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the per-device view of who is signed in.
// A State value is immutable once published; managers replace it wholesale.
type State struct {
	User        *Identity          `json:"user"`
	Profile     *model.UserProfile `json:"profile"`
	Session     *Session           `json:"session"`
	Loading     bool               `json:"loading"`
	Initialized bool               `json:"initialized"`
}

// SignedIn reports whether a user is present.
func (s State) SignedIn() bool { return s.User != nil }

// UserID returns the signed-in user id or "".
func (s State) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.UserID
}

// InitialState is the state before the first session check resolves.
func InitialState() State {
	return State{Loading: true}
}
