// Package auth contains simple hand-written test doubles for auth and profile ports.
// They are safe for concurrent use and suitable for unit tests without codegen.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityProvider = (*MockIdentityProvider)(nil)
	_ ports.SessionStore     = (*MemorySessionStore)(nil)
	_ ports.FlowStore        = (*MemoryFlowStore)(nil)
	_ ports.CallbackGuard    = (*MemoryCallbackGuard)(nil)
	_ ports.FlagStore        = (*MemoryFlagStore)(nil)
)

// MockIdentityProvider simulates an IdP with deterministic state, nonce and tokens.
// Tokens it issues resolve to DefaultUser unless registered with SetIdentity.
type MockIdentityProvider struct {
	ExchangeFunc func(ctx context.Context, in ports.ExchangeInput) (domainauth.TokenPair, error)
	ResolveFunc  func(ctx context.Context, tokens domainauth.TokenPair) (domainauth.Identity, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (domainauth.TokenPair, error)
	RevokeFunc   func(ctx context.Context, tokens domainauth.TokenPair) error

	AuthURL     string
	DefaultUser domainauth.Identity
	TokenTTL    time.Duration

	mu         sync.Mutex
	callCount  int
	identities map[string]domainauth.Identity
	calls      map[string]int
}

// NewMockIdentityProvider creates a MockIdentityProvider with sensible defaults.
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{
		AuthURL: "https://mock-idp/auth",
		DefaultUser: domainauth.Identity{
			UserID:   "mock-user-1",
			Email:    "mock.user@example.com",
			Metadata: map[string]any{"full_name": "Mock User"},
		},
		TokenTTL:   time.Hour,
		identities: make(map[string]domainauth.Identity),
		calls:      make(map[string]int),
	}
}

// SetIdentity binds an access token to an identity for Resolve.
func (m *MockIdentityProvider) SetIdentity(accessToken string, id domainauth.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[accessToken] = id
}

// Calls returns how many times the named method ran.
func (m *MockIdentityProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockIdentityProvider) record(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	if method == "Begin" || method == "Exchange" || method == "Refresh" {
		m.callCount++
	}
	return m.callCount
}

func (m *MockIdentityProvider) Begin(_ context.Context, _ ports.BeginInput) (ports.BeginResult, error) {
	n := m.record("Begin")
	return ports.BeginResult{
		AuthURL:  fmt.Sprintf("%s?state=state-%d", m.AuthURL, n),
		State:    fmt.Sprintf("state-%d", n),
		Nonce:    fmt.Sprintf("nonce-%d", n),
		Verifier: fmt.Sprintf("verifier-%d", n),
	}, nil
}

func (m *MockIdentityProvider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.TokenPair, error) {
	n := m.record("Exchange")
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, in)
	}
	return m.pair(n, fmt.Sprintf("refresh-%d", n)), nil
}

func (m *MockIdentityProvider) Resolve(ctx context.Context, tokens domainauth.TokenPair) (domainauth.Identity, error) {
	m.record("Resolve")
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, tokens)
	}
	if tokens.AccessToken == "" {
		return domainauth.Identity{}, errors.New("access token is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.identities[tokens.AccessToken]; ok {
		return id, nil
	}
	return m.DefaultUser, nil
}

func (m *MockIdentityProvider) Refresh(ctx context.Context, refreshToken string) (domainauth.TokenPair, error) {
	n := m.record("Refresh")
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return m.pair(n, refreshToken), nil
}

func (m *MockIdentityProvider) Revoke(ctx context.Context, tokens domainauth.TokenPair) error {
	m.record("Revoke")
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, tokens)
	}
	return nil
}

func (m *MockIdentityProvider) pair(n int, refresh string) domainauth.TokenPair {
	return domainauth.TokenPair{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(m.TokenTTL).UTC(),
	}
}

// MemorySessionStore is an in-memory session store for unit tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domainauth.Session)}
}

func (m *MemorySessionStore) Save(_ context.Context, sess domainauth.Session) error {
	if sess.DeviceID == "" {
		return errors.New("session device ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.DeviceID] = sess
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, deviceID string) (domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[deviceID]
	if !ok {
		return domainauth.Session{}, ports.ErrNotFound
	}
	return sess, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, deviceID)
	return nil
}

// MemoryFlowStore keeps pending flows in memory. TTLs are ignored.
type MemoryFlowStore struct {
	mu    sync.Mutex
	flows map[string]domainauth.PendingFlow
}

// NewMemoryFlowStore creates an empty flow store.
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{flows: make(map[string]domainauth.PendingFlow)}
}

func (m *MemoryFlowStore) Put(_ context.Context, flow domainauth.PendingFlow, _ time.Duration) error {
	if flow.State == "" {
		return errors.New("flow state cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[flow.State] = flow
	return nil
}

func (m *MemoryFlowStore) Take(_ context.Context, state string) (domainauth.PendingFlow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flow, ok := m.flows[state]
	if !ok {
		return domainauth.PendingFlow{}, ports.ErrNotFound
	}
	delete(m.flows, state)
	return flow, nil
}

// MemoryCallbackGuard claims keys in memory. TTLs are ignored.
type MemoryCallbackGuard struct {
	mu     sync.Mutex
	claims map[string]bool
}

// NewMemoryCallbackGuard creates an empty guard.
func NewMemoryCallbackGuard() *MemoryCallbackGuard {
	return &MemoryCallbackGuard{claims: make(map[string]bool)}
}

func (m *MemoryCallbackGuard) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[key] {
		return false, nil
	}
	m.claims[key] = true
	return true, nil
}

func (m *MemoryCallbackGuard) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}

// Claimed reports whether key is currently claimed.
func (m *MemoryCallbackGuard) Claimed(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[key]
}

// MemoryFlagStore keeps device flags in memory.
type MemoryFlagStore struct {
	mu    sync.Mutex
	flags map[string]bool
}

// NewMemoryFlagStore creates an empty flag store.
func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{flags: make(map[string]bool)}
}

func (m *MemoryFlagStore) Get(_ context.Context, deviceID, flag string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[deviceID+":"+flag], nil
}

func (m *MemoryFlagStore) Set(_ context.Context, deviceID, flag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[deviceID+":"+flag] = true
	return nil
}

func (m *MemoryFlagStore) Clear(_ context.Context, deviceID, flag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, deviceID+":"+flag)
	return nil
}
