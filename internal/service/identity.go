package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// IdentityServiceOptions groups dependencies for IdentityService.
type IdentityServiceOptions struct {
	Provider ports.IdentityProvider
	Sessions ports.SessionStore
	Events   IdentityEvents
}

// IdentityEvents groups the event fan-out settings of IdentityService.
type IdentityEvents struct {
	Bus           ports.EventBus
	RefreshLeeway time.Duration
	Logger        *slog.Logger
}

// IdentityService is the device-facing view of the remote identity provider. It
// keeps one provider session per device and announces every change on the bus.
type IdentityService struct {
	provider ports.IdentityProvider
	sessions ports.SessionStore
	bus      ports.EventBus
	leeway   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewIdentityService constructs a new IdentityService.
func NewIdentityService(opts IdentityServiceOptions) *IdentityService {
	if opts.Provider == nil || opts.Sessions == nil || opts.Events.Bus == nil {
		panic("service: IdentityService requires Provider, Sessions and Events.Bus")
	}
	logger := opts.Events.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityService{
		provider: opts.Provider,
		sessions: opts.Sessions,
		bus:      opts.Events.Bus,
		leeway:   opts.Events.RefreshLeeway,
		logger:   logger.With("component", "identity"),
		now:      time.Now,
	}
}

// CurrentSession returns the device session, or nil when signed out. A session
// whose access token is due is refreshed first; if the refresh fails the session
// is removed and SIGNED_OUT is published.
func (s *IdentityService) CurrentSession(ctx context.Context, deviceID string) (*domainauth.Session, error) {
	sess, err := s.sessions.Get(ctx, deviceID)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !sess.NeedsRefresh(s.now(), s.leeway) {
		return &sess, nil
	}

	tokens, refreshErr := s.provider.Refresh(ctx, sess.Tokens.RefreshToken)
	if refreshErr != nil {
		s.logger.WarnContext(ctx, "session refresh failed; signing device out",
			"device_id", deviceID, "error", refreshErr)
		if dropErr := s.dropSession(ctx, deviceID, sess.User.UserID); dropErr != nil {
			return nil, dropErr
		}
		return nil, nil
	}

	sess.Tokens = tokens
	if saveErr := s.sessions.Save(ctx, sess); saveErr != nil {
		return nil, fmt.Errorf("save refreshed session: %w", saveErr)
	}
	s.publish(ctx, domainauth.EventTokenRefreshed, &sess)
	return &sess, nil
}

// SetSession resolves tokens to an identity and makes it the device session.
func (s *IdentityService) SetSession(
	ctx context.Context,
	deviceID string,
	tokens domainauth.TokenPair,
) (domainauth.Session, error) {
	if !tokens.Valid() {
		return domainauth.Session{}, domainauth.ErrMissingTokens
	}
	identity, err := s.provider.Resolve(ctx, tokens)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("resolve identity: %w", err)
	}

	sess := domainauth.Session{
		DeviceID:  deviceID,
		Tokens:    tokens,
		User:      identity,
		CreatedAt: s.now().UTC(),
	}
	if saveErr := s.sessions.Save(ctx, sess); saveErr != nil {
		return domainauth.Session{}, fmt.Errorf("save session: %w", saveErr)
	}
	s.publish(ctx, domainauth.EventSignedIn, &sess)
	return sess, nil
}

// SignOut revokes the device session at the provider, then removes it. A failed
// revocation leaves the session in place and is returned.
func (s *IdentityService) SignOut(ctx context.Context, deviceID string) error {
	sess, err := s.sessions.Get(ctx, deviceID)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("get session: %w", err)
	}
	if err == nil {
		if revokeErr := s.provider.Revoke(ctx, sess.Tokens); revokeErr != nil {
			return fmt.Errorf("revoke session: %w", revokeErr)
		}
	}
	return s.dropSession(ctx, deviceID, sess.User.UserID)
}

// NotifyUserUpdated announces that the user's profile changed outside any device.
func (s *IdentityService) NotifyUserUpdated(ctx context.Context, userID string) error {
	ev := domainauth.Event{Type: domainauth.EventUserUpdated, UserID: userID, At: s.now().UTC()}
	if err := s.bus.Publish(ctx, ports.UsersTopic, ev); err != nil {
		return fmt.Errorf("publish user update: %w", err)
	}
	return nil
}

func (s *IdentityService) dropSession(ctx context.Context, deviceID, userID string) error {
	if err := s.sessions.Delete(ctx, deviceID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	ev := domainauth.Event{
		Type:     domainauth.EventSignedOut,
		DeviceID: deviceID,
		UserID:   userID,
		At:       s.now().UTC(),
	}
	if err := s.bus.Publish(ctx, ports.DeviceTopic(deviceID), ev); err != nil {
		return fmt.Errorf("publish sign out: %w", err)
	}
	return nil
}

// publish is best effort: the session is already stored and the next launch
// reads it from the store.
func (s *IdentityService) publish(ctx context.Context, typ domainauth.EventType, sess *domainauth.Session) {
	ev := domainauth.Event{
		Type:     typ,
		DeviceID: sess.DeviceID,
		UserID:   sess.User.UserID,
		Session:  sess,
		At:       s.now().UTC(),
	}
	if err := s.bus.Publish(ctx, ports.DeviceTopic(sess.DeviceID), ev); err != nil {
		s.logger.WarnContext(ctx, "publish auth event failed",
			"device_id", sess.DeviceID, "event", typ, "error", err)
	}
}
