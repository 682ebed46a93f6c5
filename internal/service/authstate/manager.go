// Package authstate keeps the per-device auth state in sync with the remote
// session and the profile store.
//
// Each device has one Manager. A Manager runs a single loop goroutine that
// applies initialization, auth events, profile refreshes and profile update
// publications strictly in arrival order. Readers only ever see complete
// immutable snapshots.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/domain/model"
	"github.com/kerdos/kerdos-api/internal/domain/nav"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// minRefreshRetry bounds how often a refresh that changed nothing is retried.
const minRefreshRetry = 5 * time.Second

var (
	// ErrStopped is returned by calls made after the manager stopped.
	ErrStopped = errors.New("auth state manager stopped")
	// ErrNotSignedIn is returned by user actions that need a signed-in user.
	ErrNotSignedIn = errors.New("no user is signed in")
)

// SessionSource reads and ends the remote session of a device.
type SessionSource interface {
	CurrentSession(ctx context.Context, deviceID string) (*domainauth.Session, error)
	SignOut(ctx context.Context, deviceID string) error
}

// ProfileSource loads and edits profiles.
type ProfileSource interface {
	LoadOrCreate(ctx context.Context, identity domainauth.Identity) (*model.UserProfile, error)
	Get(ctx context.Context, userID string) (*model.UserProfile, error)
	Update(
		ctx context.Context,
		userID string,
		current *model.UserProfile,
		req model.UpdateProfileRequest,
	) model.UpdateProfileResult
}

// OnboardingFlag reads the device onboarding flag.
type OnboardingFlag interface {
	Seen(ctx context.Context, deviceID string) (bool, error)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	DeviceID string
	Deps     Deps
	Events   Events
}

// Deps are the services a Manager reconciles against.
type Deps struct {
	Sessions   SessionSource
	Profiles   ProfileSource
	Onboarding OnboardingFlag
}

// Events configures event intake and background refresh.
type Events struct {
	Bus           ports.EventBus
	RefreshLeeway time.Duration
	Logger        *slog.Logger
}

type command struct {
	run  func(ctx context.Context)
	done chan struct{}
}

// Manager owns the auth state of one device.
type Manager struct {
	deviceID   string
	sessions   SessionSource
	profiles   ProfileSource
	onboarding OnboardingFlag
	bus        ports.EventBus
	leeway     time.Duration
	logger     *slog.Logger
	navigator  *nav.Navigator

	mu        sync.Mutex
	state     domainauth.State
	onboarded bool
	watchers  map[chan domainauth.State]struct{}

	cmds      chan command
	initDone  chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	lastUsed  atomic.Int64
}

// NewManager constructs a Manager. It does nothing until Start.
func NewManager(opts ManagerOptions) *Manager {
	if opts.DeviceID == "" {
		panic("authstate: DeviceID is required")
	}
	if opts.Deps.Sessions == nil || opts.Deps.Profiles == nil || opts.Events.Bus == nil {
		panic("authstate: Manager requires Sessions, Profiles and Bus")
	}
	logger := opts.Events.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		deviceID:   opts.DeviceID,
		sessions:   opts.Deps.Sessions,
		profiles:   opts.Deps.Profiles,
		onboarding: opts.Deps.Onboarding,
		bus:        opts.Events.Bus,
		leeway:     opts.Events.RefreshLeeway,
		logger:     logger.With("component", "authstate", "device_id", opts.DeviceID),
		navigator:  nav.NewNavigator(nav.ScreenRoot),
		state:      domainauth.InitialState(),
		watchers:   make(map[chan domainauth.State]struct{}),
		cmds:       make(chan command),
		initDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	m.Touch()
	return m
}

// DeviceID returns the device the manager belongs to.
func (m *Manager) DeviceID() string { return m.deviceID }

// Start subscribes to the device's auth events and begins initialization in the
// background. The subscription is active before the session is first read, so
// no event racing with initialization is lost. Calling Start again is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		var sub ports.Subscription
		sub, err = m.bus.Subscribe(ctx, ports.DeviceTopic(m.deviceID))
		if err != nil {
			err = fmt.Errorf("subscribe to device events: %w", err)
			close(m.done)
			return
		}
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.cancel = cancel
		go m.loop(loopCtx, sub)
	})
	return err
}

// Stop ends the loop and closes every watcher. It waits for the loop to exit.
// A manager stopped before Start never starts.
func (m *Manager) Stop() {
	m.startOnce.Do(func() { close(m.done) })
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
	})
	<-m.done
}

// Done is closed once the manager has stopped.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Touch records use of the manager for idle eviction.
func (m *Manager) Touch() { m.lastUsed.Store(time.Now().UnixNano()) }

// LastUsed returns the time of the last Touch.
func (m *Manager) LastUsed() time.Time { return time.Unix(0, m.lastUsed.Load()) }

// State returns the current snapshot.
func (m *Manager) State() domainauth.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// WaitInitialized blocks until the first session check has resolved.
func (m *Manager) WaitInitialized(ctx context.Context) (domainauth.State, error) {
	select {
	case <-m.initDone:
		return m.State(), nil
	case <-m.done:
		return m.State(), ErrStopped
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}
}

// Watch returns a channel that receives the current snapshot and then every
// published one. Delivery is latest-wins: a slow reader only misses
// intermediate snapshots. The channel is closed when ctx ends or the manager
// stops.
func (m *Manager) Watch(ctx context.Context) <-chan domainauth.State {
	ch := make(chan domainauth.State, 1)

	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		close(ch)
		return ch
	default:
	}
	m.watchers[ch] = struct{}{}
	ch <- m.state
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.done:
		}
		m.mu.Lock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}()
	return ch
}

// Onboarded reports the onboarding flag the manager routes with.
func (m *Manager) Onboarded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onboarded
}

// SetOnboarded records that onboarding was completed on this device.
func (m *Manager) SetOnboarded() {
	m.mu.Lock()
	m.onboarded = true
	m.mu.Unlock()
}

// Navigate evaluates the navigation guard for location against the current
// state and returns the decision.
func (m *Manager) Navigate(location nav.Screen) nav.Decision {
	m.mu.Lock()
	in := nav.Input{State: m.state, Location: location, HasSeenOnboarding: m.onboarded}
	m.mu.Unlock()

	d, changed := m.navigator.Observe(in)
	if !changed {
		d = nav.Evaluate(in)
	}
	return d
}

// Location returns the screen the device was last routed to.
func (m *Manager) Location() nav.Screen { return m.navigator.Location() }

// SignOut asks the provider to end the session. State is not cleared here; the
// SIGNED_OUT event that follows resets it.
func (m *Manager) SignOut(ctx context.Context) error {
	m.Touch()
	return m.sessions.SignOut(ctx, m.deviceID)
}

// RefreshProfile re-reads the profile of the current user and publishes it. It
// does nothing when no user is signed in.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	m.Touch()
	var err error
	runErr := m.do(ctx, func(loopCtx context.Context) {
		userID := m.State().UserID()
		if userID == "" {
			return
		}
		var p *model.UserProfile
		p, err = m.profiles.Get(loopCtx, userID)
		if err != nil {
			return
		}
		m.publishProfile(userID, p)
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// UpdateProfile applies req to the current user's profile and publishes the
// result on success.
func (m *Manager) UpdateProfile(ctx context.Context, req model.UpdateProfileRequest) model.UpdateProfileResult {
	m.Touch()
	snap := m.State()
	res := m.profiles.Update(ctx, snap.UserID(), snap.Profile, req)
	if !res.Success {
		return res
	}
	userID := snap.UserID()
	if err := m.do(ctx, func(context.Context) { m.publishProfile(userID, res.Profile) }); err != nil {
		m.logger.WarnContext(ctx, "publish updated profile failed", "error", err)
	}
	return res
}

// NotifyUserUpdated reloads the profile if userID is signed in on this device.
func (m *Manager) NotifyUserUpdated(ctx context.Context, userID string) error {
	return m.do(ctx, func(loopCtx context.Context) {
		m.reloadProfile(loopCtx, userID)
	})
}

// do runs fn on the loop goroutine and waits for it.
func (m *Manager) do(ctx context.Context, fn func(ctx context.Context)) error {
	cmd := command{run: fn, done: make(chan struct{})}
	select {
	case m.cmds <- cmd:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

func (m *Manager) loop(ctx context.Context, sub ports.Subscription) {
	refresh := newRefreshTimer()
	defer func() {
		refresh.stop()
		if err := sub.Close(); err != nil {
			m.logger.Warn("close device subscription failed", "error", err)
		}
		m.closeWatchers()
		close(m.done)
	}()

	m.initialize(ctx)
	close(m.initDone)
	refresh.arm(m.State().Session, m.leeway, 0)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				m.logger.Warn("device event subscription closed")
				return
			}
			m.handleEvent(ctx, ev)
			refresh.arm(m.State().Session, m.leeway, 0)
		case cmd := <-m.cmds:
			cmd.run(ctx)
			close(cmd.done)
		case <-refresh.C():
			m.refreshSession(ctx)
			refresh.arm(m.State().Session, m.leeway, minRefreshRetry)
		}
	}
}

func (m *Manager) initialize(ctx context.Context) {
	if m.onboarding != nil {
		seen, err := m.onboarding.Seen(ctx, m.deviceID)
		if err != nil {
			m.logger.WarnContext(ctx, "read onboarding flag failed", "error", err)
		}
		if seen {
			m.SetOnboarded()
		}
	}

	next := domainauth.State{Initialized: true}
	sess, err := m.sessions.CurrentSession(ctx, m.deviceID)
	if err != nil {
		m.logger.WarnContext(ctx, "initial session check failed", "error", err)
	}
	if sess != nil {
		user := sess.User
		next.User = &user
		next.Session = sess
		next.Profile = m.loadProfile(ctx, user)
	}
	m.publish(next)
	m.logger.InfoContext(ctx, "auth state initialized", "signed_in", next.SignedIn())
}

func (m *Manager) handleEvent(ctx context.Context, ev domainauth.Event) {
	switch {
	case ev.Type == domainauth.EventSignedOut:
		m.publish(domainauth.State{Initialized: true})
	case ev.CarriesSession():
		user := ev.Session.User
		m.publish(domainauth.State{
			User:        &user,
			Profile:     m.loadProfile(ctx, user),
			Session:     ev.Session,
			Initialized: true,
		})
	case ev.Type == domainauth.EventUserUpdated:
		m.reloadProfile(ctx, ev.UserID)
	default:
		m.logger.DebugContext(ctx, "ignoring auth event", "event", ev.Type)
	}
}

func (m *Manager) refreshSession(ctx context.Context) {
	// A refresh publishes TOKEN_REFRESHED or SIGNED_OUT, which the loop applies.
	if _, err := m.sessions.CurrentSession(ctx, m.deviceID); err != nil {
		m.logger.WarnContext(ctx, "background session refresh failed", "error", err)
	}
}

// loadProfile is fire-and-log: any failure degrades to a nil profile.
func (m *Manager) loadProfile(ctx context.Context, user domainauth.Identity) *model.UserProfile {
	p, err := m.profiles.LoadOrCreate(ctx, user)
	if err != nil {
		m.logger.WarnContext(ctx, "load profile failed", "user_id", user.UserID, "error", err)
		return nil
	}
	return p
}

func (m *Manager) reloadProfile(ctx context.Context, userID string) {
	if userID == "" || m.State().UserID() != userID {
		return
	}
	p, err := m.profiles.Get(ctx, userID)
	if err != nil {
		m.logger.WarnContext(ctx, "reload profile failed", "user_id", userID, "error", err)
		return
	}
	m.publishProfile(userID, p)
}

// publishProfile replaces the profile if userID is still the signed-in user.
func (m *Manager) publishProfile(userID string, p *model.UserProfile) {
	next := m.State()
	if next.UserID() != userID {
		return
	}
	next.Profile = p
	m.publish(next)
}

// publish swaps in next and notifies watchers. A profile that does not belong
// to the user is dropped.
func (m *Manager) publish(next domainauth.State) {
	if next.Profile != nil && next.Profile.ID != next.UserID() {
		m.logger.Warn("dropping profile of another user",
			"user_id", next.UserID(), "profile_id", next.Profile.ID)
		next.Profile = nil
	}
	next.Loading = false

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = next
	for ch := range m.watchers {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}
}

func (m *Manager) closeWatchers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.watchers {
		delete(m.watchers, ch)
		close(ch)
	}
}

// refreshTimer fires when the access token is due for refresh.
type refreshTimer struct {
	t *time.Timer
}

func newRefreshTimer() *refreshTimer { return &refreshTimer{} }

func (r *refreshTimer) C() <-chan time.Time {
	if r.t == nil {
		return nil
	}
	return r.t.C
}

func (r *refreshTimer) arm(sess *domainauth.Session, leeway, floor time.Duration) {
	r.stop()
	if sess == nil || sess.ExpiresAt().IsZero() {
		return
	}
	d := max(time.Until(sess.ExpiresAt().Add(-leeway)), floor)
	r.t = time.NewTimer(d)
}

func (r *refreshTimer) stop() {
	if r.t != nil {
		r.t.Stop()
		r.t = nil
	}
}
