package authstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Manager is the template for every device manager; DeviceID is ignored.
	Manager  ManagerOptions
	Eviction Eviction
	Logger   *slog.Logger
}

// Eviction controls idle manager eviction.
type Eviction struct {
	// Idle is how long an unused manager lives. Zero disables eviction.
	Idle time.Duration
	// Interval is how often Run looks for idle managers; zero derives it from Idle.
	Interval time.Duration
}

type registryEntry struct {
	once sync.Once
	m    *Manager
	err  error
}

// Registry holds one Manager per device.
type Registry struct {
	opts   ManagerOptions
	idle   time.Duration
	every  time.Duration
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Manager.Events.Bus == nil {
		panic("authstate: Registry requires an event bus")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Manager.Events.Logger == nil {
		opts.Manager.Events.Logger = logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:    opts.Manager,
		idle:    opts.Eviction.Idle,
		every:   opts.Eviction.Interval,
		logger:  logger.With("component", "authstate_registry"),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*registryEntry),
	}
}

// Acquire returns the device's manager, creating and starting it on first use.
// Concurrent calls for one device share a single manager.
func (r *Registry) Acquire(deviceID string) (*Manager, error) {
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return nil, ErrStopped
	}
	e, ok := r.entries[deviceID]
	if !ok {
		e = &registryEntry{}
		r.entries[deviceID] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		opts := r.opts
		opts.DeviceID = deviceID
		m := NewManager(opts)
		if err := m.Start(r.ctx); err != nil {
			e.err = fmt.Errorf("start manager for device %s: %w", deviceID, err)
			r.remove(deviceID, e)
			return
		}

		r.mu.Lock()
		current := r.entries[deviceID] == e
		if current {
			e.m = m
		}
		r.mu.Unlock()
		if !current {
			// Released or closed while starting.
			m.Stop()
			e.err = ErrStopped
			return
		}
		r.logger.Info("device manager started", "device_id", deviceID)
	})
	if e.err != nil {
		return nil, e.err
	}

	r.mu.Lock()
	m := e.m
	r.mu.Unlock()
	m.Touch()
	return m, nil
}

// Get returns the device's manager if one is running.
func (r *Registry) Get(deviceID string) (*Manager, bool) {
	r.mu.Lock()
	var m *Manager
	if e, ok := r.entries[deviceID]; ok {
		m = e.m
	}
	r.mu.Unlock()
	if m == nil {
		return nil, false
	}
	m.Touch()
	return m, true
}

// Release stops and forgets the device's manager. Releasing an unknown device
// is a no-op.
func (r *Registry) Release(deviceID string) {
	r.mu.Lock()
	var m *Manager
	if e, ok := r.entries[deviceID]; ok {
		m = e.m
		delete(r.entries, deviceID)
	}
	r.mu.Unlock()
	if m != nil {
		m.Stop()
		r.logger.Info("device manager released", "device_id", deviceID)
	}
}

// Len returns the number of running managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reap stops managers unused since before now minus the idle eviction period
// and returns how many were stopped.
func (r *Registry) Reap(now time.Time) int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idle)

	var stale []*Manager
	r.mu.Lock()
	for id, e := range r.entries {
		if e.m != nil && e.m.LastUsed().Before(cutoff) {
			stale = append(stale, e.m)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, m := range stale {
		m.Stop()
		r.logger.Info("evicted idle device manager", "device_id", m.DeviceID())
	}
	return len(stale)
}

// Run forwards USER_UPDATED events to the managers of that user and evicts idle
// managers until ctx ends, then stops every manager.
func (r *Registry) Run(ctx context.Context) error {
	defer r.Close()

	sub, err := r.opts.Events.Bus.Subscribe(ctx, ports.UsersTopic)
	if err != nil {
		return fmt.Errorf("subscribe to user events: %w", err)
	}
	defer func() {
		if closeErr := sub.Close(); closeErr != nil {
			r.logger.Warn("close user subscription failed", "error", closeErr)
		}
	}()

	var reap <-chan time.Time
	if r.idle > 0 {
		every := r.every
		if every <= 0 {
			every = reapInterval(r.idle)
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("user event subscription closed")
			}
			if ev.Type == domainauth.EventUserUpdated {
				r.forwardUserUpdated(ctx, ev.UserID)
			}
		case now := <-reap:
			r.Reap(now)
		}
	}
}

// Close stops every manager; later Acquire calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.cancel()
	var running []*Manager
	for _, e := range r.entries {
		if e.m != nil {
			running = append(running, e.m)
		}
	}
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, m := range running {
		m.Stop()
	}
}

func (r *Registry) forwardUserUpdated(ctx context.Context, userID string) {
	for _, m := range r.managersOf(userID) {
		// Forwarding must not stall on one busy device.
		go func(m *Manager) {
			if err := m.NotifyUserUpdated(ctx, userID); err != nil {
				r.logger.WarnContext(ctx, "forward user update failed",
					"device_id", m.DeviceID(), "user_id", userID, "error", err)
			}
		}(m)
	}
}

func (r *Registry) managersOf(userID string) []*Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Manager
	for _, e := range r.entries {
		if e.m != nil && e.m.State().UserID() == userID {
			out = append(out, e.m)
		}
	}
	return out
}

func (r *Registry) remove(deviceID string, e *registryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[deviceID] == e {
		delete(r.entries, deviceID)
	}
}

func reapInterval(idle time.Duration) time.Duration {
	return min(max(idle/4, time.Second), time.Minute)
}
