package config

import "time"

// SessionConfig tunes per-device session managers and the OAuth callback flow.
type SessionConfig struct {
	// IdleEviction tears down a device manager after this much inactivity.
	IdleEviction time.Duration `env:"IDLE_EVICTION" envDefault:"30m"`

	// ReapInterval controls how often idle managers are checked.
	ReapInterval time.Duration `env:"REAP_INTERVAL" envDefault:"1m"`

	// FlowTTL bounds how long a started OAuth flow may wait for its callback.
	FlowTTL time.Duration `env:"FLOW_TTL" envDefault:"10m"`

	// CallbackGuardTTL is how long a processed token pair stays claimed.
	CallbackGuardTTL time.Duration `env:"CALLBACK_GUARD_TTL" envDefault:"10m"`

	// RefreshLeeway refreshes sessions this long before they expire.
	RefreshLeeway time.Duration `env:"REFRESH_LEEWAY" envDefault:"30s"`

	// MaxAge is how long a stored device session survives without being saved again.
	MaxAge time.Duration `env:"MAX_AGE" envDefault:"720h"`

	// LaunchWait is how long POST /v1/launch waits for the first resolution.
	LaunchWait time.Duration `env:"LAUNCH_WAIT" envDefault:"3s"`
}

// Sanitize applies guardrails to session configuration values.
func (s *SessionConfig) Sanitize() {
	if s.IdleEviction < time.Minute {
		s.IdleEviction = time.Minute
	}
	if s.ReapInterval <= 0 || s.ReapInterval > s.IdleEviction {
		s.ReapInterval = s.IdleEviction / 2
	}
	if s.FlowTTL < time.Minute {
		s.FlowTTL = time.Minute
	}
	if s.CallbackGuardTTL < time.Minute {
		s.CallbackGuardTTL = time.Minute
	}
	if s.RefreshLeeway < 0 {
		s.RefreshLeeway = 0
	}
	if s.MaxAge < time.Hour {
		s.MaxAge = time.Hour
	}
	if s.LaunchWait < 0 {
		s.LaunchWait = 0
	}
}
