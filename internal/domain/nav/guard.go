// Package nav maps a device's auth state onto the screen group it may see.
package nav

import (
	"strings"

	"github.com/kerdos/kerdos-api/internal/domain/auth"
)

// Screen is an app route, e.g. "home" or "auth/callback".
type Screen string

const (
	ScreenRoot         Screen = ""
	ScreenWelcome      Screen = "welcome"
	ScreenOnboarding   Screen = "onboarding"
	ScreenAuth         Screen = "auth"
	ScreenAuthCallback Screen = "auth/callback"
	ScreenHome         Screen = "home"
	ScreenProfile      Screen = "profile"
)

// Group is a set of screens that share an access rule.
type Group string

const (
	GroupNone    Group = ""
	GroupPublic  Group = "public"
	GroupPrivate Group = "private"
)

var screenGroups = map[Screen]Group{
	ScreenRoot:         GroupNone,
	ScreenWelcome:      GroupPublic,
	ScreenOnboarding:   GroupPublic,
	ScreenAuth:         GroupPublic,
	ScreenAuthCallback: GroupPublic,
	ScreenHome:         GroupPrivate,
	ScreenProfile:      GroupPrivate,
}

// ParseScreen normalizes a location and reports whether it names a known screen.
func ParseScreen(location string) (Screen, bool) {
	s := Screen(strings.Trim(strings.ToLower(strings.TrimSpace(location)), "/"))
	if s == "(tabs)" || s == "tabs" {
		s = ScreenHome
	}
	_, ok := screenGroups[s]
	return s, ok
}

// GroupOf returns the group a screen belongs to.
func GroupOf(s Screen) Group { return screenGroups[s] }

// Status is the guard state derived from auth state.
type Status string

const (
	StatusLoading         Status = "loading"
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticated   Status = "authenticated"
)

// StatusOf derives the guard status.
func StatusOf(s auth.State) Status {
	switch {
	case !s.Initialized || s.Loading:
		return StatusLoading
	case s.User == nil:
		return StatusUnauthenticated
	default:
		return StatusAuthenticated
	}
}

// Input is everything the guard evaluates.
type Input struct {
	State             auth.State
	Location          Screen
	HasSeenOnboarding bool
}

// Decision is the result of one evaluation. At most one redirect is produced.
type Decision struct {
	Status   Status `json:"status"`
	Redirect bool   `json:"redirect"`
	Target   Screen `json:"target,omitempty"`
}

// EntryFor returns the canonical entry screen for a status.
func EntryFor(status Status, hasSeenOnboarding bool) Screen {
	switch status {
	case StatusAuthenticated:
		return ScreenHome
	case StatusUnauthenticated:
		if hasSeenOnboarding {
			return ScreenAuth
		}
		return ScreenWelcome
	default:
		return ScreenRoot
	}
}

// Evaluate decides whether the location is allowed for the state. A redirect
// always targets the entry of the group the status allows, so evaluating again
// at the target yields no redirect.
func Evaluate(in Input) Decision {
	status := StatusOf(in.State)
	if status == StatusLoading {
		return Decision{Status: status}
	}

	allowed := GroupPublic
	if status == StatusAuthenticated {
		allowed = GroupPrivate
	}
	if GroupOf(in.Location) == allowed {
		return Decision{Status: status}
	}
	return Decision{
		Status:   status,
		Redirect: true,
		Target:   EntryFor(status, in.HasSeenOnboarding),
	}
}
