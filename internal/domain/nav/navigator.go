package nav

import "sync"

type navKey struct {
	userID            string
	initialized       bool
	loading           bool
	location          Screen
	hasSeenOnboarding bool
}

func keyOf(in Input) navKey {
	return navKey{
		userID:            in.State.UserID(),
		initialized:       in.State.Initialized,
		loading:           in.State.Loading,
		location:          in.Location,
		hasSeenOnboarding: in.HasSeenOnboarding,
	}
}

// Navigator re-evaluates the guard only when the inputs it depends on change,
// and tracks the location a redirect moved to.
type Navigator struct {
	mu        sync.Mutex
	evaluated bool
	last      navKey
	location  Screen
}

// NewNavigator starts at the given location.
func NewNavigator(start Screen) *Navigator {
	return &Navigator{location: start}
}

// Location returns the current location.
func (n *Navigator) Location() Screen {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

// Observe records a state/location change and returns the resulting decision.
// changed is false when nothing relevant changed since the previous call, in which
// case no decision is made.
func (n *Navigator) Observe(in Input) (d Decision, changed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.location = in.Location
	key := keyOf(in)
	if n.evaluated && key == n.last {
		return Decision{}, false
	}

	d = Evaluate(in)
	if d.Redirect {
		n.location = d.Target
		in.Location = d.Target
		key = keyOf(in)
	}
	n.last = key
	n.evaluated = true
	return d, true
}
