package ports_test

import (
	"testing"

	"github.com/kerdos/kerdos-api/internal/adapters/membus"
	"github.com/kerdos/kerdos-api/internal/mocks"
	mockauth "github.com/kerdos/kerdos-api/internal/mocks/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// This test only verifies that our mocks conform to the ports at compile time.
func TestMocksImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.IdentityProvider = (*mockauth.MockIdentityProvider)(nil)
	var _ ports.IdentityProvider = (*mocks.MockIdentityProvider)(nil)
	var _ ports.ProfileStore = (*mocks.MockProfileStore)(nil)
	var _ ports.SessionStore = (*mockauth.MemorySessionStore)(nil)
	var _ ports.FlowStore = (*mockauth.MemoryFlowStore)(nil)
	var _ ports.CallbackGuard = (*mockauth.MemoryCallbackGuard)(nil)
	var _ ports.FlagStore = (*mockauth.MemoryFlagStore)(nil)
	var _ ports.ProfileStore = (*mockauth.MemoryProfileStore)(nil)
	var _ ports.EventBus = (*membus.Bus)(nil)
}

func TestDeviceTopic(t *testing.T) {
	if got := ports.DeviceTopic("abc"); got != "device:abc" {
		t.Fatalf("unexpected topic %q", got)
	}
}
