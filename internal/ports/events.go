package ports

import (
	"context"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
)

// UsersTopic carries user-scoped events such as USER_UPDATED.
const UsersTopic = "users"

// DeviceTopic returns the topic carrying session events for one device.
func DeviceTopic(deviceID string) string { return "device:" + deviceID }

// EventBus fans auth events out to subscribers.
type EventBus interface {
	Publish(ctx context.Context, topic string, ev domainauth.Event) error
	// Subscribe returns once the subscription is active; events published after
	// it returns are delivered in publish order.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is an active topic subscription.
type Subscription interface {
	Events() <-chan domainauth.Event
	Close() error
}
