package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

const (
	eventChannelPrefix = "kerdos:auth:"
	// Redis pub/sub drops messages for consumers that stall past the channel buffer.
	eventChannelSize = 1024
)

// EventBus publishes auth events over Redis pub/sub so every replica sees session
// changes made by any other.
type EventBus struct {
	client redis.UniversalClient
	logger *slog.Logger
}

var _ ports.EventBus = (*EventBus)(nil)

// NewEventBus creates an EventBus. A nil logger falls back to slog.Default.
func NewEventBus(client redis.UniversalClient, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{client: client, logger: logger.With("component", "redis_event_bus")}
}

func (b *EventBus) Publish(ctx context.Context, topic string, ev domainauth.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if pubErr := b.client.Publish(ctx, eventChannelPrefix+topic, data).Err(); pubErr != nil {
		return fmt.Errorf("redis publish: %w", pubErr)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription before returning.
func (b *EventBus) Subscribe(ctx context.Context, topic string) (ports.Subscription, error) {
	ps := b.client.Subscribe(ctx, eventChannelPrefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	s := &subscription{
		ps:     ps,
		out:    make(chan domainauth.Event, 64),
		done:   make(chan struct{}),
		logger: b.logger.With("topic", topic),
	}
	go s.pump(ps.Channel(redis.WithChannelSize(eventChannelSize)))
	return s, nil
}

type subscription struct {
	ps     *redis.PubSub
	out    chan domainauth.Event
	done   chan struct{}
	logger *slog.Logger
	once   sync.Once
	err    error
}

func (s *subscription) pump(in <-chan *redis.Message) {
	defer close(s.out)
	for msg := range in {
		var ev domainauth.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.logger.Warn("dropping undecodable event", "error", err)
			continue
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Events() <-chan domainauth.Event { return s.out }

// Close ends the subscription; Events is closed once pending messages drain.
func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}
