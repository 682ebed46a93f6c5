// Package membus is an in-process ports.EventBus for tests. The service itself
// always runs on the redis bus.
package membus

import (
	"context"
	"errors"
	"sync"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

var errClosed = errors.New("event bus closed")

// Bus delivers every published event to every subscription of its topic, in
// publish order, without dropping. Slow subscribers queue in memory.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

var _ ports.EventBus = (*Bus)(nil)

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[*subscription]struct{})}
}

// Publish enqueues ev for all current subscribers of topic.
func (b *Bus) Publish(_ context.Context, topic string, ev domainauth.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	for s := range b.subs[topic] {
		s.push(ev)
	}
	return nil
}

// Subscribe registers a subscription; it is active when Subscribe returns.
func (b *Bus) Subscribe(_ context.Context, topic string) (ports.Subscription, error) {
	s := &subscription{
		bus:    b,
		topic:  topic,
		notify: make(chan struct{}, 1),
		out:    make(chan domainauth.Event),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errClosed
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscription]struct{})
	}
	b.subs[topic][s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s, nil
}

// Subscribers returns the number of active subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close stops all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*subscription
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.subs = map[string]map[*subscription]struct{}{}
	b.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	return nil
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.topic)
		}
	}
}

type subscription struct {
	bus   *Bus
	topic string

	mu     sync.Mutex
	queue  []domainauth.Event
	notify chan struct{}
	out    chan domainauth.Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan domainauth.Event { return s.out }

func (s *subscription) Close() error {
	s.bus.remove(s)
	s.stop()
	return nil
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) push(ev domainauth.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump forwards queued events to out until the subscription is closed.
func (s *subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = domainauth.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
