package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// ErrClosed is returned after the PubSub has been closed.
var ErrClosed = errors.New("pubsub closed")

// MemoryPubSub fans events out inside one process. It suits single-node
// deployments and tests.
type MemoryPubSub struct {
	buffer int

	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryPubSub creates an in-process PubSub.
func NewMemoryPubSub(buffer int) *MemoryPubSub {
	if buffer <= 0 {
		buffer = 100
	}
	return &MemoryPubSub{
		buffer: buffer,
		subs:   make(map[string]map[*memorySubscription]struct{}),
	}
}

// Publish delivers event to every current subscriber of channel. A
// subscriber whose buffer is full misses the event.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for sub := range m.subs[channel] {
		sub.deliver(ctx, channel, event)
	}
	return nil
}

// Subscribe registers a new independent subscription.
func (m *MemoryPubSub) Subscribe(_ context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		parent:  m,
		channel: channel,
		events:  make(chan *Event, m.buffer),
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySubscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	return sub, nil
}

// Subscribers returns the number of open subscriptions on channel.
func (m *MemoryPubSub) Subscribers(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[channel])
}

// Close closes every subscription.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*memorySubscription
	for _, set := range m.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	m.subs = make(map[string]map[*memorySubscription]struct{})
	m.mu.Unlock()

	for _, sub := range all {
		sub.closeEvents()
	}
	return nil
}

func (m *MemoryPubSub) remove(sub *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.subs[sub.channel]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(m.subs, sub.channel)
		}
	}
}

type memorySubscription struct {
	parent  *MemoryPubSub
	channel string
	events  chan *Event

	mu     sync.Mutex
	closed bool
}

func (s *memorySubscription) Events() <-chan *Event {
	return s.events
}

func (s *memorySubscription) deliver(ctx context.Context, channel string, event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		l := log.Ctx(ctx)
		l.Warn().Str("channel", channel).Str("event_type", event.Type).Msg("subscriber buffer full, dropping event")
	}
}

func (s *memorySubscription) Close() error {
	s.parent.remove(s)
	s.closeEvents()
	return nil
}

func (s *memorySubscription) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

var _ PubSub = (*MemoryPubSub)(nil)
