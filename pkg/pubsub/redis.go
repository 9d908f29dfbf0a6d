package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/isaacberry91/propswipes-sub000/pkg/log"
	"github.com/redis/go-redis/v9"
)

// RedisPubSub implements PubSub using Redis channels.
type RedisPubSub struct {
	client        *redis.Client
	buffer        int
	subscriptions map[*redisSubscription]struct{}
	mu            sync.Mutex
}

type redisSubscription struct {
	owner   *RedisPubSub
	channel string
	pubsub  *redis.PubSub
	events  chan *Event
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// NewRedisPubSub creates a new Redis-based PubSub instance.
func NewRedisPubSub(cfg RedisConfig, buffer int) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPubSub{
		client:        client,
		buffer:        buffer,
		subscriptions: make(map[*redisSubscription]struct{}),
	}, nil
}

// Publish publishes an event to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe opens a dedicated Redis subscription for channel. The
// subscription is confirmed before returning so no event published after
// Subscribe returns is missed.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		owner:   r,
		channel: channel,
		pubsub:  ps,
		events:  make(chan *Event, r.buffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	r.subscriptions[sub] = struct{}{}
	r.mu.Unlock()

	go sub.process(subCtx)

	return sub, nil
}

// Close closes all subscriptions and the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	subs := make([]*redisSubscription, 0, len(r.subscriptions))
	for sub := range r.subscriptions {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	return r.client.Close()
}

// Client returns the underlying Redis client so caches can share the pool.
func (r *RedisPubSub) Client() *redis.Client {
	return r.client
}

func (s *redisSubscription) Events() <-chan *Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
		<-s.done

		s.owner.mu.Lock()
		delete(s.owner.subscriptions, s)
		s.owner.mu.Unlock()
	})
	return err
}

// process forwards decoded messages until the subscription is closed.
func (s *redisSubscription) process(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	l := log.L()
	ch := s.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l.Warn().Err(err).Str("channel", s.channel).Msg("dropping undecodable event")
				continue
			}

			select {
			case s.events <- &event:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str("channel", s.channel).Str("event_type", event.Type).Msg("subscriber buffer full, event dropped")
			}
		}
	}
}
