package playback

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSpeeds is the 1x, 1.5x, 2x cycle.
var DefaultSpeeds = []float64{1, 1.5, 2}

// SpeedStore remembers the last chosen speed per message.
type SpeedStore interface {
	// Get returns ok=false when no speed was chosen for the message.
	Get(ctx context.Context, messageID string) (speed float64, ok bool, err error)
	Set(ctx context.Context, messageID string, speed float64) error
}

// MemorySpeedStore keeps speeds for the lifetime of one conversation view.
type MemorySpeedStore struct {
	mu     sync.RWMutex
	speeds map[string]float64
}

// NewMemorySpeedStore creates an empty store.
func NewMemorySpeedStore() *MemorySpeedStore {
	return &MemorySpeedStore{speeds: make(map[string]float64)}
}

func (s *MemorySpeedStore) Get(_ context.Context, messageID string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.speeds[messageID]
	return v, ok, nil
}

func (s *MemorySpeedStore) Set(_ context.Context, messageID string, speed float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speeds[messageID] = speed
	return nil
}

// RedisSpeedStore persists speeds across reconnects, scoped per viewer.
type RedisSpeedStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSpeedStore creates a store over an existing client.
func NewRedisSpeedStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisSpeedStore {
	if keyPrefix == "" {
		keyPrefix = "playback:speed:"
	}
	return &RedisSpeedStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// ForViewer returns a SpeedStore whose keys are scoped to one viewer.
func (s *RedisSpeedStore) ForViewer(viewerID string) SpeedStore {
	return &viewerSpeeds{store: s, viewerID: viewerID}
}

func (s *RedisSpeedStore) key(viewerID, messageID string) string {
	return s.keyPrefix + viewerID + ":" + messageID
}

type viewerSpeeds struct {
	store    *RedisSpeedStore
	viewerID string
}

func (v *viewerSpeeds) Get(ctx context.Context, messageID string) (float64, bool, error) {
	raw, err := v.store.client.Get(ctx, v.store.key(v.viewerID, messageID)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get playback speed from redis: %w", err)
	}
	speed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid stored playback speed %q: %w", raw, err)
	}
	return speed, true, nil
}

func (v *viewerSpeeds) Set(ctx context.Context, messageID string, speed float64) error {
	value := strconv.FormatFloat(speed, 'f', -1, 64)
	if err := v.store.client.Set(ctx, v.store.key(v.viewerID, messageID), value, v.store.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store playback speed in redis: %w", err)
	}
	return nil
}

var (
	_ SpeedStore = (*MemorySpeedStore)(nil)
	_ SpeedStore = (*viewerSpeeds)(nil)
)
