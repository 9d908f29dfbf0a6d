package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// Config controls presence keys.
type Config struct {
	Prefix            string        `mapstructure:"prefix"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

// RedisRegistry keeps presence keys alive with a heartbeat so entries of a
// crashed instance expire on their own.
type RedisRegistry struct {
	client            *redis.Client
	instanceID        string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managedKeys       map[string]int // key -> open conversations on this instance
	mu                sync.RWMutex
	cancel            context.CancelFunc
}

// NewRedisRegistry wraps a shared client. Close does not close it.
func NewRedisRegistry(client *redis.Client, cfg Config, instanceID string) *RedisRegistry {
	if cfg.Prefix == "" {
		cfg.Prefix = "chat:presence"
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	return &RedisRegistry{
		client:            client,
		instanceID:        instanceID,
		prefix:            cfg.Prefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managedKeys:       make(map[string]int),
	}
}

func (r *RedisRegistry) keyFor(matchID, profileID string) string {
	return fmt.Sprintf("%s:match:%s:profile:%s", r.prefix, matchID, profileID)
}

func (r *RedisRegistry) Register(ctx context.Context, matchID, profileID string) error {
	key := r.keyFor(matchID, profileID)

	if err := r.client.Set(ctx, key, r.instanceID, r.keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to register presence: %w", err)
	}

	r.mu.Lock()
	r.managedKeys[key]++
	r.mu.Unlock()

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldMatchID, matchID).Str(log.FieldProfileID, profileID).Msg("registered presence")
	return nil
}

// Deregister drops the key once the last conversation of this profile on
// this instance closes.
func (r *RedisRegistry) Deregister(ctx context.Context, matchID, profileID string) error {
	key := r.keyFor(matchID, profileID)

	r.mu.Lock()
	r.managedKeys[key]--
	remaining := r.managedKeys[key]
	if remaining <= 0 {
		delete(r.managedKeys, key)
	}
	r.mu.Unlock()

	if remaining > 0 {
		return nil
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to deregister presence: %w", err)
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldMatchID, matchID).Str(log.FieldProfileID, profileID).Msg("deregistered presence")
	return nil
}

func (r *RedisRegistry) IsPresent(ctx context.Context, matchID, profileID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.keyFor(matchID, profileID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to lookup presence: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) StartHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("presence heartbeat started")
	return nil
}

func (r *RedisRegistry) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshKeys(ctx)
		}
	}
}

func (r *RedisRegistry) refreshKeys(ctx context.Context) {
	r.mu.RLock()
	keys := make([]string, 0, len(r.managedKeys))
	for k := range r.managedKeys {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	for _, key := range keys {
		if err := r.client.Set(ctx, key, r.instanceID, r.keyTTL).Err(); err != nil {
			l := log.L()
			l.Error().Str("key", key).Err(err).Msg("failed to refresh presence key")
		}
	}
}

func (r *RedisRegistry) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Close removes every key this instance still holds.
func (r *RedisRegistry) Close() error {
	r.StopHeartbeat()

	r.mu.Lock()
	keys := make([]string, 0, len(r.managedKeys))
	for k := range r.managedKeys {
		keys = append(keys, k)
	}
	r.managedKeys = make(map[string]int)
	r.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Del(ctx, keys...).Err()
}

var _ Registry = (*RedisRegistry)(nil)
