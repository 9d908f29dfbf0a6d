package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
)

// RedisConfig addresses the Redis used for caching and playback speeds.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NewRedisClient connects and pings.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

type RedisContextCache struct {
	client *redis.Client
	prefix string
}

// NewRedisContextCache wraps a shared client. Close does not close it.
func NewRedisContextCache(client *redis.Client, prefix string) *RedisContextCache {
	if prefix == "" {
		prefix = "chat:context"
	}
	return &RedisContextCache{client: client, prefix: prefix}
}

func (c *RedisContextCache) BuildKey(matchID, viewerUserID string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, matchID, viewerUserID)
}

func (c *RedisContextCache) Get(ctx context.Context, key string) (*domain.ConversationContext, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var cc domain.ConversationContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &cc, nil
}

func (c *RedisContextCache) Set(ctx context.Context, key string, cc *domain.ConversationContext, ttl time.Duration) error {
	data, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisContextCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

func (c *RedisContextCache) Close() error {
	return nil
}

var (
	_ ContextCache = (*RedisContextCache)(nil)
	_ ContextCache = NoOpContextCache{}
)
