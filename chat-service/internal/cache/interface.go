package cache

import (
	"context"
	"errors"
	"time"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// ContextCache stores resolved conversation contexts per (match, viewer).
type ContextCache interface {
	Get(ctx context.Context, key string) (*domain.ConversationContext, error)
	Set(ctx context.Context, key string, cc *domain.ConversationContext, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	BuildKey(matchID, viewerUserID string) string
	Close() error
}

// NoOpContextCache always misses. Used when no Redis is configured.
type NoOpContextCache struct{}

func NewNoOpContextCache() *NoOpContextCache {
	return &NoOpContextCache{}
}

func (NoOpContextCache) Get(context.Context, string) (*domain.ConversationContext, error) {
	return nil, ErrCacheMiss
}

func (NoOpContextCache) Set(context.Context, string, *domain.ConversationContext, time.Duration) error {
	return nil
}

func (NoOpContextCache) Delete(context.Context, ...string) error {
	return nil
}

func (NoOpContextCache) BuildKey(matchID, viewerUserID string) string {
	return matchID + ":" + viewerUserID
}

func (NoOpContextCache) Close() error {
	return nil
}
