package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/cache"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/repository"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// Loader resolves who is talking to whom about which listing when a
// conversation opens.
type Loader struct {
	matches    repository.MatchRepository
	profiles   repository.ProfileRepository
	properties repository.PropertyRepository
	cache      cache.ContextCache
	cacheTTL   time.Duration
	sf         singleflight.Group
}

// NewLoader creates a Loader. A nil contextCache disables caching.
func NewLoader(
	matches repository.MatchRepository,
	profiles repository.ProfileRepository,
	properties repository.PropertyRepository,
	contextCache cache.ContextCache,
	cacheTTL time.Duration,
) *Loader {
	if contextCache == nil {
		contextCache = cache.NewNoOpContextCache()
	}
	return &Loader{
		matches:    matches,
		profiles:   profiles,
		properties: properties,
		cache:      contextCache,
		cacheTTL:   cacheTTL,
	}
}

// ViewerProfile resolves the profile owned by an authenticated user.
func (l *Loader) ViewerProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	return l.profiles.FetchProfileByUserID(ctx, userID)
}

// Load returns the conversation context for viewerUserID in matchID. It
// fails with ErrProfileNotFound or ErrMatchNotFound when the viewer has no
// profile or is not a participant. A soft-deleted match is returned with
// Closed() reporting true.
func (l *Loader) Load(ctx context.Context, viewerUserID, matchID string) (*domain.ConversationContext, error) {
	key := l.cache.BuildKey(matchID, viewerUserID)

	result, err, _ := l.sf.Do(key, func() (interface{}, error) {
		return l.fetchWithCache(ctx, viewerUserID, matchID, key)
	})
	if err != nil {
		return nil, err
	}

	cc, ok := result.(*domain.ConversationContext)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	out := *cc
	return &out, nil
}

// Invalidate drops cached contexts of a match for the given users.
func (l *Loader) Invalidate(ctx context.Context, matchID string, userIDs ...string) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			keys = append(keys, l.cache.BuildKey(matchID, id))
		}
	}
	if err := l.cache.Delete(ctx, keys...); err != nil {
		lg := log.Ctx(ctx)
		lg.Warn().Err(err).Str(log.FieldMatchID, matchID).Msg("cache delete error")
	}
}

func (l *Loader) fetchWithCache(ctx context.Context, viewerUserID, matchID, key string) (*domain.ConversationContext, error) {
	cached, err := l.cache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		lg := log.Ctx(ctx)
		lg.Warn().Err(err).Msg("cache get error")
	}

	cc, err := l.resolve(ctx, viewerUserID, matchID)
	if err != nil {
		return nil, err
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.cache.Set(cacheCtx, key, cc, l.cacheTTL); err != nil {
			lg := log.L()
			lg.Warn().Err(err).Msg("cache set error")
		}
	}()

	return cc, nil
}

func (l *Loader) resolve(ctx context.Context, viewerUserID, matchID string) (*domain.ConversationContext, error) {
	viewer, err := l.profiles.FetchProfileByUserID(ctx, viewerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve viewer profile: %w", err)
	}

	match, err := l.matches.FetchMatch(ctx, matchID, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve match: %w", err)
	}
	counterpartID, ok := match.Counterpart(viewer.ID)
	if !ok {
		return nil, domain.ErrMatchNotFound
	}

	cc := &domain.ConversationContext{Match: *match, Viewer: *viewer}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := l.profiles.FetchProfile(gctx, counterpartID)
		if err != nil {
			return fmt.Errorf("failed to resolve counterpart profile: %w", err)
		}
		cc.Counterpart = *p
		return nil
	})
	if match.PropertyID != nil {
		propertyID := *match.PropertyID
		g.Go(func() error {
			p, err := l.properties.FetchProperty(gctx, propertyID)
			if err != nil {
				return fmt.Errorf("failed to resolve property: %w", err)
			}
			cc.Property = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return cc, nil
}
