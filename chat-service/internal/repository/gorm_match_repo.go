package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// GormMatchRepository implements MatchRepository, ProfileRepository and
// PropertyRepository over the same database.
type GormMatchRepository struct {
	db *gorm.DB
}

// NewGormMatchRepository creates a new GORM-based match repository.
func NewGormMatchRepository(db *gorm.DB) *GormMatchRepository {
	return &GormMatchRepository{db: db}
}

// FetchMatch retrieves a match the viewer takes part in.
func (r *GormMatchRepository) FetchMatch(ctx context.Context, matchID, viewerProfileID string) (*domain.Match, error) {
	l := log.Ctx(ctx)

	var model domain.MatchModel
	result := r.db.WithContext(ctx).
		Where("id = ? AND (buyer_id = ? OR seller_id = ?)", matchID, viewerProfileID, viewerProfileID).
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMatchNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldMatchID, matchID).Msg("failed to get match by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// SoftDeleteMatch closes the conversation for both participants. Closing an
// already closed match returns it unchanged.
func (r *GormMatchRepository) SoftDeleteMatch(ctx context.Context, matchID, viewerProfileID string) (*domain.Match, error) {
	l := log.Ctx(ctx)

	match, err := r.FetchMatch(ctx, matchID, viewerProfileID)
	if err != nil {
		return nil, err
	}
	if match.Closed() {
		return match, nil
	}

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&domain.MatchModel{}).
		Where("id = ? AND deleted_at IS NULL", matchID).
		Update("deleted_at", now)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldMatchID, matchID).Msg("failed to soft-delete match in db")
		return nil, result.Error
	}
	match.DeletedAt = &now
	l.Debug().Str(log.FieldMatchID, matchID).Msg("match soft-deleted in db")
	return match, nil
}

// FetchProfileByUserID resolves the profile owned by an auth user.
func (r *GormMatchRepository) FetchProfileByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	return r.fetchProfile(ctx, "user_id = ?", userID)
}

// FetchProfile resolves a profile by its id.
func (r *GormMatchRepository) FetchProfile(ctx context.Context, profileID string) (*domain.Profile, error) {
	return r.fetchProfile(ctx, "id = ?", profileID)
}

func (r *GormMatchRepository) fetchProfile(ctx context.Context, cond string, arg string) (*domain.Profile, error) {
	l := log.Ctx(ctx)

	var model domain.ProfileModel
	if err := r.db.WithContext(ctx).Where(cond, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProfileNotFound
		}
		l.Error().Err(err).Str("lookup", arg).Msg("failed to get profile")
		return nil, err
	}
	return model.ToDomain(), nil
}

// FetchProperty returns the listing snapshot, or nil if it was removed.
func (r *GormMatchRepository) FetchProperty(ctx context.Context, propertyID string) (*domain.PropertySnapshot, error) {
	l := log.Ctx(ctx)

	var model domain.PropertyModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", propertyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		l.Error().Err(err).Str("property_id", propertyID).Msg("failed to get property")
		return nil, err
	}
	return model.ToDomain(), nil
}

var (
	_ MatchRepository    = (*GormMatchRepository)(nil)
	_ ProfileRepository  = (*GormMatchRepository)(nil)
	_ PropertyRepository = (*GormMatchRepository)(nil)
)
