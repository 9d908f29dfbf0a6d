package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// FetchMessages retrieves the visible history of a match.
func (r *GormMessageRepository) FetchMessages(ctx context.Context, matchID string) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	var models []domain.MessageModel
	result := r.db.WithContext(ctx).
		Where("match_id = ? AND deleted_at IS NULL", matchID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldMatchID, matchID).Msg("failed to fetch messages from db")
		return nil, result.Error
	}

	messages := make([]domain.Message, len(models))
	for i := range models {
		messages[i] = *models[i].ToDomain()
	}
	return messages, nil
}

// InsertMessage creates a message row.
func (r *GormMessageRepository) InsertMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	l := log.Ctx(ctx)

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	model := domain.NewMessageToModel(msg)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(model)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldMessageID, msg.ID).Msg("failed to insert message in db")
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		var existing domain.MessageModel
		if err := r.db.WithContext(ctx).First(&existing, "id = ?", msg.ID).Error; err != nil {
			return nil, err
		}
		if existing.SenderID != msg.SenderID || existing.MatchID != msg.MatchID {
			return nil, fmt.Errorf("message id %s already used", msg.ID)
		}
		l.Debug().Str(log.FieldMessageID, msg.ID).Msg("message already persisted")
		return existing.ToDomain(), nil
	}

	l.Debug().Str(log.FieldMessageID, msg.ID).Str(log.FieldMatchID, msg.MatchID).Msg("message inserted in db")
	return model.ToDomain(), nil
}

// SoftDeleteMessage sets deleted_at on a message owned by senderID.
func (r *GormMessageRepository) SoftDeleteMessage(ctx context.Context, id, senderID string) error {
	l := log.Ctx(ctx)

	var model domain.MessageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrMessageNotFound
		}
		l.Error().Err(err).Str(log.FieldMessageID, id).Msg("failed to load message for delete")
		return err
	}
	if model.SenderID != senderID {
		return domain.ErrNotOwner
	}
	if model.DeletedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", now)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldMessageID, id).Msg("failed to soft-delete message in db")
		return result.Error
	}
	l.Debug().Str(log.FieldMessageID, id).Msg("message soft-deleted in db")
	return nil
}

// Close is a no-op; the *gorm.DB is owned by the caller.
func (r *GormMessageRepository) Close() error {
	return nil
}

var _ MessageRepository = (*GormMessageRepository)(nil)
