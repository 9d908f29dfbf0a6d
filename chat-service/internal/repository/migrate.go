package repository

import (
	"gorm.io/gorm"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/pkg/database"
)

// Migrate creates or updates the chat tables.
func Migrate(db *gorm.DB) error {
	return database.AutoMigrate(db,
		&domain.ProfileModel{},
		&domain.PropertyModel{},
		&domain.MatchModel{},
		&domain.MessageModel{},
	)
}
