package repository

import (
	"context"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
)

// MessageRepository persists chat messages.
type MessageRepository interface {
	// FetchMessages returns the match's non-deleted messages, oldest first.
	FetchMessages(ctx context.Context, matchID string) ([]domain.Message, error)

	// InsertMessage stores msg. Inserting an id that already exists for the
	// same sender and match returns the stored row, so a resend after a lost
	// acknowledgement does not duplicate the message.
	InsertMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error)

	// SoftDeleteMessage marks the message deleted. Only its sender may
	// delete it; deleting twice is not an error.
	SoftDeleteMessage(ctx context.Context, id, senderID string) error

	Close() error
}

// MatchRepository reads and closes matches.
type MatchRepository interface {
	// FetchMatch returns ErrMatchNotFound unless viewerProfileID is the buyer
	// or the seller. Soft-deleted matches are returned with DeletedAt set.
	FetchMatch(ctx context.Context, matchID, viewerProfileID string) (*domain.Match, error)
	SoftDeleteMatch(ctx context.Context, matchID, viewerProfileID string) (*domain.Match, error)
}

// ProfileRepository reads public profiles.
type ProfileRepository interface {
	FetchProfileByUserID(ctx context.Context, userID string) (*domain.Profile, error)
	FetchProfile(ctx context.Context, profileID string) (*domain.Profile, error)
}

// PropertyRepository reads listing snapshots.
type PropertyRepository interface {
	// FetchProperty returns nil without error when the listing was removed.
	FetchProperty(ctx context.Context, propertyID string) (*domain.PropertySnapshot, error)
}
