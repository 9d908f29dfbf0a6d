package pubsub

import (
	"fmt"
	"strings"
	"time"
)

// ChannelMatchMessages carries row-level changes for one conversation.
const ChannelMatchMessages = "chat:match:%s:messages"

// Event types published on a match channel.
const (
	EventMessageInserted = "message_inserted"
	EventMessageDeleted  = "message_deleted"
	EventMatchDeleted    = "match_deleted"
)

// MatchChannel returns the channel name for a conversation's message feed.
func MatchChannel(matchID string) string {
	return fmt.Sprintf(ChannelMatchMessages, matchID)
}

// MatchIDFromChannel extracts the match id from a MatchChannel name.
func MatchIDFromChannel(channel string) (string, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "chat" || parts[1] != "match" || parts[3] != "messages" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// MessagePayload is the persisted row as seen by other participants.
type MessagePayload struct {
	ID             string     `json:"id"`
	MatchID        string     `json:"match_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
	AttachmentType string     `json:"attachment_type,omitempty"`
	AttachmentName string     `json:"attachment_name,omitempty"`
	AttachmentKey  string     `json:"attachment_key,omitempty"`
	IsVoiceNote    bool       `json:"is_voice_note,omitempty"`
	Duration       int        `json:"duration_seconds,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// MessageDeletedPayload announces a soft delete.
type MessageDeletedPayload struct {
	ID        string    `json:"id"`
	MatchID   string    `json:"match_id"`
	SenderID  string    `json:"sender_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// MatchDeletedPayload announces that a participant closed the conversation.
type MatchDeletedPayload struct {
	MatchID   string    `json:"match_id"`
	ProfileID string    `json:"profile_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
