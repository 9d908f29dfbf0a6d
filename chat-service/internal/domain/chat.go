package domain

import (
	"strings"
	"time"
)

// Sender tells the client which side of the conversation rendered a message.
type Sender string

const (
	SenderSelf  Sender = "self"
	SenderOther Sender = "other"
)

// SendStatus tracks an outgoing message from optimistic append to persistence.
type SendStatus string

const (
	StatusPending SendStatus = "pending"
	StatusSent    SendStatus = "sent"
	StatusFailed  SendStatus = "failed"
)

// Attachment is a stored file referenced by a message.
type Attachment struct {
	URL             string `json:"url"`
	Type            string `json:"type"`
	Name            string `json:"name"`
	Key             string `json:"key,omitempty"`
	IsVoiceNote     bool   `json:"is_voice_note"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// Message is one chat turn in a match.
type Message struct {
	ID         string      `json:"id"`
	MatchID    string      `json:"match_id"`
	SenderID   string      `json:"sender_id"`
	Sender     Sender      `json:"sender"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment"`
	CreatedAt  time.Time   `json:"created_at"`
	DeletedAt  *time.Time  `json:"deleted_at,omitempty"`
	Status     SendStatus  `json:"status"`
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	if m.Attachment != nil {
		att := *m.Attachment
		m.Attachment = &att
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		m.DeletedAt = &t
	}
	return m
}

// Empty reports whether the message has neither text nor an attachment.
func (m Message) Empty() bool {
	return strings.TrimSpace(m.Content) == "" && m.Attachment == nil
}

// NewMessage is the insert payload. ID is generated by the sender so the
// optimistic copy and the persisted row share identity.
type NewMessage struct {
	ID         string
	MatchID    string
	SenderID   string
	Content    string
	Attachment *Attachment
	CreatedAt  time.Time
}

// ToNew converts an optimistic message into its insert payload.
func (m Message) ToNew() NewMessage {
	var att *Attachment
	if m.Attachment != nil {
		a := *m.Attachment
		att = &a
	}
	return NewMessage{
		ID:         m.ID,
		MatchID:    m.MatchID,
		SenderID:   m.SenderID,
		Content:    m.Content,
		Attachment: att,
		CreatedAt:  m.CreatedAt,
	}
}

// Default captions used when an attachment is sent without text.
const (
	CaptionVoiceNote = "Sent a voice note"
	CaptionPhoto     = "Sent a photo"
	CaptionFile      = "Sent a file"
)

// DefaultCaption returns the text synthesised for an attachment-only message.
func DefaultCaption(att *Attachment) string {
	switch {
	case att == nil:
		return ""
	case att.IsVoiceNote:
		return CaptionVoiceNote
	case strings.HasPrefix(att.Type, "image/"):
		return CaptionPhoto
	default:
		return CaptionFile
	}
}

// Match is a buyer/seller pairing around one property.
type Match struct {
	ID         string     `json:"id"`
	BuyerID    string     `json:"buyer_id"`
	SellerID   string     `json:"seller_id"`
	PropertyID *string    `json:"property_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// IsParticipant reports whether profileID is the buyer or the seller.
func (m Match) IsParticipant(profileID string) bool {
	return profileID != "" && (m.BuyerID == profileID || m.SellerID == profileID)
}

// Counterpart returns the other participant's profile id.
func (m Match) Counterpart(profileID string) (string, bool) {
	switch profileID {
	case m.BuyerID:
		return m.SellerID, true
	case m.SellerID:
		return m.BuyerID, true
	default:
		return "", false
	}
}

// Closed reports whether the match was soft-deleted.
func (m Match) Closed() bool {
	return m.DeletedAt != nil
}

// Profile is the public part of a user's profile.
type Profile struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	UserType    string `json:"user_type,omitempty"`
}

// PropertySnapshot is the listing shown in the conversation header.
type PropertySnapshot struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Address string   `json:"address"`
	City    string   `json:"city"`
	State   string   `json:"state,omitempty"`
	Price   int64    `json:"price"`
	Images  []string `json:"images,omitempty"`
}

// ConversationContext is everything resolved once when a conversation opens.
type ConversationContext struct {
	Match       Match             `json:"match"`
	Viewer      Profile           `json:"viewer"`
	Counterpart Profile           `json:"counterpart"`
	Property    *PropertySnapshot `json:"property,omitempty"`
}

// Closed reports whether no further messages may be sent.
func (c ConversationContext) Closed() bool {
	return c.Match.Closed()
}
