package domain

import (
	"time"

	"gorm.io/gorm"

	"github.com/isaacberry91/propswipes-sub000/pkg/database"
)

// MatchModel is the GORM model for the matches table. DeletedAt is a plain
// column rather than gorm.DeletedAt because closed matches must stay
// readable.
type MatchModel struct {
	ID         string    `gorm:"type:varchar(36);primaryKey"`
	BuyerID    string    `gorm:"type:varchar(36);index;not null"`
	SellerID   string    `gorm:"type:varchar(36);index;not null"`
	PropertyID *string   `gorm:"type:varchar(36)"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	DeletedAt  *time.Time
}

func (MatchModel) TableName() string {
	return "matches"
}

func (m *MatchModel) ToDomain() *Match {
	return &Match{
		ID:         m.ID,
		BuyerID:    m.BuyerID,
		SellerID:   m.SellerID,
		PropertyID: m.PropertyID,
		CreatedAt:  m.CreatedAt,
		DeletedAt:  m.DeletedAt,
	}
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID              string  `gorm:"type:varchar(36);primaryKey"`
	MatchID         string  `gorm:"type:varchar(36);index:idx_messages_match_created,priority:1;not null"`
	SenderID        string  `gorm:"type:varchar(36);not null"`
	Content         string  `gorm:"type:text"`
	AttachmentURL   *string `gorm:"type:text"`
	AttachmentType  *string `gorm:"type:varchar(100)"`
	AttachmentName  *string `gorm:"type:varchar(255)"`
	AttachmentKey   *string `gorm:"type:varchar(512)"`
	IsVoiceNote     bool    `gorm:"not null;default:false"`
	DurationSeconds *int
	CreatedAt       time.Time `gorm:"index:idx_messages_match_created,priority:2"`
	DeletedAt       *time.Time
}

func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts a row into a Message. Rows are persisted, so the status
// is always sent.
func (m *MessageModel) ToDomain() *Message {
	msg := &Message{
		ID:        m.ID,
		MatchID:   m.MatchID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		DeletedAt: m.DeletedAt,
		Status:    StatusSent,
	}
	if m.AttachmentURL != nil || m.AttachmentKey != nil {
		att := &Attachment{IsVoiceNote: m.IsVoiceNote}
		if m.AttachmentURL != nil {
			att.URL = *m.AttachmentURL
		}
		if m.AttachmentType != nil {
			att.Type = *m.AttachmentType
		}
		if m.AttachmentName != nil {
			att.Name = *m.AttachmentName
		}
		if m.AttachmentKey != nil {
			att.Key = *m.AttachmentKey
		}
		if m.DurationSeconds != nil {
			att.DurationSeconds = *m.DurationSeconds
		}
		msg.Attachment = att
	}
	return msg
}

// NewMessageToModel converts an insert payload into a row.
func NewMessageToModel(n NewMessage) *MessageModel {
	m := &MessageModel{
		ID:        n.ID,
		MatchID:   n.MatchID,
		SenderID:  n.SenderID,
		Content:   n.Content,
		CreatedAt: n.CreatedAt,
	}
	if att := n.Attachment; att != nil {
		m.AttachmentURL = optional(att.URL)
		m.AttachmentType = optional(att.Type)
		m.AttachmentName = optional(att.Name)
		m.AttachmentKey = optional(att.Key)
		m.IsVoiceNote = att.IsVoiceNote
		if att.IsVoiceNote {
			d := att.DurationSeconds
			m.DurationSeconds = &d
		}
	}
	return m
}

// ProfileModel is the GORM model for the profiles table.
type ProfileModel struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	UserID      string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	DisplayName string    `gorm:"type:varchar(100);not null"`
	AvatarURL   string    `gorm:"type:text"`
	UserType    string    `gorm:"type:varchar(20)"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (ProfileModel) TableName() string {
	return "profiles"
}

func (m *ProfileModel) ToDomain() *Profile {
	return &Profile{
		ID:          m.ID,
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		AvatarURL:   m.AvatarURL,
		UserType:    m.UserType,
	}
}

// PropertyModel is the GORM model for the properties table. Removed
// listings are soft-deleted and no longer resolve.
type PropertyModel struct {
	ID        string               `gorm:"type:varchar(36);primaryKey"`
	SellerID  string               `gorm:"type:varchar(36);index"`
	Title     string               `gorm:"type:varchar(200);not null"`
	Address   string               `gorm:"type:varchar(255)"`
	City      string               `gorm:"type:varchar(100)"`
	State     string               `gorm:"type:varchar(50)"`
	Price     int64                `gorm:"not null;default:0"`
	Images    database.StringArray `gorm:"type:text"`
	CreatedAt time.Time            `gorm:"autoCreateTime"`
	DeletedAt gorm.DeletedAt       `gorm:"index"`
}

func (PropertyModel) TableName() string {
	return "properties"
}

func (m *PropertyModel) ToDomain() *PropertySnapshot {
	return &PropertySnapshot{
		ID:      m.ID,
		Title:   m.Title,
		Address: m.Address,
		City:    m.City,
		State:   m.State,
		Price:   m.Price,
		Images:  []string(m.Images),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
