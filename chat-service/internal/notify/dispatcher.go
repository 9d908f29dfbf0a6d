package notify

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// Notification tells the other participant a message arrived.
type Notification struct {
	RecipientProfileID string    `json:"recipient_profile_id"`
	SenderProfileID    string    `json:"sender_profile_id"`
	SenderName         string    `json:"sender_name,omitempty"`
	MatchID            string    `json:"match_id"`
	MessageID          string    `json:"message_id"`
	Preview            string    `json:"preview"`
	CreatedAt          time.Time `json:"created_at"`
}

// Dispatcher hands notifications to the push delivery pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
	Close() error
}

const previewRunes = 80

// NewNotification builds the notification for msg sent in cc.
func NewNotification(cc domain.ConversationContext, msg domain.Message) Notification {
	preview := msg.Content
	if preview == "" {
		preview = domain.DefaultCaption(msg.Attachment)
	}
	if utf8.RuneCountInString(preview) > previewRunes {
		preview = string([]rune(preview)[:previewRunes-1]) + "…"
	}
	return Notification{
		RecipientProfileID: cc.Counterpart.ID,
		SenderProfileID:    cc.Viewer.ID,
		SenderName:         cc.Viewer.DisplayName,
		MatchID:            msg.MatchID,
		MessageID:          msg.ID,
		Preview:            preview,
		CreatedAt:          msg.CreatedAt,
	}
}

// Async dispatches in the background with its own timeout so a slow broker
// never delays the send that triggered it. Failures are logged.
func Async(ctx context.Context, d Dispatcher, n Notification, timeout time.Duration) {
	if d == nil {
		return
	}
	l := log.Ctx(ctx)
	go func() {
		dctx, cancel := context.WithTimeout(log.WithLogger(context.Background(), l), timeout)
		defer cancel()
		if err := d.Dispatch(dctx, n); err != nil {
			l.Warn().Err(err).
				Str(log.FieldMatchID, n.MatchID).
				Str(log.FieldMessageID, n.MessageID).
				Msg("push notification dispatch failed")
		}
	}()
}

// NoOpDispatcher drops notifications.
type NoOpDispatcher struct{}

func (NoOpDispatcher) Dispatch(context.Context, Notification) error { return nil }
func (NoOpDispatcher) Close() error                                 { return nil }
