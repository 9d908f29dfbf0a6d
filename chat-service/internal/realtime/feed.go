package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
	"github.com/isaacberry91/propswipes-sub000/pkg/pubsub"
)

// UpdateKind identifies a change pushed on a match channel.
type UpdateKind int

const (
	MessageInserted UpdateKind = iota
	MessageDeleted
	MatchDeleted
)

// Update is one decoded change for a conversation.
type Update struct {
	Kind      UpdateKind
	MatchID   string
	Message   *domain.Message // MessageInserted
	MessageID string          // MessageDeleted
	ProfileID string          // profile that deleted the message or match
	At        time.Time
}

// Subscription delivers updates for one match until closed.
type Subscription interface {
	Updates() <-chan Update
	Close() error
}

// Feed is the live event channel keyed by match id.
type Feed interface {
	Subscribe(ctx context.Context, matchID string) (Subscription, error)
	PublishInserted(ctx context.Context, msg domain.Message) error
	PublishDeleted(ctx context.Context, matchID, messageID, senderID string, at time.Time) error
	PublishMatchDeleted(ctx context.Context, matchID, profileID string, at time.Time) error
}

// PubSubFeed implements Feed on the shared event bus.
type PubSubFeed struct {
	ps pubsub.PubSub
}

// NewPubSubFeed creates a feed over ps.
func NewPubSubFeed(ps pubsub.PubSub) *PubSubFeed {
	return &PubSubFeed{ps: ps}
}

// Subscribe opens an independent subscription for matchID.
func (f *PubSubFeed) Subscribe(ctx context.Context, matchID string) (Subscription, error) {
	sub, err := f.ps.Subscribe(ctx, pubsub.MatchChannel(matchID))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to match %s: %w", matchID, err)
	}

	s := &feedSubscription{
		sub:     sub,
		matchID: matchID,
		updates: make(chan Update, cap(sub.Events())+1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run(log.Ctx(ctx))
	return s, nil
}

// PublishInserted announces a persisted message.
func (f *PubSubFeed) PublishInserted(ctx context.Context, msg domain.Message) error {
	return f.publish(ctx, msg.MatchID, pubsub.EventMessageInserted, ToPayload(msg))
}

// PublishDeleted announces a soft-deleted message.
func (f *PubSubFeed) PublishDeleted(ctx context.Context, matchID, messageID, senderID string, at time.Time) error {
	return f.publish(ctx, matchID, pubsub.EventMessageDeleted, pubsub.MessageDeletedPayload{
		ID:        messageID,
		MatchID:   matchID,
		SenderID:  senderID,
		DeletedAt: at,
	})
}

// PublishMatchDeleted announces that a participant closed the conversation.
func (f *PubSubFeed) PublishMatchDeleted(ctx context.Context, matchID, profileID string, at time.Time) error {
	return f.publish(ctx, matchID, pubsub.EventMatchDeleted, pubsub.MatchDeletedPayload{
		MatchID:   matchID,
		ProfileID: profileID,
		DeletedAt: at,
	})
}

func (f *PubSubFeed) publish(ctx context.Context, matchID, eventType string, payload any) error {
	event, err := pubsub.NewEvent(eventType, matchID, payload)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", eventType, err)
	}
	if err := f.ps.Publish(ctx, pubsub.MatchChannel(matchID), event); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

type feedSubscription struct {
	sub     pubsub.Subscription
	matchID string
	updates chan Update

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (s *feedSubscription) Updates() <-chan Update {
	return s.updates
}

func (s *feedSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.sub.Close()
		<-s.done
	})
	return err
}

func (s *feedSubscription) run(l zerolog.Logger) {
	defer close(s.done)
	defer close(s.updates)

	for event := range s.sub.Events() {
		update, ok := decode(event)
		if !ok {
			l.Warn().Str("event_type", event.Type).Str(log.FieldMatchID, s.matchID).Msg("dropping undecodable event")
			continue
		}
		if update.MatchID != s.matchID {
			continue
		}
		select {
		case s.updates <- update:
		case <-s.stop:
			return
		}
	}
}

func decode(event *pubsub.Event) (Update, bool) {
	switch event.Type {
	case pubsub.EventMessageInserted:
		var p pubsub.MessagePayload
		if err := event.UnmarshalPayload(&p); err != nil || p.ID == "" {
			return Update{}, false
		}
		msg := FromPayload(p)
		return Update{Kind: MessageInserted, MatchID: p.MatchID, Message: &msg, At: p.CreatedAt}, true
	case pubsub.EventMessageDeleted:
		var p pubsub.MessageDeletedPayload
		if err := event.UnmarshalPayload(&p); err != nil || p.ID == "" {
			return Update{}, false
		}
		return Update{Kind: MessageDeleted, MatchID: p.MatchID, MessageID: p.ID, ProfileID: p.SenderID, At: p.DeletedAt}, true
	case pubsub.EventMatchDeleted:
		var p pubsub.MatchDeletedPayload
		if err := event.UnmarshalPayload(&p); err != nil {
			return Update{}, false
		}
		return Update{Kind: MatchDeleted, MatchID: p.MatchID, ProfileID: p.ProfileID, At: p.DeletedAt}, true
	default:
		return Update{}, false
	}
}

// ToPayload converts a persisted message into its wire shape.
func ToPayload(msg domain.Message) pubsub.MessagePayload {
	p := pubsub.MessagePayload{
		ID:        msg.ID,
		MatchID:   msg.MatchID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		DeletedAt: msg.DeletedAt,
	}
	if att := msg.Attachment; att != nil {
		p.AttachmentURL = att.URL
		p.AttachmentType = att.Type
		p.AttachmentName = att.Name
		p.AttachmentKey = att.Key
		p.IsVoiceNote = att.IsVoiceNote
		p.Duration = att.DurationSeconds
	}
	return p
}

// FromPayload converts a pushed record back into a message. Pushed records
// are persisted, so their status is sent.
func FromPayload(p pubsub.MessagePayload) domain.Message {
	msg := domain.Message{
		ID:        p.ID,
		MatchID:   p.MatchID,
		SenderID:  p.SenderID,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
		DeletedAt: p.DeletedAt,
		Status:    domain.StatusSent,
	}
	if p.AttachmentURL != "" || p.AttachmentKey != "" {
		msg.Attachment = &domain.Attachment{
			URL:             p.AttachmentURL,
			Type:            p.AttachmentType,
			Name:            p.AttachmentName,
			Key:             p.AttachmentKey,
			IsVoiceNote:     p.IsVoiceNote,
			DurationSeconds: p.Duration,
		}
	}
	return msg
}

var _ Feed = (*PubSubFeed)(nil)
