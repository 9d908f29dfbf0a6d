package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
)

type recordingDispatcher struct {
	got chan Notification
	err error
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, n Notification) error {
	r.got <- n
	return r.err
}

func (r *recordingDispatcher) Close() error { return nil }

func testContext() domain.ConversationContext {
	return domain.ConversationContext{
		Viewer:      domain.Profile{ID: "buyer", DisplayName: "Bea"},
		Counterpart: domain.Profile{ID: "seller", DisplayName: "Sam"},
	}
}

func TestNewNotification(t *testing.T) {
	n := NewNotification(testContext(), domain.Message{ID: "m1", MatchID: "match-1", Content: "Is it still available?"})
	assert.Equal(t, "seller", n.RecipientProfileID)
	assert.Equal(t, "buyer", n.SenderProfileID)
	assert.Equal(t, "Bea", n.SenderName)
	assert.Equal(t, "Is it still available?", n.Preview)
}

func TestNewNotification_AttachmentCaption(t *testing.T) {
	n := NewNotification(testContext(), domain.Message{
		ID: "m1", MatchID: "match-1",
		Attachment: &domain.Attachment{IsVoiceNote: true},
	})
	assert.Equal(t, domain.CaptionVoiceNote, n.Preview)
}

func TestNewNotification_TruncatesPreview(t *testing.T) {
	n := NewNotification(testContext(), domain.Message{ID: "m1", Content: strings.Repeat("é", 200)})
	assert.Equal(t, previewRunes, utf8.RuneCountInString(n.Preview))
	assert.True(t, strings.HasSuffix(n.Preview, "…"))
}

func TestAsync_DoesNotBlockAndSwallowsErrors(t *testing.T) {
	d := &recordingDispatcher{got: make(chan Notification, 1), err: errors.New("broker down")}

	Async(context.Background(), d, Notification{MessageID: "m1"}, time.Second)

	select {
	case n := <-d.got:
		assert.Equal(t, "m1", n.MessageID)
	case <-time.After(time.Second):
		t.Fatal("notification not dispatched")
	}
}

func TestAsync_NilDispatcher(t *testing.T) {
	assert.NotPanics(t, func() {
		Async(context.Background(), nil, Notification{}, time.Second)
	})
}
