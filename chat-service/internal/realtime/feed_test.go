package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/pkg/pubsub"
)

func next(t *testing.T, sub Subscription) Update {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("no update received")
		return Update{}
	}
}

func TestPubSubFeed_InsertedRoundTrip(t *testing.T) {
	ps := pubsub.NewMemoryPubSub(8)
	feed := NewPubSubFeed(ps)
	ctx := context.Background()

	sub, err := feed.Subscribe(ctx, "match-1")
	require.NoError(t, err)
	defer sub.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, feed.PublishInserted(ctx, domain.Message{
		ID: "msg1", MatchID: "match-1", SenderID: "userB", Content: "hi", CreatedAt: created,
		Attachment: &domain.Attachment{URL: "u", Type: "audio/ogg", Name: "n", Key: "k", IsVoiceNote: true, DurationSeconds: 5},
	}))

	u := next(t, sub)
	assert.Equal(t, MessageInserted, u.Kind)
	require.NotNil(t, u.Message)
	assert.Equal(t, "msg1", u.Message.ID)
	assert.Equal(t, "hi", u.Message.Content)
	assert.Equal(t, domain.StatusSent, u.Message.Status)
	require.NotNil(t, u.Message.Attachment)
	assert.True(t, u.Message.Attachment.IsVoiceNote)
	assert.Equal(t, 5, u.Message.Attachment.DurationSeconds)
	assert.True(t, created.Equal(u.Message.CreatedAt))
}

func TestPubSubFeed_DeleteEvents(t *testing.T) {
	ps := pubsub.NewMemoryPubSub(8)
	feed := NewPubSubFeed(ps)
	ctx := context.Background()

	sub, err := feed.Subscribe(ctx, "match-1")
	require.NoError(t, err)
	defer sub.Close()

	now := time.Now().UTC()
	require.NoError(t, feed.PublishDeleted(ctx, "match-1", "msg1", "userB", now))
	require.NoError(t, feed.PublishMatchDeleted(ctx, "match-1", "userB", now))

	u := next(t, sub)
	assert.Equal(t, MessageDeleted, u.Kind)
	assert.Equal(t, "msg1", u.MessageID)
	assert.Equal(t, "userB", u.ProfileID)

	u = next(t, sub)
	assert.Equal(t, MatchDeleted, u.Kind)
	assert.Equal(t, "userB", u.ProfileID)
}

func TestPubSubFeed_SubscriptionsAreIndependent(t *testing.T) {
	ps := pubsub.NewMemoryPubSub(8)
	feed := NewPubSubFeed(ps)
	ctx := context.Background()

	a, err := feed.Subscribe(ctx, "match-1")
	require.NoError(t, err)
	b, err := feed.Subscribe(ctx, "match-1")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, open := <-a.Updates()
	assert.False(t, open)
	assert.Equal(t, 1, ps.Subscribers(pubsub.MatchChannel("match-1")))

	require.NoError(t, feed.PublishInserted(ctx, domain.Message{ID: "m", MatchID: "match-1", SenderID: "x", Content: "still here"}))
	assert.Equal(t, "m", next(t, b).Message.ID)
}

func TestPubSubFeed_CloseWithUnreadUpdates(t *testing.T) {
	ps := pubsub.NewMemoryPubSub(1)
	feed := NewPubSubFeed(ps)
	ctx := context.Background()

	sub, err := feed.Subscribe(ctx, "match-1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_ = feed.PublishInserted(ctx, domain.Message{ID: "m", MatchID: "match-1", SenderID: "x", Content: "x"})
	}

	done := make(chan struct{})
	go func() {
		_ = sub.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked")
	}
}

func TestDecode_Rejects(t *testing.T) {
	_, ok := decode(&pubsub.Event{Type: "unknown"})
	assert.False(t, ok)

	_, ok = decode(&pubsub.Event{Type: pubsub.EventMessageInserted, Payload: []byte(`{"content":"no id"}`)})
	assert.False(t, ok)

	_, ok = decode(&pubsub.Event{Type: pubsub.EventMessageInserted, Payload: []byte(`not json`)})
	assert.False(t, ok)
}

func TestPayloadConversion(t *testing.T) {
	msg := domain.Message{ID: "a", MatchID: "m", SenderID: "s", Content: "text"}
	back := FromPayload(ToPayload(msg))
	assert.Nil(t, back.Attachment)
	assert.Equal(t, "text", back.Content)
}
