package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchChannelRoundTrip(t *testing.T) {
	ch := MatchChannel("m-42")
	assert.Equal(t, "chat:match:m-42:messages", ch)

	id, ok := MatchIDFromChannel(ch)
	require.True(t, ok)
	assert.Equal(t, "m-42", id)

	for _, bad := range []string{"", "chat:match::messages", "chat:room:m1:messages", "chat:match:m1"} {
		_, ok := MatchIDFromChannel(bad)
		assert.False(t, ok, bad)
	}
}

func TestChannelToTopicAndKey(t *testing.T) {
	topic, key, err := channelToTopicAndKey(MatchChannel("abc"))
	require.NoError(t, err)
	assert.Equal(t, topicMatchMessages, topic)
	assert.Equal(t, "abc", key)

	_, _, err = channelToTopicAndKey("chat:match")
	assert.Error(t, err)
}

func TestSanitizeGroupID(t *testing.T) {
	assert.Equal(t, "chat-match-m1-messages", sanitizeGroupID("chat:match:m1:messages"))
}

func TestEventPayloadRoundTrip(t *testing.T) {
	ev, err := NewEvent(EventMessageDeleted, "m1", MessageDeletedPayload{ID: "x", MatchID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "m1", ev.MatchID)
	assert.False(t, ev.Timestamp.IsZero())

	var got MessageDeletedPayload
	require.NoError(t, ev.UnmarshalPayload(&got))
	assert.Equal(t, "x", got.ID)
}
