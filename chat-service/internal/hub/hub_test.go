package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(id string, h *Hub, buffer int) *Client {
	return NewClient(id, h, nil, Config{SendBuffer: buffer})
}

func TestHub_RegisterJoinUnregister(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	a := newTestClient("a", h, 4)
	b := newTestClient("b", h, 4)
	h.Register(a)
	h.Register(b)
	assert.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	h.JoinConversation(a, "m1")
	h.JoinConversation(b, "m1")
	assert.Equal(t, 2, h.ConversationClientCount("m1"))

	h.JoinConversation(a, "m2")
	assert.Equal(t, 1, h.ConversationClientCount("m1"), "joining another conversation leaves the first")
	assert.Equal(t, 1, h.ConversationClientCount("m2"))

	h.Unregister(a)
	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.ConversationClientCount("m2"))
	assert.ErrorIs(t, a.SendMessage(map[string]string{"type": "pong"}), ErrClientClosed)

	h.LeaveConversation(b)
	assert.Equal(t, 0, h.ConversationClientCount("m1"))
}

func TestHub_StopClosesClients(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()

	c := newTestClient("c", h, 1)
	h.Register(c)
	h.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	_, open := <-c.Send
	assert.False(t, open)

	late := newTestClient("late", h, 1)
	h.Register(late)
	assert.ErrorIs(t, late.SendMessage("x"), ErrClientClosed)
}

func TestClient_SendMessageBufferFull(t *testing.T) {
	c := newTestClient("c", NewHub(), 1)

	require.NoError(t, c.SendMessage(map[string]string{"type": "pong"}))
	assert.ErrorIs(t, c.SendMessage(map[string]string{"type": "pong"}), ErrSendBufferFull)

	frame := <-c.Send
	assert.JSONEq(t, `{"type":"pong"}`, string(frame))
}
