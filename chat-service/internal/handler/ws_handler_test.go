package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/config"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/hub"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/service"
)

// recordingService answers auth and records which handlers frames reach.
type recordingService struct {
	service.ChatService

	mu    sync.Mutex
	calls []string
}

func (s *recordingService) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingService) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingService) HandleAuth(_ context.Context, c *hub.Client, token string) error {
	s.record("auth:" + token)
	return c.SendMessage(&domain.AuthResultMessage{Type: domain.MsgTypeAuthResult, Success: true, UserID: "user-1"})
}

func (s *recordingService) HandleOpenConversation(_ context.Context, _ *hub.Client, matchID string) error {
	s.record("open:" + matchID)
	return nil
}

func (s *recordingService) HandlePlay(_ context.Context, _ *hub.Client, messageID, url string) error {
	s.record("play:" + messageID + ":" + url)
	return nil
}

func (s *recordingService) HandleAudioEvent(_ context.Context, _ *hub.Client, msgType string, ev domain.AudioEventMessage) error {
	s.record(msgType + ":" + ev.SourceID)
	return nil
}

func (s *recordingService) HandleDisconnect(context.Context, *hub.Client) error {
	s.record("disconnect")
	return nil
}

func dialChat(t *testing.T) (*websocket.Conn, *recordingService, *hub.Hub) {
	t.Helper()
	h := hub.NewHub()
	go h.Run()
	t.Cleanup(h.Stop)

	svc := &recordingService{}
	mux := http.NewServeMux()
	NewWSHandler(h, svc, config.WebSocketConfig{
		PingInterval:   time.Minute,
		PongWait:       2 * time.Minute,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     16,
	}).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/chat/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, svc, h
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWSHandler_RoutesFrames(t *testing.T) {
	conn, svc, _ := dialChat(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": domain.MsgTypeAuth, "token": "t1"}))
	assert.Equal(t, domain.MsgTypeAuthResult, readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": domain.MsgTypeOpenConversation, "match_id": "match-1"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": domain.MsgTypePlay, "message_id": "m1", "url": "https://a"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": domain.MsgTypeAudioEnded, "source_id": "src-1"}))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": domain.MsgTypePing}))
	assert.Equal(t, domain.MsgTypePong, readFrame(t, conn)["type"])

	// Frames from one connection are handled in order, so the pong proves
	// the earlier ones were dispatched.
	assert.Equal(t, []string{"auth:t1", "open:match-1", "play:m1:https://a", "audio_ended:src-1"}, svc.recorded())
}

func TestWSHandler_RejectsBadFrames(t *testing.T) {
	conn, _, _ := dialChat(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, domain.MsgTypeError, frame["type"])
	assert.Equal(t, domain.ErrCodeBadRequest, frame["code"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "teleport"}))
	assert.Equal(t, "Unknown message type", readFrame(t, conn)["message"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": domain.MsgTypeResend}))
	assert.Equal(t, "message_id is required", readFrame(t, conn)["message"])
}

func TestWSHandler_DisconnectReleasesClient(t *testing.T) {
	conn, svc, h := dialChat(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": domain.MsgTypePing}))
	readFrame(t, conn)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		calls := svc.recorded()
		return len(calls) > 0 && calls[len(calls)-1] == "disconnect" && h.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
