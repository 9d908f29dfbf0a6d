package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/audit"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/hub"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/notify"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/playback"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/recorder"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/registry"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/uploader"
	"github.com/isaacberry91/propswipes-sub000/pkg/jwt"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// TokenValidator is satisfied by *jwt.Manager.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// ContextLoader resolves conversation contexts.
type ContextLoader interface {
	ContextInvalidator
	ViewerProfile(ctx context.Context, userID string) (*domain.Profile, error)
	Load(ctx context.Context, viewerUserID, matchID string) (*domain.ConversationContext, error)
}

// MediaDevice is a client's microphone, negotiated over WebRTC.
type MediaDevice interface {
	recorder.Device
	HandleOffer(ctx context.Context, offerSDP string) (string, error)
	AddICECandidate(candidate string) error
	Close() error
}

// DeviceFactory creates the media device of a new connection.
type DeviceFactory func() (MediaDevice, error)

// SpeedStoreFactory returns where a viewer's playback speeds are kept.
type SpeedStoreFactory func(viewerProfileID string) playback.SpeedStore

// clientState is what one WebSocket connection owns.
type clientState struct {
	mu     sync.Mutex
	device MediaDevice
	player *hub.RemotePlayer
	conv   *Conversation
}

type chatService struct {
	hub     *hub.Hub
	tokens  TokenValidator
	loader  ContextLoader
	deps    Deps
	devices DeviceFactory
	speeds  SpeedStoreFactory

	mu      sync.RWMutex
	clients map[string]*clientState // clientID -> state
}

func NewChatService(
	h *hub.Hub,
	tokens TokenValidator,
	loader ContextLoader,
	deps Deps,
	devices DeviceFactory,
	speeds SpeedStoreFactory,
) ChatService {
	if deps.Contexts == nil {
		deps.Contexts = loader
	}
	if deps.Presence == nil {
		deps.Presence = registry.NewMemoryRegistry()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NoOpDispatcher{}
	}
	return &chatService{
		hub:     h,
		tokens:  tokens,
		loader:  loader,
		deps:    deps,
		devices: devices,
		speeds:  speeds,
		clients: make(map[string]*clientState),
	}
}

func (s *chatService) HandleAuth(ctx context.Context, c *hub.Client, token string) error {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		audit.Log(ctx, audit.ActionAuthFailed, "", err.Error())
		c.SendMessage(&domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: "Invalid token",
		})
		return err
	}

	userID := claims.UserID()
	profile, err := s.loader.ViewerProfile(ctx, userID)
	if err != nil {
		c.SendMessage(&domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: "No profile for this account",
		})
		return err
	}

	c.Session.Authenticate(userID, profile.ID)
	audit.Log(ctx, audit.ActionAuth, userID, "websocket authenticated")

	return c.SendMessage(&domain.AuthResultMessage{
		Type:      domain.MsgTypeAuthResult,
		Success:   true,
		UserID:    userID,
		ProfileID: profile.ID,
	})
}

func (s *chatService) HandleOpenConversation(ctx context.Context, c *hub.Client, matchID string) error {
	if !c.Session.IsAuthenticated() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
	}
	if matchID == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "match_id is required"))
	}

	// Navigating to another conversation releases the current one first.
	s.closeConversation(ctx, c)

	userID := c.Session.GetUserID()
	cc, err := s.loader.Load(ctx, userID, matchID)
	if err != nil {
		return s.fail(c, err, "")
	}

	st, err := s.stateFor(c)
	if err != nil {
		return s.fail(c, err, "")
	}

	media := Media{Device: st.device, Player: st.player}
	if s.speeds != nil {
		media.Speeds = s.speeds(cc.Viewer.ID)
	}
	conv, err := OpenConversation(ctx, s.deps, *cc, userID, c, media)
	if err != nil {
		return s.fail(c, err, "")
	}

	st.mu.Lock()
	st.conv = conv
	st.mu.Unlock()
	s.hub.JoinConversation(c, matchID)
	c.Session.OpenMatch(matchID)

	if err := c.SendMessage(&domain.ConversationOpenedMessage{
		Type:    domain.MsgTypeConversationOpened,
		Context: *cc,
	}); err != nil {
		return err
	}

	if _, err := conv.LoadHistory(ctx); err != nil {
		return s.fail(c, err, "")
	}
	return nil
}

func (s *chatService) HandleRetryHistory(ctx context.Context, c *hub.Client) error {
	conv, err := s.conversation(c)
	if err != nil {
		return s.fail(c, err, "")
	}
	if _, err := conv.LoadHistory(ctx); err != nil {
		return s.fail(c, err, "")
	}
	return nil
}

func (s *chatService) HandleCloseConversation(ctx context.Context, c *hub.Client) error {
	s.closeConversation(ctx, c)
	return nil
}

func (s *chatService) HandleSendText(ctx context.Context, c *hub.Client, id, content string) error {
	conv, err := s.conversation(c)
	if err != nil {
		return s.fail(c, err, id)
	}
	msg, err := conv.SendText(ctx, id, content)
	if err != nil {
		if msg.ID != "" {
			id = msg.ID
		}
		return s.fail(c, err, id)
	}
	return nil
}

func (s *chatService) HandleResend(ctx context.Context, c *hub.Client, messageID string) error {
	conv, err := s.conversation(c)
	if err != nil {
		return s.fail(c, err, messageID)
	}
	if _, err := conv.Resend(ctx, messageID); err != nil {
		return s.fail(c, err, messageID)
	}
	return nil
}

func (s *chatService) HandleDeleteMessage(ctx context.Context, c *hub.Client, messageID string) error {
	conv, err := s.conversation(c)
	if err != nil {
		return s.fail(c, err, messageID)
	}
	if err := conv.DeleteMessage(ctx, messageID); err != nil {
		return s.fail(c, err, messageID)
	}
	return nil
}

func (s *chatService) HandleDeleteConversation(ctx context.Context, c *hub.Client) error {
	conv, err := s.conversation(c)
	if err != nil {
		return s.fail(c, err, "")
	}
	if err := conv.DeleteConversation(ctx); err != nil {
		return s.fail(c, err, "")
	}
	return nil
}

func (s *chatService) HandleStartRecording(ctx context.Context, c *hub.Client) error {
	return s.withConversation(c, func(conv *Conversation) error { return conv.StartRecording(ctx) })
}

func (s *chatService) HandlePauseRecording(ctx context.Context, c *hub.Client) error {
	return s.withConversation(c, (*Conversation).PauseRecording)
}

func (s *chatService) HandleResumeRecording(ctx context.Context, c *hub.Client) error {
	return s.withConversation(c, (*Conversation).ResumeRecording)
}

func (s *chatService) HandleCancelRecording(ctx context.Context, c *hub.Client) error {
	return s.withConversation(c, (*Conversation).CancelRecording)
}

func (s *chatService) HandleSendVoiceNote(ctx context.Context, c *hub.Client, caption string) error {
	return s.withConversation(c, func(conv *Conversation) error {
		_, err := conv.SendVoiceNote(ctx, caption)
		return err
	})
}

func (s *chatService) HandlePlay(ctx context.Context, c *hub.Client, messageID, url string) error {
	conv, err := s.conversation(c)
	if err != nil {
		return s.fail(c, err, messageID)
	}
	if _, err := conv.Play(ctx, messageID, url); err != nil {
		return s.fail(c, err, messageID)
	}
	return nil
}

func (s *chatService) HandleCycleSpeed(ctx context.Context, c *hub.Client, messageID string) error {
	conv, err := s.conversation(c)
	if err != nil {
		return s.fail(c, err, messageID)
	}
	speed, err := conv.CycleSpeed(ctx, messageID)
	if err != nil {
		return s.fail(c, err, messageID)
	}
	if st := conv.player.State(); st.MessageID == messageID {
		// already reported by the controller
		return nil
	}
	return c.SendMessage(&domain.PlaybackStateOut{
		Type:      domain.MsgTypePlaybackState,
		MessageID: messageID,
		Speed:     speed,
	})
}

func (s *chatService) HandleStopPlayback(ctx context.Context, c *hub.Client) error {
	return s.withConversation(c, func(conv *Conversation) error {
		conv.StopPlayback()
		return nil
	})
}

func (s *chatService) HandleRTCOffer(ctx context.Context, c *hub.Client, sdp string) error {
	if !c.Session.IsAuthenticated() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
	}
	st, err := s.stateFor(c)
	if err != nil {
		return s.fail(c, err, "")
	}
	answer, err := st.device.HandleOffer(ctx, sdp)
	if err != nil {
		return s.fail(c, fmt.Errorf("%w: %w", domain.ErrMicrophoneAccess, err), "")
	}
	return c.SendMessage(&domain.RTCAnswerOut{Type: domain.MsgTypeRTCAnswer, SDP: answer})
}

func (s *chatService) HandleRTCCandidate(ctx context.Context, c *hub.Client, candidate string) error {
	st, ok := s.existingState(c)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "No media session"))
	}
	if err := st.device.AddICECandidate(candidate); err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Msg("rejected ice candidate")
		return err
	}
	return nil
}

func (s *chatService) HandleAudioEvent(ctx context.Context, c *hub.Client, msgType string, ev domain.AudioEventMessage) error {
	st, ok := s.existingState(c)
	if !ok {
		return nil
	}
	if !st.player.HandleEvent(msgType, ev) {
		l := log.Ctx(ctx)
		l.Debug().Str("source_id", ev.SourceID).Str("event", msgType).Msg("audio event for released source")
	}
	return nil
}

// HandleDisconnect releases everything the connection owned.
func (s *chatService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	s.closeConversation(ctx, c)

	s.mu.Lock()
	st, ok := s.clients[c.ID]
	delete(s.clients, c.ID)
	s.mu.Unlock()

	if ok && st.device != nil {
		if err := st.device.Close(); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("failed to close media device")
		}
	}
	if c.Session.IsAuthenticated() {
		audit.Log(ctx, audit.ActionDisconnect, c.Session.GetUserID(), "websocket disconnected")
	}
	return nil
}

func (s *chatService) History(ctx context.Context, userID, matchID string) ([]domain.Message, error) {
	cc, err := s.loader.Load(ctx, userID, matchID)
	if err != nil {
		return nil, err
	}

	fetcher := &signingFetcher{messages: s.deps.Messages, uploader: s.deps.Uploader}
	msgs, err := fetcher.FetchMessages(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrHistoryLoad, err)
	}
	for i := range msgs {
		msgs[i].Status = domain.StatusSent
		msgs[i].Sender = domain.SenderOther
		if msgs[i].SenderID == cc.Viewer.ID {
			msgs[i].Sender = domain.SenderSelf
		}
	}
	return msgs, nil
}

// UploadAttachment routes an HTTP upload into the uploader's open view of
// matchID so the optimistic entry shows up where the user is looking.
func (s *chatService) UploadAttachment(ctx context.Context, userID, matchID string, file uploader.File, caption string) (domain.Message, error) {
	s.mu.RLock()
	var conv *Conversation
	for _, st := range s.clients {
		st.mu.Lock()
		if st.conv != nil && st.conv.viewerUserID == userID && st.conv.MatchID() == matchID {
			conv = st.conv
		}
		st.mu.Unlock()
		if conv != nil {
			break
		}
	}
	s.mu.RUnlock()

	if conv == nil {
		return domain.Message{}, domain.ErrNoConversation
	}
	return conv.SendAttachment(ctx, file, caption)
}

func (s *chatService) Start(ctx context.Context) error {
	if err := s.deps.Presence.StartHeartbeat(ctx); err != nil {
		return fmt.Errorf("failed to start presence heartbeat: %w", err)
	}
	l := log.L()
	l.Info().Msg("chat service started")
	return nil
}

// Stop closes every open conversation and the shared collaborators.
func (s *chatService) Stop() error {
	s.mu.Lock()
	states := make([]*clientState, 0, len(s.clients))
	for id, st := range s.clients {
		states = append(states, st)
		delete(s.clients, id)
	}
	s.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		conv := st.conv
		st.conv = nil
		st.mu.Unlock()
		if conv != nil {
			conv.Close()
		}
		if st.device != nil {
			st.device.Close()
		}
	}

	l := log.L()
	s.deps.Presence.StopHeartbeat()
	if err := s.deps.Presence.Close(); err != nil {
		l.Warn().Err(err).Msg("failed to close presence registry")
	}
	if err := s.deps.Notifier.Close(); err != nil {
		l.Warn().Err(err).Msg("failed to close notification dispatcher")
	}
	return nil
}

// stateFor returns the client's state, creating its media device and
// player on first use.
func (s *chatService) stateFor(c *hub.Client) (*clientState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.clients[c.ID]; ok {
		return st, nil
	}
	device, err := s.devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMicrophoneAccess, err)
	}
	st := &clientState{
		device: device,
		player: hub.NewRemotePlayer(c, c.ID),
	}
	s.clients[c.ID] = st
	return st, nil
}

func (s *chatService) existingState(c *hub.Client) (*clientState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.clients[c.ID]
	return st, ok
}

func (s *chatService) conversation(c *hub.Client) (*Conversation, error) {
	if !c.Session.IsAuthenticated() {
		return nil, errUnauthenticated
	}
	st, ok := s.existingState(c)
	if !ok {
		return nil, domain.ErrNoConversation
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.conv == nil {
		return nil, domain.ErrNoConversation
	}
	return st.conv, nil
}

func (s *chatService) withConversation(c *hub.Client, fn func(*Conversation) error) error {
	conv, err := s.conversation(c)
	if err == nil {
		err = fn(conv)
	}
	if err != nil {
		return s.fail(c, err, "")
	}
	return nil
}

func (s *chatService) closeConversation(ctx context.Context, c *hub.Client) {
	st, ok := s.existingState(c)
	if !ok {
		return
	}
	st.mu.Lock()
	conv := st.conv
	st.conv = nil
	st.mu.Unlock()
	if conv == nil {
		return
	}

	conv.Close()
	s.hub.LeaveConversation(c)
	c.Session.CloseMatch()

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldMatchID, conv.MatchID()).Msg("conversation closed")
}

var errUnauthenticated = errors.New("not authenticated")

// fail reports err to the client and hands it back to the caller.
func (s *chatService) fail(c *hub.Client, err error, messageID string) error {
	frame := domain.NewErrorFrom(err)
	if errors.Is(err, errUnauthenticated) {
		frame = domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated")
	}
	frame.MessageID = messageID
	c.SendMessage(frame)
	return err
}
