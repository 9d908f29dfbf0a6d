package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/config"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/hub"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/service"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub     *hub.Hub
	service service.ChatService
	wsCfg   config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := log.Ctx(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, hub.Config{
		PingInterval:   h.wsCfg.PingInterval,
		PongWait:       h.wsCfg.PongWait,
		WriteWait:      h.wsCfg.WriteWait,
		MaxMessageSize: h.wsCfg.MaxMessageSize,
		SendBuffer:     h.wsCfg.SendBuffer,
	})

	// The request context ends with this handler; the connection outlives it.
	ctx := log.WithLogger(context.Background(), l.With().Str(log.FieldClientID, client.ID).Logger())

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(
		func(c *hub.Client, message []byte) { h.handleMessage(ctx, c, message) },
		func(c *hub.Client) { h.service.HandleDisconnect(ctx, c) },
	)
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	if userID := client.Session.GetUserID(); userID != "" {
		l := log.Ctx(ctx)
		ctx = log.WithLogger(ctx, l.With().Str(log.FieldUserID, userID).Logger())
	}

	var err error
	switch base.Type {
	case domain.MsgTypeAuth:
		var msg domain.AuthMessage
		if !decode(client, message, &msg) {
			return
		}
		err = h.service.HandleAuth(ctx, client, msg.Token)

	case domain.MsgTypeOpenConversation:
		var msg domain.OpenConversationMessage
		if !decode(client, message, &msg) {
			return
		}
		err = h.service.HandleOpenConversation(ctx, client, msg.MatchID)

	case domain.MsgTypeRetryHistory:
		err = h.service.HandleRetryHistory(ctx, client)

	case domain.MsgTypeCloseConversation:
		err = h.service.HandleCloseConversation(ctx, client)

	case domain.MsgTypeSendText:
		var msg domain.SendTextMessage
		if !decode(client, message, &msg) {
			return
		}
		err = h.service.HandleSendText(ctx, client, msg.ID, msg.Content)

	case domain.MsgTypeResend, domain.MsgTypeDeleteMessage, domain.MsgTypePlay, domain.MsgTypeCycleSpeed:
		var msg domain.MessageRefMessage
		if !decode(client, message, &msg) {
			return
		}
		if msg.MessageID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "message_id is required"))
			return
		}
		switch base.Type {
		case domain.MsgTypeResend:
			err = h.service.HandleResend(ctx, client, msg.MessageID)
		case domain.MsgTypeDeleteMessage:
			err = h.service.HandleDeleteMessage(ctx, client, msg.MessageID)
		case domain.MsgTypePlay:
			err = h.service.HandlePlay(ctx, client, msg.MessageID, msg.URL)
		default:
			err = h.service.HandleCycleSpeed(ctx, client, msg.MessageID)
		}

	case domain.MsgTypeDeleteConversation:
		err = h.service.HandleDeleteConversation(ctx, client)

	case domain.MsgTypeStartRecording:
		err = h.service.HandleStartRecording(ctx, client)

	case domain.MsgTypePauseRecording:
		err = h.service.HandlePauseRecording(ctx, client)

	case domain.MsgTypeResumeRecording:
		err = h.service.HandleResumeRecording(ctx, client)

	case domain.MsgTypeCancelRecording:
		err = h.service.HandleCancelRecording(ctx, client)

	case domain.MsgTypeSendVoiceNote:
		var msg domain.SendVoiceNoteMessage
		if !decode(client, message, &msg) {
			return
		}
		err = h.service.HandleSendVoiceNote(ctx, client, msg.Content)

	case domain.MsgTypeStopPlayback:
		err = h.service.HandleStopPlayback(ctx, client)

	case domain.MsgTypeRTCOffer:
		var msg domain.RTCOfferMessage
		if !decode(client, message, &msg) {
			return
		}
		err = h.service.HandleRTCOffer(ctx, client, msg.SDP)

	case domain.MsgTypeRTCCandidate:
		var msg domain.RTCCandidateMessage
		if !decode(client, message, &msg) {
			return
		}
		err = h.service.HandleRTCCandidate(ctx, client, msg.Candidate)

	case domain.MsgTypeAudioTime, domain.MsgTypeAudioEnded, domain.MsgTypeAudioError:
		var msg domain.AudioEventMessage
		if !decode(client, message, &msg) {
			return
		}
		err = h.service.HandleAudioEvent(ctx, client, base.Type, msg)

	case domain.MsgTypePing:
		client.SendMessage(map[string]string{"type": domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}

	if err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Str("msg_type", base.Type).Msg("request failed")
	}
}

// decode unmarshals a typed frame, answering the client when it is malformed.
func decode(client *hub.Client, message []byte, out any) bool {
	if err := json.Unmarshal(message, out); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message payload"))
		return false
	}
	return true
}

func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/chat/ws", h.HandleWebSocket)
}
