package service

import (
	"context"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/hub"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/uploader"
)

type ChatService interface {
	HandleAuth(ctx context.Context, client *hub.Client, token string) error
	HandleOpenConversation(ctx context.Context, client *hub.Client, matchID string) error
	HandleRetryHistory(ctx context.Context, client *hub.Client) error
	HandleCloseConversation(ctx context.Context, client *hub.Client) error
	HandleSendText(ctx context.Context, client *hub.Client, id, content string) error
	HandleResend(ctx context.Context, client *hub.Client, messageID string) error
	HandleDeleteMessage(ctx context.Context, client *hub.Client, messageID string) error
	HandleDeleteConversation(ctx context.Context, client *hub.Client) error
	HandleStartRecording(ctx context.Context, client *hub.Client) error
	HandlePauseRecording(ctx context.Context, client *hub.Client) error
	HandleResumeRecording(ctx context.Context, client *hub.Client) error
	HandleCancelRecording(ctx context.Context, client *hub.Client) error
	HandleSendVoiceNote(ctx context.Context, client *hub.Client, caption string) error
	HandlePlay(ctx context.Context, client *hub.Client, messageID, url string) error
	HandleCycleSpeed(ctx context.Context, client *hub.Client, messageID string) error
	HandleStopPlayback(ctx context.Context, client *hub.Client) error
	HandleRTCOffer(ctx context.Context, client *hub.Client, sdp string) error
	HandleRTCCandidate(ctx context.Context, client *hub.Client, candidate string) error
	HandleAudioEvent(ctx context.Context, client *hub.Client, msgType string, ev domain.AudioEventMessage) error
	HandleDisconnect(ctx context.Context, client *hub.Client) error

	// History returns the conversation for an HTTP caller.
	History(ctx context.Context, userID, matchID string) ([]domain.Message, error)
	// UploadAttachment sends a file into the caller's open conversation.
	UploadAttachment(ctx context.Context, userID, matchID string, file uploader.File, caption string) (domain.Message, error)

	Start(ctx context.Context) error
	Stop() error
}
