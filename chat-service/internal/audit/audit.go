package audit

import (
	"context"

	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// Audit actions for chat-service.
const (
	ActionAuth               = "chat.auth"
	ActionAuthFailed         = "chat.auth_failed"
	ActionOpenConversation   = "chat.open_conversation"
	ActionSendMessage        = "chat.send_message"
	ActionDeleteMessage      = "chat.delete_message"
	ActionDeleteConversation = "chat.delete_conversation"
	ActionUploadAttachment   = "chat.upload_attachment"
	ActionDisconnect         = "chat.disconnect"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogTarget emits an audit entry about a specific message or match.
func LogTarget(ctx context.Context, action, userID, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
