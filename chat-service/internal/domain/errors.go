package domain

import "errors"

// Failure kinds surfaced to the conversation view. Operations wrap the
// underlying cause so errors.Is matches both the kind and the cause.
var (
	ErrHistoryLoad      = errors.New("history load failed")
	ErrMicrophoneAccess = errors.New("microphone unavailable")
	ErrNoAudioCaptured  = errors.New("no audio captured")
	ErrUpload           = errors.New("upload failed")
	ErrSignedURL        = errors.New("signed url issuance failed")
	ErrMessageInsert    = errors.New("message insert failed")
	ErrPlayback         = errors.New("playback failed")
)

var (
	ErrMatchNotFound      = errors.New("match not found")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrConversationClosed = errors.New("conversation closed")
	ErrNoConversation     = errors.New("no conversation open")
	ErrEmptyMessage       = errors.New("message has neither text nor attachment")
	ErrInvalidTransition  = errors.New("invalid recorder transition")
	ErrNotOwner           = errors.New("not the message sender")
	ErrNotFailed          = errors.New("message is not in failed state")
)

// Error codes sent to clients.
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeNoConversation     = "NO_CONVERSATION"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeConversationClosed = "CONVERSATION_CLOSED"
	ErrCodeHistoryLoad        = "HISTORY_LOAD_FAILED"
	ErrCodeMicrophone         = "MICROPHONE_ACCESS"
	ErrCodeNoAudio            = "NO_AUDIO_CAPTURED"
	ErrCodeUpload             = "UPLOAD_FAILED"
	ErrCodeSignedURL          = "SIGNED_URL_FAILED"
	ErrCodeMessageInsert      = "MESSAGE_INSERT_FAILED"
	ErrCodePlayback           = "PLAYBACK_FAILED"
	ErrCodeInvalidState       = "INVALID_STATE"
)

var codeTable = []struct {
	err  error
	code string
}{
	{ErrHistoryLoad, ErrCodeHistoryLoad},
	{ErrMicrophoneAccess, ErrCodeMicrophone},
	{ErrNoAudioCaptured, ErrCodeNoAudio},
	{ErrSignedURL, ErrCodeSignedURL},
	{ErrUpload, ErrCodeUpload},
	{ErrMessageInsert, ErrCodeMessageInsert},
	{ErrPlayback, ErrCodePlayback},
	{ErrConversationClosed, ErrCodeConversationClosed},
	{ErrNoConversation, ErrCodeNoConversation},
	{ErrMatchNotFound, ErrCodeNotFound},
	{ErrProfileNotFound, ErrCodeNotFound},
	{ErrMessageNotFound, ErrCodeNotFound},
	{ErrNotOwner, ErrCodeForbidden},
	{ErrEmptyMessage, ErrCodeBadRequest},
	{ErrInvalidTransition, ErrCodeInvalidState},
	{ErrNotFailed, ErrCodeInvalidState},
}

// ErrorCode maps an error to the code reported to clients.
func ErrorCode(err error) string {
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return ErrCodeInternalError
}
