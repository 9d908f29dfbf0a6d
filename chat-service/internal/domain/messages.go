package domain

// WebSocket message types from client.
const (
	MsgTypeAuth               = "auth"
	MsgTypeOpenConversation   = "open_conversation"
	MsgTypeRetryHistory       = "retry_history"
	MsgTypeCloseConversation  = "close_conversation"
	MsgTypeSendText           = "send_text"
	MsgTypeResend             = "resend"
	MsgTypeDeleteMessage      = "delete_message"
	MsgTypeDeleteConversation = "delete_conversation"
	MsgTypeStartRecording     = "start_recording"
	MsgTypePauseRecording     = "pause_recording"
	MsgTypeResumeRecording    = "resume_recording"
	MsgTypeCancelRecording    = "cancel_recording"
	MsgTypeSendVoiceNote      = "send_voice_note"
	MsgTypePlay               = "play"
	MsgTypeCycleSpeed         = "cycle_speed"
	MsgTypeStopPlayback       = "stop_playback"
	MsgTypeRTCOffer           = "rtc_offer"
	MsgTypeRTCCandidate       = "rtc_candidate"
	MsgTypeAudioTime          = "audio_time"
	MsgTypeAudioEnded         = "audio_ended"
	MsgTypeAudioError         = "audio_error"
	MsgTypePing               = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeAuthResult         = "auth_result"
	MsgTypeConversationOpened = "conversation_opened"
	MsgTypeHistory            = "history"
	MsgTypeMessageAdded       = "message_added"
	MsgTypeMessageUpdated     = "message_updated"
	MsgTypeMessageRemoved     = "message_removed"
	MsgTypeRecorderState      = "recorder_state"
	MsgTypePlaybackState      = "playback_state"
	MsgTypeAudioCommand       = "audio_command"
	MsgTypeConversationClosed = "conversation_closed"
	MsgTypeRTCAnswer          = "rtc_answer"
	MsgTypeError              = "error"
	MsgTypePong               = "pong"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type OpenConversationMessage struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

type SendTextMessage struct {
	Type string `json:"type"`
	// ID is optional; clients that render their own optimistic copy send it.
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

// MessageRefMessage carries resend, delete_message, cycle_speed and play.
type MessageRefMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	URL       string `json:"url,omitempty"`
}

type SendVoiceNoteMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type RTCOfferMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type RTCCandidateMessage struct {
	Type      string `json:"type"`
	Candidate string `json:"candidate"`
}

// AudioEventMessage reports progress or failure of a client audio element.
type AudioEventMessage struct {
	Type     string  `json:"type"`
	SourceID string  `json:"source_id"`
	Position float64 `json:"position,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// Server -> Client messages

type AuthResultMessage struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	UserID    string `json:"user_id,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

type ConversationOpenedMessage struct {
	Type    string              `json:"type"`
	Context ConversationContext `json:"context"`
}

type HistoryMessage struct {
	Type     string    `json:"type"`
	MatchID  string    `json:"match_id"`
	Messages []Message `json:"messages"`
}

type MessageEventOut struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

type MessageRemovedOut struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type RecorderStateOut struct {
	Type           string `json:"type"`
	State          string `json:"state"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

type PlaybackStateOut struct {
	Type      string  `json:"type"`
	MessageID string  `json:"message_id,omitempty"`
	Playing   bool    `json:"playing"`
	Position  float64 `json:"position"`
	Duration  float64 `json:"duration"`
	Speed     float64 `json:"speed"`
}

// Audio command actions.
const (
	AudioActionBind    = "bind"
	AudioActionPlay    = "play"
	AudioActionPause   = "pause"
	AudioActionSeek    = "seek"
	AudioActionRate    = "rate"
	AudioActionRelease = "release"
)

type AudioCommandOut struct {
	Type     string  `json:"type"`
	SourceID string  `json:"source_id"`
	Action   string  `json:"action"`
	URL      string  `json:"url,omitempty"`
	Rate     float64 `json:"rate,omitempty"`
	Position float64 `json:"position,omitempty"`
}

type ConversationClosedOut struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
}

type RTCAnswerOut struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ErrorMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// NewErrorFrom builds an error frame from a failed operation.
func NewErrorFrom(err error) *ErrorMessage {
	return NewErrorMessage(ErrorCode(err), err.Error())
}
