package messages

import (
	"time"

	"github.com/room4-2/iacfarm/chat"
)

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeGeminiError      = "GEMINI_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeBufferFull       = "BUFFER_FULL"
	ErrCodeTurnInProgress   = "TURN_IN_PROGRESS"
	ErrCodeUnsupportedMedia = "UNSUPPORTED_MEDIA"
)

// Message types
const (
	TypeConversation = "conversation"
	TypeAudio        = "audio"
	TypeTranscript   = "transcript"
	TypeStatus       = "status"
	TypeError        = "error"
)

// Status values
const (
	StatusConnected         = "connected"
	StatusPong              = "pong"
	StatusAttachmentStaged  = "attachment_staged"
	StatusAttachmentCleared = "attachment_cleared"
	StatusAudioEnded        = "audio_ended"
	StatusAudioLoading      = "audio_loading"
)

// ServerMessage represents a message sent to frontend client
type ServerMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload"`
}

// AttachmentView describes an attachment without its payload
type AttachmentView struct {
	Type             string `json:"type"`
	DisplayReference string `json:"displayReference,omitempty"`
	MediaType        string `json:"mediaType"`
	Size             int    `json:"size"`
}

// MessageView is a chat message as the client renders it. Media payloads
// stay on the server; audio is sent separately when played.
type MessageView struct {
	ID             string          `json:"id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Attachment     *AttachmentView `json:"attachment,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	IsThinking     bool            `json:"isThinking,omitempty"`
	HasAudio       bool            `json:"hasAudio,omitempty"`
	IsAudioLoading bool            `json:"isAudioLoading,omitempty"`
	IsPlaying      bool            `json:"isPlaying,omitempty"`
}

// ConversationPayload is the full message log
type ConversationPayload struct {
	Messages []MessageView `json:"messages"`
	Busy     bool          `json:"busy"`
}

// AudioResponsePayload contains audio data for client
type AudioResponsePayload struct {
	MessageID string `json:"messageId"`
	Data      string `json:"data"`     // Base64-encoded PCM audio
	MimeType  string `json:"mimeType"` // "audio/pcm;rate=24000"
}

// TranscriptPayload carries recognized voice input
type TranscriptPayload struct {
	Text string `json:"text"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewConversationMessage renders the log; playingID marks the message whose
// audio is playing.
func NewConversationMessage(sessionID string, msgs []chat.Message, busy bool, playingID string) *ServerMessage {
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := MessageView{
			ID:             m.ID,
			Role:           string(m.Role),
			Content:        m.Content,
			Timestamp:      m.Timestamp,
			IsThinking:     m.IsThinking,
			HasAudio:       m.AudioBase64 != "",
			IsAudioLoading: m.IsAudioLoading,
			IsPlaying:      playingID != "" && m.ID == playingID,
		}
		if a := m.Attachment; a != nil {
			v.Attachment = &AttachmentView{
				Type:             string(a.Kind),
				DisplayReference: a.DisplayRef,
				MediaType:        a.MediaType,
				Size:             a.Size,
			}
		}
		views = append(views, v)
	}
	return &ServerMessage{
		Type:      TypeConversation,
		SessionID: sessionID,
		Payload:   ConversationPayload{Messages: views, Busy: busy},
	}
}

// NewAudioMessage creates an audio response message
func NewAudioMessage(sessionID, messageID, data string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAudio,
		SessionID: sessionID,
		Payload: AudioResponsePayload{
			MessageID: messageID,
			Data:      data,
			MimeType:  "audio/pcm;rate=24000",
		},
	}
}

// NewTranscriptMessage creates a voice input transcript message
func NewTranscriptMessage(sessionID, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTranscript,
		SessionID: sessionID,
		Payload:   TranscriptPayload{Text: text},
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
