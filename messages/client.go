package messages

import "encoding/json"

// Client message types
const (
	TypeSend             = "send"
	TypeAttach           = "attach"
	TypeCancelAttachment = "cancel_attachment"
	TypeIdentify         = "identify"
	TypeSpeak            = "speak"
	TypeStopAudio        = "stop_audio"
	TypeLocation         = "location"
	TypeControl          = "control"
	// TypeAudio ("audio") carries mic PCM from the client and speech to it.
)

// ClientMessage represents a message from frontend client
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendPayload sends a chat turn with whatever attachment is staged
type SendPayload struct {
	Text string `json:"text"`
}

// AttachPayload stages a photo or video for the next send
type AttachPayload struct {
	Source   string `json:"source"` // "gallery", "camera", "identify"
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data"` // Base64-encoded file
}

// IdentifyPayload sends a photo with the species identification prompt
type IdentifyPayload struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data"`
}

// SpeakPayload toggles voice playback of one message
type SpeakPayload struct {
	MessageID string `json:"messageId"`
}

// LocationPayload reports the device position once per session
type LocationPayload struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// AudioPayload contains audio data from client
type AudioPayload struct {
	Data string `json:"data"` // Base64-encoded 16 kHz PCM
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping", "end_turn"
}
