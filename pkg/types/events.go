package types

import (
	"time"
)

// Client -> server event types.
// ARCHITECTURAL DISCOVERY: Event type constants defined exactly as specified
// so the turn machine can treat (state, event) as a pure transition function
const (
	EventStartInput = "start-input"
	EventAudioChunk = "audio-chunk"
	EventEndOfInput = "end-of-input"
	EventText       = "text"
	EventModeSwitch = "mode-switch"
	EventCancel     = "cancel"
)

// Server -> client event types.
const (
	EventState      = "state"
	EventTranscript = "transcript"
	EventResponse   = "response"
	EventAudio      = "audio"
	EventError      = "error"
	EventBusy       = "busy"
	EventSession    = "session"
)

// ClientEvent is the inbound wire envelope. All client events share one
// schema; which fields are required depends on Type (see Validate).
// TECHNICAL DISCOVERY: encoding/json base64-encodes []byte transparently,
// so audio chunks ride the same JSON text frames as everything else
type ClientEvent struct {
	Type    string    `json:"type"`
	Kind    InputKind `json:"kind,omitempty"`    // start-input
	Mode    Mode      `json:"mode,omitempty"`    // start-input (optional), mode-switch
	TurnID  string    `json:"turn_id,omitempty"` // audio-chunk, end-of-input, text, cancel
	Data    []byte    `json:"data,omitempty"`    // audio-chunk
	Content string    `json:"content,omitempty"` // text
}

// ServerEvent is the outbound wire envelope, emitted on every turn state
// transition and for transcripts, responses, audio, and errors.
type ServerEvent struct {
	Type      string    `json:"type"`
	TurnID    string    `json:"turn_id,omitempty"`
	TurnState TurnState `json:"turn_state,omitempty"` // state
	Text      string    `json:"text,omitempty"`       // transcript, response
	HasAudio  bool      `json:"has_audio,omitempty"`  // response
	Data      []byte    `json:"data,omitempty"`       // audio
	Code      string    `json:"code,omitempty"`       // error
	Message   string    `json:"message,omitempty"`    // error
	SessionID string    `json:"session_id,omitempty"` // session
	Mode      Mode      `json:"mode,omitempty"`       // session
	Resumed   bool      `json:"resumed,omitempty"`    // session
	// SuggestedMode rides on response events when the mode router
	// recommends a switch; it never forces one.
	SuggestedMode Mode      `json:"suggested_mode,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Error codes carried by the error event. Stable taxonomy the client maps to
// friendly messages; SynthesisError never surfaces as a hard failure.
const (
	CodeTranscriptionError  = "TRANSCRIPTION_ERROR"
	CodeCompletionError     = "COMPLETION_ERROR"
	CodeSynthesisError      = "SYNTHESIS_ERROR"
	CodeTimeoutError        = "TIMEOUT_ERROR"
	CodeMalformedEventError = "MALFORMED_EVENT"
	CodeTurnConflictError   = "TURN_IN_PROGRESS"
	CodeSessionExpiredError = "SESSION_EXPIRED"
)

// NewStateEvent builds the state event emitted on every transition.
func NewStateEvent(turnID string, state TurnState) *ServerEvent {
	return &ServerEvent{
		Type:      EventState,
		TurnID:    turnID,
		TurnState: state,
		Timestamp: time.Now(),
	}
}

// NewErrorEvent builds an error event with a stable code.
func NewErrorEvent(code, message, turnID string) *ServerEvent {
	return &ServerEvent{
		Type:      EventError,
		Code:      code,
		Message:   message,
		TurnID:    turnID,
		Timestamp: time.Now(),
	}
}
