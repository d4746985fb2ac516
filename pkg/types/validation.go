package types

import (
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var clientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	maxTextContentBytes = 8192
	maxAudioChunkBytes  = 65536
)

// IsValidClientID checks if a client identity meets format requirements.
// The identity is the device/user pairing key, stable across reconnects.
func IsValidClientID(clientID string) bool {
	if len(clientID) < 1 || len(clientID) > 50 {
		return false
	}
	return clientIDRegex.MatchString(clientID)
}

// Validate ensures the client event is well formed for its type.
// Malformed events are dropped with an error event back to the client;
// they never reach the turn machine.
func (e *ClientEvent) Validate() error {
	switch e.Type {
	case EventStartInput:
		if e.Kind != InputKindAudio && e.Kind != InputKindText {
			return ErrInvalidInputKind
		}
		// FUNCTIONAL DISCOVERY: Mode on start-input is optional; empty means
		// keep the session's current mode
		if e.Mode != "" && !e.Mode.IsValid() {
			return ErrInvalidMode
		}
		return nil

	case EventAudioChunk:
		if e.TurnID == "" {
			return ErrMissingTurnID
		}
		if len(e.Data) == 0 {
			return ErrEmptyAudioChunk
		}
		if len(e.Data) > maxAudioChunkBytes {
			return ErrAudioChunkTooLong
		}
		return nil

	case EventEndOfInput, EventCancel:
		if e.TurnID == "" {
			return ErrMissingTurnID
		}
		return nil

	case EventText:
		if e.TurnID == "" {
			return ErrMissingTurnID
		}
		if e.Content == "" {
			return ErrEmptyContent
		}
		if len(e.Content) > maxTextContentBytes {
			return ErrContentTooLarge
		}
		return nil

	case EventModeSwitch:
		if !e.Mode.IsValid() {
			return ErrInvalidMode
		}
		return nil

	default:
		return ErrInvalidEventType
	}
}
