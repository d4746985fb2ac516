package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and stable wire codes throughout the system
var (
	ErrInvalidClientID   = errors.New("client ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidEventType  = errors.New("invalid event type")
	ErrInvalidInputKind  = errors.New("input kind must be 'audio' or 'text'")
	ErrInvalidMode       = errors.New("mode must be 'tutor', 'friend' or 'hybrid'")
	ErrMissingTurnID     = errors.New("event requires turn_id")
	ErrEmptyContent      = errors.New("text event requires non-empty content")
	ErrContentTooLarge   = errors.New("text content exceeds 8KB limit")
	ErrEmptyAudioChunk   = errors.New("audio-chunk event requires data")
	ErrAudioChunkTooLong = errors.New("audio chunk exceeds 64KB limit")
)
