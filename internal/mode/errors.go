package mode

import "errors"

// Mode router error types
var (
	ErrUnknownMode    = errors.New("unknown conversational mode")
	ErrEmptyUtterance = errors.New("utterance cannot be empty")
)
