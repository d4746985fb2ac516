package session

import "errors"

// Session registry error types
var (
	ErrRegistryRunning = errors.New("session registry is already running")
)
