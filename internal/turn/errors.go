package turn

import "errors"

// Turn machine error types
var (
	ErrMachineRunning = errors.New("turn machine is already running")
	ErrMachineStopped = errors.New("turn machine is stopped")
	ErrEventQueueFull = errors.New("session event queue is full")
)
