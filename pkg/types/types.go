package types

import (
	"time"
)

// Mode identifies the conversational persona governing prompt selection and
// safety constraints. Represented as a tagged string rather than a hierarchy:
// per-mode differences are data looked up by the mode router.
type Mode string

const (
	ModeTutor  Mode = "tutor"
	ModeFriend Mode = "friend"
	ModeHybrid Mode = "hybrid"
)

// DefaultMode is applied to fresh sessions and after a session expires.
const DefaultMode = ModeFriend

// IsValid reports whether the mode is one of the three known personas.
func (m Mode) IsValid() bool {
	switch m {
	case ModeTutor, ModeFriend, ModeHybrid:
		return true
	default:
		return false
	}
}

// TurnState tracks the lifecycle of a single conversational turn.
// Idle is both the initial and terminal-success state; Failed is transient
// and always auto-resets to Idle after the failure event is emitted.
type TurnState string

const (
	TurnStateIdle         TurnState = "idle"
	TurnStateCapturing    TurnState = "capturing"
	TurnStateTranscribing TurnState = "transcribing"
	TurnStateReasoning    TurnState = "reasoning"
	TurnStateSynthesizing TurnState = "synthesizing"
	TurnStateDelivering   TurnState = "delivering"
	TurnStateFailed       TurnState = "failed"
)

// InputKind distinguishes audio turns (which transcribe and synthesize) from
// text turns (which skip both).
type InputKind string

const (
	InputKindAudio InputKind = "audio"
	InputKindText  InputKind = "text"
)

// ConnectionState tracks the logical channel for a session, independent of
// how many times the physical transport has reconnected.
type ConnectionState string

const (
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateExpired      ConnectionState = "expired"
)

// HistoryEntry is one bounded-history element used as LLM context.
// FUNCTIONAL DISCOVERY: Token count stored at append time so truncation does
// not re-estimate the whole history on every turn
type HistoryEntry struct {
	Role       string    `json:"role"` // "user" or "assistant"
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session is the logical client pairing, stable across reconnects within the
// grace window. Owned exclusively by the session registry; mutated only by
// the turn machine belonging to it.
type Session struct {
	ID              string          `json:"id"`
	ClientID        string          `json:"client_id"`
	Mode            Mode            `json:"mode"`
	History         []HistoryEntry  `json:"history"`
	ConnectionState ConnectionState `json:"connection_state"`
	CreatedAt       time.Time       `json:"created_at"`
	LastActivityAt  time.Time       `json:"last_activity_at"`
	DisconnectedAt  time.Time       `json:"disconnected_at,omitempty"`
}

// Turn is one user-input-to-response cycle. Raw audio is owned by the frame
// buffer while the turn is open and discarded on completion; it is never part
// of this struct so it cannot leak into logs or stores.
type Turn struct {
	ID           string    `json:"id"`
	InputKind    InputKind `json:"input_kind"`
	State        TurnState `json:"state"`
	Transcript   string    `json:"transcript,omitempty"`
	ResponseText string    `json:"response_text,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
}
