package types

// CompletionRequest is the ready-to-send context the mode router builds for
// the completion adapter: system prompt for the session's mode, bounded
// history, and the new utterance.
type CompletionRequest struct {
	SystemPrompt string         `json:"system_prompt"`
	History      []HistoryEntry `json:"history"`
	Utterance    string         `json:"utterance"`
	MaxTokens    int            `json:"max_tokens"`
}

// Classification is the lightweight category guess for one utterance.
// SuggestedMode is a recommendation only; mode changes are always explicit
// client-initiated events.
type Classification struct {
	Category      string `json:"category"`
	SuggestedMode Mode   `json:"suggested_mode,omitempty"`
}
