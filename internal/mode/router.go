package mode

import (
	"companion/pkg/interfaces"
	"companion/pkg/types"
)

// Router maps (mode, utterance, history) to a ready-to-send completion
// request and optionally recommends a mode change. Pure function of its
// inputs: no side effects, no session mutation.
type Router struct {
	classifier     interfaces.Classifier
	historyTokens  int // token budget for bounded history
	historyEntries int // entry cap applied before the token budget
}

// NewRouter creates a mode router. A nil classifier disables mode-switch
// suggestions without disabling context building.
func NewRouter(classifier interfaces.Classifier, historyTokens, historyEntries int) *Router {
	if historyTokens <= 0 {
		historyTokens = 2048
	}
	if historyEntries <= 0 {
		historyEntries = 20
	}
	return &Router{
		classifier:     classifier,
		historyTokens:  historyTokens,
		historyEntries: historyEntries,
	}
}

// BuildContext selects the mode context for the session, truncates history
// to bound token usage, and appends the new utterance.
// FUNCTIONAL DISCOVERY: History is copied before truncation so the session's
// own slice is never aliased by an in-flight completion call
func (r *Router) BuildContext(session *types.Session, utterance string) (*types.CompletionRequest, error) {
	if utterance == "" {
		return nil, ErrEmptyUtterance
	}

	modeCtx, err := Lookup(session.Mode)
	if err != nil {
		return nil, err
	}

	history := make([]types.HistoryEntry, len(session.History))
	copy(history, session.History)
	history = TruncateHistory(history, r.historyTokens, r.historyEntries)

	return &types.CompletionRequest{
		SystemPrompt: modeCtx.SystemPrompt,
		History:      history,
		Utterance:    utterance,
		MaxTokens:    modeCtx.MaxTokens,
	}, nil
}

// Greeting returns the default greeting for a mode, used on first attach of
// a brand-new session.
func (r *Router) Greeting(m types.Mode) string {
	modeCtx, err := Lookup(m)
	if err != nil {
		return ""
	}
	return modeCtx.Greeting
}

// SuggestModeSwitch classifies the utterance and recommends a different mode
// when the category clearly points elsewhere. Returns empty when no switch
// is recommended. Recommendation only - mode changes are always explicit
// client-initiated events.
func (r *Router) SuggestModeSwitch(current types.Mode, utterance string) types.Mode {
	if r.classifier == nil || utterance == "" {
		return ""
	}

	result := r.classifier.ClassifyUtterance(utterance)
	if result.SuggestedMode == "" || result.SuggestedMode == current {
		return ""
	}
	// FUNCTIONAL DISCOVERY: Hybrid already covers both behaviors; bouncing
	// hybrid users between tutor and friend would be noise
	if current == types.ModeHybrid {
		return ""
	}
	return result.SuggestedMode
}
