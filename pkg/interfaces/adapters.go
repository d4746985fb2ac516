package interfaces

import (
	"context"

	"companion/pkg/types"
)

// External service contracts consumed by the turn machine. Implementations
// live in internal/adapters; tests substitute in-package mocks.
// ARCHITECTURAL DISCOVERY: Narrow single-method interfaces keep the
// orchestrator's job sequencing and state, not signal processing or inference

// Transcriber converts a finalized audio blob into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Completer produces the assistant response for a built completion context.
type Completer interface {
	Complete(ctx context.Context, req *types.CompletionRequest) (string, error)
}

// Synthesizer converts response text into an audio blob. Failure is
// non-fatal: the turn degrades to text-only delivery.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Classifier categorizes an utterance so the mode router can recommend a
// mode switch. It never forces one.
type Classifier interface {
	ClassifyUtterance(text string) types.Classification
}
