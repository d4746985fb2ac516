package adapters

import (
	"context"
	"testing"

	"companion/pkg/interfaces"
)

// Compile-time checks that the client satisfies every stage interface.
var (
	_ interfaces.Transcriber = (*Client)(nil)
	_ interfaces.Completer   = (*Client)(nil)
	_ interfaces.Synthesizer = (*Client)(nil)
)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Error("Expected error when API key is missing")
	}
}

func TestDefaultConfig_ModelLineup(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.CompletionModel == "" || cfg.TranscriptionModel == "" || cfg.SynthesisModel == "" {
		t.Error("Default config must name a model for every stage")
	}
	if cfg.Voice == "" {
		t.Error("Default config must name a synthesis voice")
	}
}
