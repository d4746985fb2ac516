// Package adapters binds the orchestrator's stage interfaces to Google's
// Gemini API. Each stage call is synchronous and context-bounded; the turn
// machine supplies deadlines and runs the calls off its own goroutine.
package adapters

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"companion/pkg/types"
)

// Config holds Gemini model selection for the three turn stages.
type Config struct {
	APIKey             string
	CompletionModel    string
	TranscriptionModel string
	SynthesisModel     string
	Voice              string
}

// DefaultConfig returns the model lineup for a conversational companion.
func DefaultConfig() Config {
	return Config{
		CompletionModel:    "gemini-2.0-flash",
		TranscriptionModel: "gemini-2.0-flash",
		SynthesisModel:     "gemini-2.5-flash-preview-tts",
		Voice:              "Kore",
	}
}

// Client implements the Transcriber, Completer, and Synthesizer stage
// interfaces on one shared Gemini client.
type Client struct {
	client *genai.Client
	cfg    Config
}

// NewClient creates a Gemini stage client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	defaults := DefaultConfig()
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = defaults.CompletionModel
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = defaults.TranscriptionModel
	}
	if cfg.SynthesisModel == "" {
		cfg.SynthesisModel = defaults.SynthesisModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaults.Voice
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		client: client,
		cfg:    cfg,
	}, nil
}

// Transcribe converts a PCM16 utterance into text.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText("Transcribe this audio exactly as spoken. Reply with only the transcript text."),
			genai.NewPartFromBytes(audio, "audio/pcm;rate=16000"),
		}, genai.RoleUser),
	}

	result, err := c.client.Models.GenerateContent(ctx, c.cfg.TranscriptionModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Gemini transcription failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("Gemini returned an empty transcript")
	}
	return text, nil
}

// Complete generates the assistant reply for a mode-shaped request.
func (c *Client) Complete(ctx context.Context, req *types.CompletionRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, entry := range req.History {
		var role genai.Role = genai.RoleUser
		if entry.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(entry.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Utterance, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.cfg.CompletionModel, contents, config)
	if err != nil {
		return "", fmt.Errorf("Gemini completion failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("Gemini returned an empty response")
	}
	return text, nil
}

// Synthesize renders the reply text as speech audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: c.cfg.Voice,
				},
			},
		},
	}

	result, err := c.client.Models.GenerateContent(ctx, c.cfg.SynthesisModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini synthesis failed: %w", err)
	}

	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, fmt.Errorf("Gemini returned no audio data")
}
