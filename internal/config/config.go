package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings
// coordinator; clean separation between configuration and business logic
type Config struct {
	HTTP         *HTTPConfig         `json:"http"`
	Orchestrator *OrchestratorConfig `json:"orchestrator"`
	Audio        *AudioConfig        `json:"audio"`
	Mode         *ModeConfig         `json:"mode"`
	History      *HistoryConfig      `json:"history"`
	Gemini       *GeminiConfig       `json:"gemini"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// OrchestratorConfig bounds turn stages and session lifecycle.
type OrchestratorConfig struct {
	TranscribeTimeout time.Duration `json:"transcribe_timeout"`
	ReasonTimeout     time.Duration `json:"reason_timeout"`
	SynthesizeTimeout time.Duration `json:"synthesize_timeout"`
	EventBuffer       int           `json:"event_buffer"`
	GraceWindow       time.Duration `json:"grace_window"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	SweepInterval     time.Duration `json:"sweep_interval"`
}

// AudioConfig controls utterance endpointing.
type AudioConfig struct {
	SampleRate      int           `json:"sample_rate"`
	SilenceRMS      int           `json:"silence_rms"`
	TrailingSilence time.Duration `json:"trailing_silence"`
	MaxUtterance    time.Duration `json:"max_utterance"`
}

// ModeConfig bounds the conversation context handed to the model.
type ModeConfig struct {
	HistoryTokens  int `json:"history_tokens"`
	HistoryEntries int `json:"history_entries"`
}

// HistoryConfig selects and configures the history store backend.
type HistoryConfig struct {
	Store      string        `json:"store"` // memory, redis, sqlite
	SQLitePath string        `json:"sqlite_path"`
	RedisAddr  string        `json:"redis_addr"`
	RedisTTL   time.Duration `json:"redis_ttl"`
}

// GeminiConfig holds API credentials and per-stage model selection.
type GeminiConfig struct {
	APIKey             string `json:"api_key"`
	CompletionModel    string `json:"completion_model"`
	TranscriptionModel string `json:"transcription_model"`
	SynthesisModel     string `json:"synthesis_model"`
	Voice              string `json:"voice"`
}

// FUNCTIONAL DISCOVERY: Defaults sized for a single companion device serving
// one child: short stage timeouts keep perceived latency low
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		Orchestrator: &OrchestratorConfig{
			TranscribeTimeout: 15 * time.Second,
			ReasonTimeout:     30 * time.Second,
			SynthesizeTimeout: 15 * time.Second,
			EventBuffer:       256,
			GraceWindow:       2 * time.Minute,
			IdleTimeout:       30 * time.Minute,
			SweepInterval:     15 * time.Second,
		},
		Audio: &AudioConfig{
			SampleRate:      16000,
			SilenceRMS:      500,
			TrailingSilence: 900 * time.Millisecond,
			MaxUtterance:    30 * time.Second,
		},
		Mode: &ModeConfig{
			HistoryTokens:  2048,
			HistoryEntries: 20,
		},
		History: &HistoryConfig{
			Store:      "memory",
			SQLitePath: "./data/companion.db",
			RedisAddr:  "localhost:6379",
			RedisTTL:   7 * 24 * time.Hour,
		},
		Gemini: &GeminiConfig{
			CompletionModel:    "gemini-2.0-flash",
			TranscriptionModel: "gemini-2.0-flash",
			SynthesisModel:     "gemini-2.5-flash-preview-tts",
			Voice:              "Kore",
		},
	}
}

// Validate ensures the configuration can run.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.Orchestrator == nil {
		return fmt.Errorf("orchestrator configuration is required")
	}
	if c.Orchestrator.TranscribeTimeout <= 0 || c.Orchestrator.ReasonTimeout <= 0 || c.Orchestrator.SynthesizeTimeout <= 0 {
		return fmt.Errorf("stage timeouts must be positive")
	}
	if c.Orchestrator.EventBuffer <= 0 {
		return fmt.Errorf("event buffer must be positive")
	}
	if c.Orchestrator.GraceWindow <= 0 {
		return fmt.Errorf("grace window must be positive")
	}
	if c.Orchestrator.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.Orchestrator.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	if c.Audio == nil {
		return fmt.Errorf("audio configuration is required")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample rate must be positive")
	}
	if c.Audio.SilenceRMS < 0 {
		return fmt.Errorf("silence RMS floor cannot be negative")
	}
	if c.Audio.TrailingSilence <= 0 {
		return fmt.Errorf("trailing silence window must be positive")
	}
	if c.Audio.MaxUtterance <= 0 {
		return fmt.Errorf("max utterance duration must be positive")
	}

	if c.Mode == nil {
		return fmt.Errorf("mode configuration is required")
	}
	if c.Mode.HistoryTokens <= 0 || c.Mode.HistoryEntries <= 0 {
		return fmt.Errorf("history bounds must be positive")
	}

	if c.History == nil {
		return fmt.Errorf("history configuration is required")
	}
	switch c.History.Store {
	case "memory":
	case "redis":
		if c.History.RedisAddr == "" {
			return fmt.Errorf("redis history store requires an address")
		}
	case "sqlite":
		if c.History.SQLitePath == "" {
			return fmt.Errorf("sqlite history store requires a path")
		}
	default:
		return fmt.Errorf("unknown history store: %s", c.History.Store)
	}

	if c.Gemini == nil {
		return fmt.Errorf("gemini configuration is required")
	}

	return nil
}

// LoadFromEnv builds configuration from environment variables over defaults.
// FUNCTIONAL DISCOVERY: Environment variable configuration enables
// containerized deployments and configuration management systems
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("COMPANION_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("COMPANION_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if v := os.Getenv("COMPANION_TRANSCRIBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Orchestrator.TranscribeTimeout = d
		}
	}
	if v := os.Getenv("COMPANION_REASON_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Orchestrator.ReasonTimeout = d
		}
	}
	if v := os.Getenv("COMPANION_SYNTHESIZE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Orchestrator.SynthesizeTimeout = d
		}
	}
	if v := os.Getenv("COMPANION_GRACE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Orchestrator.GraceWindow = d
		}
	}
	if v := os.Getenv("COMPANION_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Orchestrator.IdleTimeout = d
		}
	}

	if v := os.Getenv("COMPANION_AUDIO_SILENCE_RMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Audio.SilenceRMS = n
		}
	}
	if v := os.Getenv("COMPANION_AUDIO_TRAILING_SILENCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Audio.TrailingSilence = d
		}
	}
	if v := os.Getenv("COMPANION_AUDIO_MAX_UTTERANCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Audio.MaxUtterance = d
		}
	}

	if v := os.Getenv("COMPANION_HISTORY_STORE"); v != "" {
		config.History.Store = v
	}
	if v := os.Getenv("COMPANION_HISTORY_SQLITE_PATH"); v != "" {
		config.History.SQLitePath = v
	}
	if v := os.Getenv("COMPANION_HISTORY_REDIS_ADDR"); v != "" {
		config.History.RedisAddr = v
	}
	if v := os.Getenv("COMPANION_HISTORY_REDIS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.History.RedisTTL = d
		}
	}

	if v := os.Getenv("COMPANION_GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("COMPANION_GEMINI_COMPLETION_MODEL"); v != "" {
		config.Gemini.CompletionModel = v
	}
	if v := os.Getenv("COMPANION_GEMINI_TRANSCRIPTION_MODEL"); v != "" {
		config.Gemini.TranscriptionModel = v
	}
	if v := os.Getenv("COMPANION_GEMINI_SYNTHESIS_MODEL"); v != "" {
		config.Gemini.SynthesisModel = v
	}
	if v := os.Getenv("COMPANION_GEMINI_VOICE"); v != "" {
		config.Gemini.Voice = v
	}

	return config
}

// ConfigFile represents the JSON structure for file-based configuration.
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration
// strings like "15s" in config files
type ConfigFile struct {
	HTTP         *HTTPConfigFile         `json:"http"`
	Orchestrator *OrchestratorConfigFile `json:"orchestrator"`
	Audio        *AudioConfigFile        `json:"audio"`
	Mode         *ModeConfig             `json:"mode"`
	History      *HistoryConfigFile      `json:"history"`
	Gemini       *GeminiConfig           `json:"gemini"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type OrchestratorConfigFile struct {
	TranscribeTimeout string `json:"transcribe_timeout"`
	ReasonTimeout     string `json:"reason_timeout"`
	SynthesizeTimeout string `json:"synthesize_timeout"`
	EventBuffer       int    `json:"event_buffer"`
	GraceWindow       string `json:"grace_window"`
	IdleTimeout       string `json:"idle_timeout"`
	SweepInterval     string `json:"sweep_interval"`
}

type AudioConfigFile struct {
	SampleRate      int    `json:"sample_rate"`
	SilenceRMS      int    `json:"silence_rms"`
	TrailingSilence string `json:"trailing_silence"`
	MaxUtterance    string `json:"max_utterance"`
}

type HistoryConfigFile struct {
	Store      string `json:"store"`
	SQLitePath string `json:"sqlite_path"`
	RedisAddr  string `json:"redis_addr"`
	RedisTTL   string `json:"redis_ttl"`
}

// setDuration parses a duration string into dst, ignoring empty or invalid
// values so partial config files fall back to defaults.
func setDuration(dst *time.Duration, val string) {
	if val == "" {
		return
	}
	if d, err := time.ParseDuration(val); err == nil {
		*dst = d
	}
}

// LoadFromFile loads configuration from a JSON file over defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		setDuration(&config.HTTP.ReadTimeout, configFile.HTTP.ReadTimeout)
		setDuration(&config.HTTP.WriteTimeout, configFile.HTTP.WriteTimeout)
	}

	if configFile.Orchestrator != nil {
		if configFile.Orchestrator.EventBuffer > 0 {
			config.Orchestrator.EventBuffer = configFile.Orchestrator.EventBuffer
		}
		setDuration(&config.Orchestrator.TranscribeTimeout, configFile.Orchestrator.TranscribeTimeout)
		setDuration(&config.Orchestrator.ReasonTimeout, configFile.Orchestrator.ReasonTimeout)
		setDuration(&config.Orchestrator.SynthesizeTimeout, configFile.Orchestrator.SynthesizeTimeout)
		setDuration(&config.Orchestrator.GraceWindow, configFile.Orchestrator.GraceWindow)
		setDuration(&config.Orchestrator.IdleTimeout, configFile.Orchestrator.IdleTimeout)
		setDuration(&config.Orchestrator.SweepInterval, configFile.Orchestrator.SweepInterval)
	}

	if configFile.Audio != nil {
		if configFile.Audio.SampleRate > 0 {
			config.Audio.SampleRate = configFile.Audio.SampleRate
		}
		if configFile.Audio.SilenceRMS > 0 {
			config.Audio.SilenceRMS = configFile.Audio.SilenceRMS
		}
		setDuration(&config.Audio.TrailingSilence, configFile.Audio.TrailingSilence)
		setDuration(&config.Audio.MaxUtterance, configFile.Audio.MaxUtterance)
	}

	if configFile.Mode != nil {
		if configFile.Mode.HistoryTokens > 0 {
			config.Mode.HistoryTokens = configFile.Mode.HistoryTokens
		}
		if configFile.Mode.HistoryEntries > 0 {
			config.Mode.HistoryEntries = configFile.Mode.HistoryEntries
		}
	}

	if configFile.History != nil {
		if configFile.History.Store != "" {
			config.History.Store = configFile.History.Store
		}
		if configFile.History.SQLitePath != "" {
			config.History.SQLitePath = configFile.History.SQLitePath
		}
		if configFile.History.RedisAddr != "" {
			config.History.RedisAddr = configFile.History.RedisAddr
		}
		setDuration(&config.History.RedisTTL, configFile.History.RedisTTL)
	}

	if configFile.Gemini != nil {
		if configFile.Gemini.APIKey != "" {
			config.Gemini.APIKey = configFile.Gemini.APIKey
		}
		if configFile.Gemini.CompletionModel != "" {
			config.Gemini.CompletionModel = configFile.Gemini.CompletionModel
		}
		if configFile.Gemini.TranscriptionModel != "" {
			config.Gemini.TranscriptionModel = configFile.Gemini.TranscriptionModel
		}
		if configFile.Gemini.SynthesisModel != "" {
			config.Gemini.SynthesisModel = configFile.Gemini.SynthesisModel
		}
		if configFile.Gemini.Voice != "" {
			config.Gemini.Voice = configFile.Gemini.Voice
		}
	}

	// ARCHITECTURAL DISCOVERY: Validate after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration: file > environment > defaults.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
		// Silently ignore file errors - environment/defaults still work
	}

	return config
}
