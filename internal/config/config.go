package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the interview assistant service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Base URL of the issuance and analyze endpoints used by speech sessions.
	// Empty means this service serves them itself on PORT.
	APIBaseURL    string `envconfig:"API_BASE_URL" default:""`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:""` // CORS origin; empty allows any

	// OpenAI realtime transcription
	OpenAIAPIKey           string   `envconfig:"OPENAI_API_KEY" default:""` // Required by /api/realtime/session
	OpenAIRealtimeURL      string   `envconfig:"OPENAI_REALTIME_URL" default:"https://api.openai.com/v1/realtime?intent=transcription"`
	OpenAISessionsURL      string   `envconfig:"OPENAI_SESSIONS_URL" default:"https://api.openai.com/v1/realtime/transcription_sessions"`
	RealtimeModel          string   `envconfig:"REALTIME_MODEL" default:"gpt-4o-mini-transcribe"`
	RealtimeNoiseReduction string   `envconfig:"REALTIME_NOISE_REDUCTION" default:"near_field"` // near_field, far_field
	RealtimeSilenceMs      int      `envconfig:"REALTIME_SILENCE_MS" default:"1200"`
	RealtimePrompt         string   `envconfig:"REALTIME_PROMPT" default:""`
	RealtimeSessionTimeout int      `envconfig:"REALTIME_SESSION_TIMEOUT" default:"12"` // seconds
	ICEServers             []string `envconfig:"ICE_SERVERS" default:"stun:stun.l.google.com:19302"`

	// Deepgram local recognizer; the local engine is unavailable without a key
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base

	// Gemini analysis; /api/gemini/analyze is disabled without a key
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`

	// Audio capture
	FFmpegCommand    string `envconfig:"FFMPEG_COMMAND" default:"ffmpeg"`
	AudioInputFormat string `envconfig:"AUDIO_INPUT_FORMAT" default:"pulse"`   // ffmpeg -f value: pulse, alsa, avfoundation, dshow
	AudioInputDevice string `envconfig:"AUDIO_INPUT_DEVICE" default:"default"` // ffmpeg -i value
	AudioSampleRate  int    `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`

	// Speech session defaults
	STTEngine         string `envconfig:"STT_ENGINE" default:"realtime"`      // local, realtime
	LanguageMode      string `envconfig:"LANGUAGE_MODE" default:"primary"`    // primary, secondary, mixed
	PrimaryLanguage   string `envconfig:"PRIMARY_LANGUAGE" default:"zh-TW"`   // BCP-47
	SecondaryLanguage string `envconfig:"SECONDARY_LANGUAGE" default:"en-US"` // BCP-47
	AutoGainControl   bool   `envconfig:"AUTO_GAIN_CONTROL" default:"true"`
	NoiseSuppression  bool   `envconfig:"NOISE_SUPPRESSION" default:"false"`

	// Interview records
	RecordsDBPath     string `envconfig:"RECORDS_DB_PATH" default:"interview_records.db"`
	RecordsStorageKey string `envconfig:"RECORDS_STORAGE_KEY" default:"interview-assistant.records.v1"`

	// Resilience configuration
	AnalysisRetryAttempts      int `envconfig:"ANALYSIS_RETRY_ATTEMPTS" default:"2"`        // Attempts per analysis, including the first
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"500"`        // Initial backoff in milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated values and ranges
func (c *Config) Validate() error {
	switch c.STTEngine {
	case "local", "realtime":
	default:
		return fmt.Errorf("STT_ENGINE must be local or realtime, got %q", c.STTEngine)
	}
	switch c.LanguageMode {
	case "primary", "secondary", "mixed":
	default:
		return fmt.Errorf("LANGUAGE_MODE must be primary, secondary or mixed, got %q", c.LanguageMode)
	}
	switch c.RealtimeNoiseReduction {
	case "near_field", "far_field":
	default:
		return fmt.Errorf("REALTIME_NOISE_REDUCTION must be near_field or far_field, got %q", c.RealtimeNoiseReduction)
	}
	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if c.PrimaryLanguage == "" || c.SecondaryLanguage == "" {
		return fmt.Errorf("PRIMARY_LANGUAGE and SECONDARY_LANGUAGE are required")
	}
	return nil
}

// RealtimeSilence returns the server VAD silence window
func (c *Config) RealtimeSilence() time.Duration {
	return time.Duration(c.RealtimeSilenceMs) * time.Millisecond
}

// SessionTimeout returns the issuance request timeout
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.RealtimeSessionTimeout) * time.Second
}

// CircuitBreakerReset returns the circuit breaker recovery delay
func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// RetryBackoff returns the initial retry backoff
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// LocalBaseURL is where speech sessions reach the issuance and analyze
// endpoints: APIBaseURL when set, otherwise this service
func (c *Config) LocalBaseURL() string {
	if c.APIBaseURL != "" {
		return c.APIBaseURL
	}
	return "http://localhost:" + c.Port
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
