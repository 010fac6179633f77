package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.STTEngine != "realtime" {
		t.Errorf("Expected default STTEngine 'realtime', got '%s'", cfg.STTEngine)
	}

	if cfg.LanguageMode != "primary" {
		t.Errorf("Expected default LanguageMode 'primary', got '%s'", cfg.LanguageMode)
	}

	if cfg.PrimaryLanguage != "zh-TW" || cfg.SecondaryLanguage != "en-US" {
		t.Errorf("Expected default languages zh-TW/en-US, got %s/%s", cfg.PrimaryLanguage, cfg.SecondaryLanguage)
	}

	if cfg.RealtimeModel != "gpt-4o-mini-transcribe" {
		t.Errorf("Expected default RealtimeModel 'gpt-4o-mini-transcribe', got '%s'", cfg.RealtimeModel)
	}

	if cfg.RealtimeSilence() != 1200*time.Millisecond {
		t.Errorf("Expected default RealtimeSilence 1.2s, got %s", cfg.RealtimeSilence())
	}

	if cfg.SessionTimeout() != 12*time.Second {
		t.Errorf("Expected default SessionTimeout 12s, got %s", cfg.SessionTimeout())
	}

	if !cfg.AutoGainControl || cfg.NoiseSuppression {
		t.Error("Expected gain control on and noise suppression off by default")
	}

	if cfg.AudioSampleRate != 16000 {
		t.Errorf("Expected default AudioSampleRate 16000, got %d", cfg.AudioSampleRate)
	}

	if cfg.RecordsStorageKey != "interview-assistant.records.v1" {
		t.Errorf("Expected default RecordsStorageKey, got '%s'", cfg.RecordsStorageKey)
	}

	if len(cfg.ICEServers) != 1 {
		t.Errorf("Expected one default ICE server, got %v", cfg.ICEServers)
	}

	if cfg.CircuitBreakerReset() != 30*time.Second {
		t.Errorf("Expected default CircuitBreakerReset 30s, got %s", cfg.CircuitBreakerReset())
	}

	if cfg.LocalBaseURL() != "http://localhost:8080" {
		t.Errorf("Expected LocalBaseURL on PORT, got '%s'", cfg.LocalBaseURL())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STT_ENGINE", "local")
	t.Setenv("LANGUAGE_MODE", "mixed")
	t.Setenv("API_BASE_URL", "https://api.example.com")
	t.Setenv("ICE_SERVERS", "stun:a.example.com:3478,stun:b.example.com:3478")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected Port '9090', got '%s'", cfg.Port)
	}
	if cfg.STTEngine != "local" {
		t.Errorf("Expected STTEngine 'local', got '%s'", cfg.STTEngine)
	}
	if cfg.LanguageMode != "mixed" {
		t.Errorf("Expected LanguageMode 'mixed', got '%s'", cfg.LanguageMode)
	}
	if cfg.LocalBaseURL() != "https://api.example.com" {
		t.Errorf("Expected LocalBaseURL from API_BASE_URL, got '%s'", cfg.LocalBaseURL())
	}
	if len(cfg.ICEServers) != 2 {
		t.Errorf("Expected 2 ICE servers, got %v", cfg.ICEServers)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"engine", "STT_ENGINE", "browser"},
		{"language mode", "LANGUAGE_MODE", "auto"},
		{"noise reduction", "REALTIME_NOISE_REDUCTION", "studio"},
		{"sample rate", "AUDIO_SAMPLE_RATE", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("INTERVIEW_TEST_VALUE", "set")

	if got := GetEnv("INTERVIEW_TEST_VALUE", "fallback"); got != "set" {
		t.Errorf("Expected 'set', got '%s'", got)
	}
	if got := GetEnv("INTERVIEW_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("Expected 'fallback', got '%s'", got)
	}
}
