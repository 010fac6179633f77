package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lexiqai/interview-assistant/internal/config"
	"github.com/lexiqai/interview-assistant/internal/records"
	"github.com/lexiqai/interview-assistant/internal/resilience"
	"github.com/lexiqai/interview-assistant/internal/speech"
)

func TestControllerOptions(t *testing.T) {
	cfg := &config.Config{
		STTEngine:              "local",
		LanguageMode:           "mixed",
		PrimaryLanguage:        "zh-TW",
		SecondaryLanguage:      "en-US",
		AutoGainControl:        false,
		NoiseSuppression:       true,
		AudioSampleRate:        24000,
		RealtimeModel:          "gpt-4o-transcribe",
		RealtimeNoiseReduction: "far_field",
		RealtimeSilenceMs:      800,
	}

	opts := controllerOptions(cfg)
	if opts.Engine != speech.EngineLocal {
		t.Errorf("Expected local engine, got %q", opts.Engine)
	}
	if opts.LanguageMode != speech.LanguageMixed {
		t.Errorf("Expected mixed mode, got %q", opts.LanguageMode)
	}
	if opts.Audio.AutoGainControl || !opts.Audio.NoiseSuppression {
		t.Errorf("Unexpected audio config %+v", opts.Audio)
	}
	if opts.SampleRate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", opts.SampleRate)
	}
	if opts.RealtimeSilence != 800*time.Millisecond {
		t.Errorf("Expected 800ms silence, got %v", opts.RealtimeSilence)
	}
	if opts.HandoffDelay != speech.DefaultOptions().HandoffDelay {
		t.Errorf("Expected default handoff delay, got %v", opts.HandoffDelay)
	}
}

func TestReadinessChecks(t *testing.T) {
	store, err := records.OpenSQLite(filepath.Join(t.TempDir(), "records.db"), "test")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	cfg := &config.Config{STTEngine: "realtime", OpenAIAPIKey: "sk-test"}
	checks := readinessChecks(cfg, store)

	if _, ok := checks["deepgram"]; ok {
		t.Error("Expected no deepgram check for the realtime engine")
	}
	if ok, err := checks["records"](context.Background()); !ok || err != nil {
		t.Errorf("Expected records check to pass, got %v %v", ok, err)
	}
	if ok, _ := checks["openai"](context.Background()); !ok {
		t.Error("Expected openai check to pass with a key")
	}
	if ok, err := checks["gemini"](context.Background()); ok || err == nil {
		t.Error("Expected gemini check to fail without a key")
	}
}

func TestReadinessChecks_OpenBreaker(t *testing.T) {
	store, err := records.OpenSQLite(filepath.Join(t.TempDir(), "records.db"), "test")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	breaker := resilience.NewCircuitBreaker("analysis_test", 2, time.Minute)
	checks := readinessChecks(&config.Config{}, store, breaker)

	check, ok := checks["analysis_test_circuit"]
	if !ok {
		t.Fatal("Expected a check for the breaker")
	}
	if ok, err := check(context.Background()); !ok || err != nil {
		t.Errorf("Expected closed breaker to be ready, got %v %v", ok, err)
	}

	breaker.RecordResult(false)
	breaker.RecordResult(false)

	ok, err = check(context.Background())
	if ok || err == nil {
		t.Fatal("Expected open breaker to fail readiness")
	}
	if !strings.Contains(err.Error(), "2 of 2 requests failed") {
		t.Errorf("Expected failure stats in message, got %q", err.Error())
	}
}
