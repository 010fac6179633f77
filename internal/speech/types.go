package speech

import (
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/interview-assistant/internal/audio"
	"github.com/lexiqai/interview-assistant/internal/stt"
)

var (
	// ErrNoEngine is returned when the selected engine is not available in this environment
	ErrNoEngine = errors.New("speech engine not available")

	// ErrClosed is returned by operations on a closed controller
	ErrClosed = errors.New("speech controller closed")
)

// Target is the text field bound to the microphone
type Target string

const (
	TargetNone     Target = ""
	TargetQuestion Target = "question"
	TargetAnswer   Target = "answer"
)

// ParseTarget validates a listening target name
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetQuestion, TargetAnswer:
		return Target(s), nil
	}
	return TargetNone, fmt.Errorf("unknown listening target %q", s)
}

func (t Target) valid() bool {
	return t == TargetQuestion || t == TargetAnswer
}

// EngineKind selects the transcription engine
type EngineKind string

const (
	EngineLocal    EngineKind = "local"
	EngineRealtime EngineKind = "realtime"
)

// ParseEngineKind validates an engine name
func ParseEngineKind(s string) (EngineKind, error) {
	switch EngineKind(s) {
	case EngineLocal, EngineRealtime:
		return EngineKind(s), nil
	}
	return "", fmt.Errorf("unknown speech engine %q", s)
}

// LanguageMode selects the recognition language
type LanguageMode string

const (
	LanguagePrimary   LanguageMode = "primary"
	LanguageSecondary LanguageMode = "secondary"
	LanguageMixed     LanguageMode = "mixed"
)

// ParseLanguageMode validates a language mode name
func ParseLanguageMode(s string) (LanguageMode, error) {
	switch LanguageMode(s) {
	case LanguagePrimary, LanguageSecondary, LanguageMixed:
		return LanguageMode(s), nil
	}
	return "", fmt.Errorf("unknown language mode %q", s)
}

// LocalEngine is the continuous recognizer engine. Its language can only
// change between streams.
type LocalEngine interface {
	stt.Engine
	SetLanguage(language string, mixed bool)
	Interrupt()
}

// Engines builds the controller's engines around the callbacks it supplies.
// A nil constructor marks the engine as unavailable.
type Engines struct {
	Local    func(stt.Callbacks) LocalEngine
	Realtime func(stt.Callbacks) stt.Engine
}

// Options holds controller behavior
type Options struct {
	Engine       EngineKind
	LanguageMode LanguageMode

	// BCP-47 tags for the two configured languages
	PrimaryLanguage   string
	SecondaryLanguage string

	Audio      audio.Config
	SampleRate int

	HandoffDelay   time.Duration // Delay before a local engine start
	PauseLineBreak time.Duration // Gap between finals that starts a new line

	RealtimeModel          string
	RealtimePrompt         string
	RealtimeNoiseReduction string
	RealtimeSilence        time.Duration

	Preference PreferenceConfig
}

// DefaultOptions returns the controller defaults
func DefaultOptions() Options {
	return Options{
		Engine:                 EngineRealtime,
		LanguageMode:           LanguagePrimary,
		PrimaryLanguage:        "zh-TW",
		SecondaryLanguage:      "en-US",
		Audio:                  audio.DefaultConfig(),
		SampleRate:             16000,
		HandoffDelay:           200 * time.Millisecond,
		PauseLineBreak:         1100 * time.Millisecond,
		RealtimeModel:          "gpt-4o-mini-transcribe",
		RealtimeNoiseReduction: "near_field",
		RealtimeSilence:        1200 * time.Millisecond,
		Preference:             DefaultPreferenceConfig(),
	}
}

// Sink receives controller state changes. Methods are called from the
// controller goroutine in order and must not call back into the Controller.
type Sink interface {
	FieldChanged(target Target, text string)
	InterimChanged(text string)
	ListeningChanged(target Target)
	WarningChanged(warning string)
	EngineStatusChanged(engine EngineKind, state stt.State)
}

type nopSink struct{}

func (nopSink) FieldChanged(Target, string) {}
func (nopSink) InterimChanged(string) {}
func (nopSink) ListeningChanged(Target) {}
func (nopSink) WarningChanged(string) {}
func (nopSink) EngineStatusChanged(EngineKind, stt.State) {}

// Snapshot is a point-in-time copy of controller state
type Snapshot struct {
	SessionID         string       `json:"sessionId"`
	Engine            EngineKind   `json:"engine"`
	Target            Target       `json:"target"`
	Question          string       `json:"question"`
	Answer            string       `json:"answer"`
	Interim           string       `json:"interim"`
	Warning           string       `json:"warning"`
	EngineStatus      stt.State    `json:"engineStatus"`
	LanguageMode      LanguageMode `json:"languageMode"`
	PreferredLanguage string       `json:"preferredLanguage"`
	Audio             audio.Config `json:"audio"`
}
