package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/interview-assistant/internal/audio"
)

// State is an engine lifecycle state reported through Status
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateListening State = "listening"
	StateStalled   State = "stalled"
	StateError     State = "error"

	// Realtime engine states
	StateConnecting  State = "connecting"
	StateConnected   State = "connected"
	StateChannelOpen State = "data-channel-open"
	StateStopped     State = "stopped"
)

// Status is an engine health update
type Status struct {
	State  State
	Reason string

	// Restart is set when the engine is about to drop its current session and
	// open a new one; consumers should flush pending interim text.
	Restart bool
}

// Callbacks receive engine output. Nil slots are skipped. Callbacks may be
// invoked from engine goroutines and must not block or call back into the engine.
type Callbacks struct {
	OnStatus  func(Status)
	OnInterim func(text string)
	OnFinal   func(text string)
	OnError   func(err error)
}

// EmitStatus calls OnStatus if set
func (c Callbacks) EmitStatus(s Status) {
	if c.OnStatus != nil {
		c.OnStatus(s)
	}
}

// EmitInterim calls OnInterim if set
func (c Callbacks) EmitInterim(text string) {
	if c.OnInterim != nil {
		c.OnInterim(text)
	}
}

// EmitFinal calls OnFinal if set
func (c Callbacks) EmitFinal(text string) {
	if c.OnFinal != nil {
		c.OnFinal(text)
	}
}

// EmitError calls OnError if set
func (c Callbacks) EmitError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

// EngineConfig configures one engine start
type EngineConfig struct {
	Language        string // BCP-47 tag, or "auto"
	Mixed           bool   // Mixed-language mode; biases alternative scoring
	Alternatives    int
	Model           string
	Prompt          string
	NoiseReduction  string
	SilenceDuration time.Duration
	IncludeLogprobs bool
	Audio           audio.Constraints
}

// Engine is a transcription engine driven by the speech controller
type Engine interface {
	Start(ctx context.Context, cfg EngineConfig) error
	// Stop is idempotent and safe to call when never started.
	Stop(ctx context.Context) error
}

// Recognizer error codes
const (
	CodeNoSpeech           = "no-speech"
	CodeAborted            = "aborted"
	CodeAudioCapture       = "audio-capture"
	CodeNotAllowed         = "not-allowed"
	CodeServiceNotAllowed  = "service-not-allowed"
	CodeNetwork            = "network"
	CodeLanguageNotSupport = "language-not-supported"
)

// ErrFatal matches any engine error that must not be retried
var ErrFatal = errors.New("fatal speech engine error")

// Error is a classified engine error
type Error struct {
	Code  string
	Fatal bool
	Err   error
}

// NewError classifies code and wraps err
func NewError(code string, err error) *Error {
	return &Error{Code: code, Fatal: IsFatalCode(code), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports fatal errors as ErrFatal
func (e *Error) Is(target error) bool {
	return target == ErrFatal && e.Fatal
}

// IsFatalCode reports whether a recognizer error code means the user must intervene
func IsFatalCode(code string) bool {
	switch code {
	case CodeNotAllowed, CodeServiceNotAllowed, CodeAudioCapture:
		return true
	}
	return false
}

// IsFatal reports whether err must stop listening instead of triggering a restart
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// CaptureError converts a capture failure into a classified engine error
func CaptureError(err error) *Error {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return NewError(CodeNotAllowed, err)
	case errors.Is(err, audio.ErrNoDevice):
		return NewError(CodeAudioCapture, err)
	}
	return NewError(CodeNetwork, err)
}

// EventKind identifies a recognition stream event
type EventKind string

const (
	EventStarted EventKind = "started"
	EventResult  EventKind = "result"
	EventError   EventKind = "error"
	EventEnd     EventKind = "end"
)

// Alternative is one hypothesis for a result
type Alternative struct {
	Transcript string
	Confidence float64
}

// RecognitionResult is one utterance segment
type RecognitionResult struct {
	IsFinal      bool
	Alternatives []Alternative
}

// RecognitionEvent is emitted by a RecognitionStream. For result events,
// Results[ResultIndex:] are the segments that changed.
type RecognitionEvent struct {
	Kind        EventKind
	ResultIndex int
	Results     []RecognitionResult
	ErrorCode   string
	Err         error
}

// RecognitionOptions configures one recognition stream
type RecognitionOptions struct {
	Language        string
	MaxAlternatives int
	Mixed           bool
	Audio           audio.Constraints
}

// RecognitionStream is one continuous recognition session. The events channel
// closes after the stream ends.
type RecognitionStream interface {
	Events() <-chan RecognitionEvent
	// Stop ends the stream. It is idempotent.
	Stop() error
}

// Recognizer opens continuous, interim-capable recognition streams
type Recognizer interface {
	Open(ctx context.Context, opts RecognitionOptions) (RecognitionStream, error)
}
