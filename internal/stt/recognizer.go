package stt

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-assistant/internal/observability"
	"github.com/lexiqai/interview-assistant/internal/resilience"
	"github.com/lexiqai/interview-assistant/internal/transcript"
)

// RecognizerConfig holds the restart and watchdog policy for a RecognizerSession
type RecognizerConfig struct {
	WatchdogInterval   time.Duration // How often stall/overrun is checked
	StallTimeout       time.Duration // Max time without any recognition event
	MaxSessionDuration time.Duration // Max age of one continuous stream

	RestartStep     time.Duration // Added per consecutive failed attempt
	MaxRestartDelay time.Duration

	EndRestartDelay      time.Duration // Base delay after a natural end
	NoSpeechRestartDelay time.Duration // Base delay after a no-speech error
	ErrorRestartDelay    time.Duration // Base delay after other errors and failed opens
	WatchdogRestartDelay time.Duration // Base delay after a stall or overrun
}

// DefaultRecognizerConfig returns the policy tuned for continuous local recognizers
func DefaultRecognizerConfig() RecognizerConfig {
	return RecognizerConfig{
		WatchdogInterval:     1500 * time.Millisecond,
		StallTimeout:         12 * time.Second,
		MaxSessionDuration:   90 * time.Second,
		RestartStep:          350 * time.Millisecond,
		MaxRestartDelay:      3 * time.Second,
		EndRestartDelay:      450 * time.Millisecond,
		NoSpeechRestartDelay: 300 * time.Millisecond,
		ErrorRestartDelay:    700 * time.Millisecond,
		WatchdogRestartDelay: 300 * time.Millisecond,
	}
}

// RecognizerSession keeps a continuous recognizer running for as long as it is
// wanted, restarting streams that end, error out, stall or run too long.
type RecognizerSession struct {
	recognizer Recognizer
	config     RecognizerConfig
	callbacks  Callbacks
	logger     zerolog.Logger

	mu               sync.Mutex
	state            State
	want             bool
	gen              uint64 // Bumped whenever the current stream is abandoned
	stream           RecognitionStream
	options          RecognitionOptions
	attempt          int
	lastEventAt      time.Time
	sessionStartedAt time.Time
	restartTimer     *time.Timer
	restartSeq       uint64
	watchdogStop     chan struct{}
	watchdogDone     chan struct{}
}

// NewRecognizerSession creates a session over recognizer
func NewRecognizerSession(recognizer Recognizer, config RecognizerConfig, callbacks Callbacks, logger zerolog.Logger) *RecognizerSession {
	return &RecognizerSession{
		recognizer: recognizer,
		config:     config,
		callbacks:  callbacks,
		logger:     logger.With().Str("component", "recognizer_session").Logger(),
		state:      StateIdle,
	}
}

// Start begins listening. A fatal failure to open the first stream is
// returned; any other failure is retried with backoff.
func (s *RecognizerSession) Start(ctx context.Context, cfg EngineConfig) error {
	s.mu.Lock()
	s.options = optionsFromConfig(cfg)
	if s.want {
		s.mu.Unlock()
		return nil
	}
	s.want = true
	s.attempt = 0
	now := time.Now()
	s.lastEventAt = now
	s.sessionStartedAt = now
	s.startWatchdog()
	s.mu.Unlock()

	err := s.open(ctx)
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		s.fail(err)
		return err
	}

	s.logger.Warn().Err(err).Msg("Recognizer failed to start, retrying")
	s.mu.Lock()
	s.attempt++
	s.scheduleRestart(s.config.ErrorRestartDelay, "start_failed")
	s.mu.Unlock()
	return nil
}

// Stop stops listening and releases the current stream. It is idempotent.
func (s *RecognizerSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.want && s.stream == nil && s.watchdogStop == nil {
		s.mu.Unlock()
		return nil
	}
	s.want = false
	s.gen++
	s.clearRestartTimer()
	stream := s.stream
	s.stream = nil
	s.state = StateIdle
	watchdogDone := s.stopWatchdog()
	s.callbacks.EmitStatus(Status{State: StateIdle, Reason: "stopped"})
	s.mu.Unlock()

	if watchdogDone != nil {
		<-watchdogDone
	}
	return stopStream(stream, s.logger)
}

// SetLanguage updates the language used by the next stream
func (s *RecognizerSession) SetLanguage(language string, mixed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options.Language = language
	s.options.Mixed = mixed
	s.options.MaxAlternatives = alternativesFor(mixed)
}

// Interrupt drops the current stream while still listening so the next stream
// picks up changed options. Language cannot change on a live stream.
func (s *RecognizerSession) Interrupt() {
	s.mu.Lock()
	if !s.want {
		s.mu.Unlock()
		return
	}
	stream := s.abandonStream()
	s.callbacks.EmitStatus(Status{State: StateStalled, Reason: "interrupted", Restart: true})
	s.scheduleRestart(s.config.EndRestartDelay, "interrupted")
	s.mu.Unlock()

	stopStream(stream, s.logger)
}

// State returns the current lifecycle state
func (s *RecognizerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Listening reports whether the session still wants to be running
func (s *RecognizerSession) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.want
}

// open starts a new stream for the current options
func (s *RecognizerSession) open(ctx context.Context) error {
	s.mu.Lock()
	if !s.want {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	opts := s.options
	s.state = StateStarting
	s.callbacks.EmitStatus(Status{State: StateStarting})
	s.mu.Unlock()

	stream, err := s.recognizer.Open(ctx, opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || !s.want {
		if stream != nil {
			go stopStream(stream, s.logger)
		}
		return nil
	}
	if err != nil {
		var engineErr *Error
		if !errors.As(err, &engineErr) {
			err = NewError(CodeNetwork, err)
		}
		return err
	}

	now := time.Now()
	s.stream = stream
	s.attempt = 0
	s.lastEventAt = now
	s.sessionStartedAt = now
	go s.consume(gen, stream)
	return nil
}

func (s *RecognizerSession) consume(gen uint64, stream RecognitionStream) {
	ended := false
	for ev := range stream.Events() {
		ended = ev.Kind == EventEnd
		s.handle(gen, ev)
	}
	if !ended {
		s.handle(gen, RecognitionEvent{Kind: EventEnd})
	}
}

func (s *RecognizerSession) handle(gen uint64, ev RecognitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}
	s.lastEventAt = time.Now()

	switch ev.Kind {
	case EventStarted:
		s.state = StateListening
		s.sessionStartedAt = s.lastEventAt
		s.attempt = 0
		s.callbacks.EmitStatus(Status{State: StateListening})

	case EventResult:
		var final, interim string
		for i := ev.ResultIndex; i >= 0 && i < len(ev.Results); i++ {
			text := PickTranscript(ev.Results[i].Alternatives, s.options.Mixed)
			if ev.Results[i].IsFinal {
				final += text
			} else {
				interim += text
			}
		}
		if final != "" {
			s.callbacks.EmitFinal(final)
		} else {
			s.callbacks.EmitInterim(interim)
		}
		s.attempt = 0

	case EventError:
		if ev.ErrorCode == CodeAborted {
			return
		}
		err := NewError(ev.ErrorCode, ev.Err)
		if err.Fatal {
			s.logger.Warn().Str("code", ev.ErrorCode).Err(ev.Err).Msg("Recognizer fatal error")
			stream := s.abandonStream()
			s.shutdownLocked(err)
			go stopStream(stream, s.logger)
			return
		}
		if !s.want {
			return
		}
		s.logger.Info().Str("code", ev.ErrorCode).Err(ev.Err).Msg("Recognizer error, restarting")
		s.state = StateStalled
		s.callbacks.EmitStatus(Status{State: StateStalled, Reason: ev.ErrorCode, Restart: true})
		base := s.config.ErrorRestartDelay
		if ev.ErrorCode == CodeNoSpeech {
			base = s.config.NoSpeechRestartDelay
		}
		s.scheduleRestart(base, ev.ErrorCode)

	case EventEnd:
		s.stream = nil
		if !s.want {
			s.state = StateIdle
			return
		}
		s.state = StateStalled
		s.callbacks.EmitStatus(Status{State: StateStalled, Reason: "end", Restart: true})
		s.scheduleRestart(s.config.EndRestartDelay, "end")
	}
}

// fail shuts the session down after a fatal error outside of a stream event
func (s *RecognizerSession) fail(err error) {
	s.mu.Lock()
	stream := s.abandonStream()
	s.shutdownLocked(err)
	s.mu.Unlock()

	stopStream(stream, s.logger)
}

// shutdownLocked stops wanting to listen and reports err. Callers hold s.mu.
func (s *RecognizerSession) shutdownLocked(err error) {
	s.want = false
	s.state = StateError
	s.clearRestartTimer()
	s.stopWatchdog()
	observability.RecordError("fatal", "recognizer")
	s.callbacks.EmitError(err)
}

// abandonStream detaches the current stream so its remaining events are
// ignored. Callers hold s.mu and stop the returned stream after unlocking.
func (s *RecognizerSession) abandonStream() RecognitionStream {
	s.gen++
	stream := s.stream
	s.stream = nil
	return stream
}

// scheduleRestart arms the restart timer. Callers hold s.mu.
func (s *RecognizerSession) scheduleRestart(base time.Duration, reason string) {
	if !s.want {
		return
	}
	s.clearRestartTimer()

	delay := resilience.LinearBackoff(s.attempt, base, s.config.RestartStep, s.config.MaxRestartDelay)
	s.restartSeq++
	seq := s.restartSeq
	observability.RecordEngineRestart(reason)
	s.logger.Debug().Str("reason", reason).Int("attempt", s.attempt).Dur("delay", delay).Msg("Recognizer restart scheduled")

	s.restartTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if !s.want || seq != s.restartSeq {
			s.mu.Unlock()
			return
		}
		s.restartTimer = nil
		s.mu.Unlock()

		err := s.open(context.Background())
		if err == nil {
			return
		}
		if IsFatal(err) {
			s.fail(err)
			return
		}
		s.logger.Warn().Err(err).Msg("Recognizer restart failed")
		s.mu.Lock()
		s.attempt++
		s.scheduleRestart(s.config.ErrorRestartDelay, "start_failed")
		s.mu.Unlock()
	})
}

// clearRestartTimer cancels a pending restart. Callers hold s.mu.
func (s *RecognizerSession) clearRestartTimer() {
	s.restartSeq++
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

// startWatchdog launches the stall/overrun checker. Callers hold s.mu.
func (s *RecognizerSession) startWatchdog() {
	if s.watchdogStop != nil || s.config.WatchdogInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.watchdogStop = stop
	s.watchdogDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.config.WatchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s.checkWatchdog(now)
			}
		}
	}()
}

// stopWatchdog signals the watchdog to exit and returns its done channel.
// Callers hold s.mu.
func (s *RecognizerSession) stopWatchdog() chan struct{} {
	if s.watchdogStop == nil {
		return nil
	}
	close(s.watchdogStop)
	done := s.watchdogDone
	s.watchdogStop = nil
	s.watchdogDone = nil
	return done
}

func (s *RecognizerSession) checkWatchdog(now time.Time) {
	s.mu.Lock()
	if !s.want {
		s.mu.Unlock()
		return
	}

	stalled := !s.lastEventAt.IsZero() && now.Sub(s.lastEventAt) > s.config.StallTimeout
	overrun := s.config.MaxSessionDuration > 0 && !s.sessionStartedAt.IsZero() &&
		now.Sub(s.sessionStartedAt) > s.config.MaxSessionDuration
	if !stalled && !overrun {
		s.mu.Unlock()
		return
	}

	reason := "stall"
	if !stalled {
		reason = "overrun"
	}
	s.logger.Info().Str("reason", reason).Msg("Recognizer watchdog forcing restart")

	s.lastEventAt = now
	s.sessionStartedAt = now
	stream := s.abandonStream()
	s.state = StateStalled
	s.callbacks.EmitStatus(Status{State: StateStalled, Reason: reason, Restart: true})
	s.scheduleRestart(s.config.WatchdogRestartDelay, reason)
	s.mu.Unlock()

	stopStream(stream, s.logger)
}

func stopStream(stream RecognitionStream, logger zerolog.Logger) error {
	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		logger.Debug().Err(err).Msg("Recognizer stop ignored")
	}
	return nil
}

func optionsFromConfig(cfg EngineConfig) RecognitionOptions {
	alternatives := cfg.Alternatives
	if alternatives <= 0 {
		alternatives = alternativesFor(cfg.Mixed)
	}
	return RecognitionOptions{
		Language:        cfg.Language,
		MaxAlternatives: alternatives,
		Mixed:           cfg.Mixed,
		Audio:           cfg.Audio,
	}
}

func alternativesFor(mixed bool) int {
	if mixed {
		return 3
	}
	return 1
}

// PickTranscript returns the best alternative. In mixed mode, alternatives
// carrying Latin technical words or both scripts score higher so code-mixed
// terms are not swallowed by a single-language bias.
func PickTranscript(alternatives []Alternative, mixed bool) string {
	if len(alternatives) == 0 {
		return ""
	}
	best := alternatives[0].Transcript
	bestScore := math.Inf(-1)
	for _, alt := range alternatives {
		counts := transcript.CountScripts(alt.Transcript)
		bonus := 0.0
		if mixed {
			bonus = float64(counts.Words) * 0.35
			if counts.Latin > 0 && counts.CJK > 0 {
				bonus += 0.2
			}
		}
		score := alt.Confidence + bonus + float64(counts.Latin)*0.01
		if score > bestScore {
			bestScore = score
			best = alt.Transcript
		}
	}
	return best
}
