// Package speech binds the microphone to the question and answer fields of
// an interview turn.
//
// A Controller owns at most one listening target, drives the selected
// transcription engine and reconciles its interim and final text into the
// two field strings a host UI renders. All state is owned by a single
// goroutine; public methods and engine callbacks are serialized through its
// mailbox, so transcript merges never race.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-assistant/internal/audio"
	"github.com/lexiqai/interview-assistant/internal/observability"
	"github.com/lexiqai/interview-assistant/internal/stt"
	"github.com/lexiqai/interview-assistant/internal/transcript"
)

// Dependencies are the collaborators of a Controller
type Dependencies struct {
	Engines Engines

	// MonitorDevice feeds the low-volume monitor. Nil disables the monitor.
	MonitorDevice audio.Device
	Monitor       audio.MonitorConfig
}

// Controller is the single source of truth for what is listening and which
// engine it uses
type Controller struct {
	opts      Options
	sink      Sink
	logger    zerolog.Logger
	sessionID string

	// Engines and monitor
	local    LocalEngine
	realtime stt.Engine
	monitor  *audio.Monitor
	startMu  map[EngineKind]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	// Mailbox
	mu        sync.Mutex
	queue     []func()
	wake      chan struct{}
	closed    bool
	done      chan struct{}
	closeOnce sync.Once

	// Shared with engine and monitor goroutines
	listening atomic.Bool
	listenGen atomic.Uint64

	// Owned by the mailbox goroutine
	engine        EngineKind
	target        Target
	fields        map[Target]string
	pending       map[Target]string
	accumulated   string
	interim       string
	lastFinalAt   time.Time
	mode          LanguageMode
	preferred     string
	audioConfig   audio.Config
	status        stt.State
	engineWarning string
	volumeWarning string
	warning       string
	handoff       *time.Timer
	startCancel   context.CancelFunc
	metrics       *observability.Metrics
}

// NewController creates a controller and starts its mailbox goroutine.
// Close releases it.
func NewController(opts Options, deps Dependencies, sink Sink, logger zerolog.Logger) *Controller {
	if sink == nil {
		sink = nopSink{}
	}
	if opts.Engine == "" {
		opts.Engine = EngineRealtime
	}
	if opts.LanguageMode == "" {
		opts.LanguageMode = LanguagePrimary
	}
	if opts.Preference.Window <= 0 {
		opts.Preference = DefaultPreferenceConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sessionID := observability.NewSessionID()
	c := &Controller{
		opts:        opts,
		sink:        sink,
		logger:      logger.With().Str("component", "speech_controller").Str("session_id", sessionID).Logger(),
		sessionID:   sessionID,
		startMu:     map[EngineKind]*sync.Mutex{EngineLocal: {}, EngineRealtime: {}},
		ctx:         ctx,
		cancel:      cancel,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		engine:      opts.Engine,
		fields:      make(map[Target]string),
		pending:     make(map[Target]string),
		mode:        opts.LanguageMode,
		audioConfig: opts.Audio,
		status:      stt.StateIdle,
	}
	c.preferred = c.fixedLanguage(opts.LanguageMode)

	if deps.Engines.Local != nil {
		c.local = deps.Engines.Local(c.callbacksFor(EngineLocal))
	}
	if deps.Engines.Realtime != nil {
		c.realtime = deps.Engines.Realtime(c.callbacksFor(EngineRealtime))
	}
	if deps.MonitorDevice != nil {
		c.monitor = audio.NewMonitor(deps.MonitorDevice, deps.Monitor, c.listening.Load, c.onVolumeWarning, c.logger)
	}

	go c.run()
	return c
}

// SessionID identifies this controller in logs and records
func (c *Controller) SessionID() string {
	return c.sessionID
}

// ToggleListening stops target if it is listening, otherwise moves the
// microphone to target. Engine failures are reported through the Sink, never
// returned; ErrNoEngine is returned without any state change when the
// selected engine is unavailable.
func (c *Controller) ToggleListening(target Target) error {
	if !target.valid() {
		return fmt.Errorf("unknown listening target %q", target)
	}
	return c.call(func() error { return c.toggle(target) })
}

// StopActiveListening stops whichever target is listening. It is a no-op when
// nothing is.
func (c *Controller) StopActiveListening() error {
	return c.call(func() error {
		c.stopListening()
		return nil
	})
}

// FlushPendingInterim folds the pending interim text of the active target
// into its field
func (c *Controller) FlushPendingInterim() error {
	return c.call(func() error {
		c.flush()
		return nil
	})
}

// HandoffToCandidateAnswer starts listening on the answer field unless it
// already is
func (c *Controller) HandoffToCandidateAnswer() error {
	return c.call(func() error {
		if c.target == TargetAnswer {
			return nil
		}
		return c.toggle(TargetAnswer)
	})
}

// SetEngine switches the engine, stopping any active listening first
func (c *Controller) SetEngine(kind EngineKind) error {
	if _, err := ParseEngineKind(string(kind)); err != nil {
		return err
	}
	return c.call(func() error {
		if kind == c.engine {
			return nil
		}
		c.stopListening()
		c.logger.Info().Str("from", string(c.engine)).Str("to", string(kind)).Msg("Switching speech engine")
		c.engine = kind
		c.lastFinalAt = time.Time{}
		c.engineWarning = ""
		c.publishWarning()
		c.status = ""
		c.setStatus(kind, stt.StateIdle)
		return nil
	})
}

// SetLanguageMode changes the recognition language. A listening local
// recognizer is interrupted so its next stream uses the new language; a
// realtime session picks it up on its next start.
func (c *Controller) SetLanguageMode(mode LanguageMode) error {
	if _, err := ParseLanguageMode(string(mode)); err != nil {
		return err
	}
	return c.call(func() error {
		c.mode = mode
		c.preferred = c.fixedLanguage(mode)
		if c.local == nil {
			return nil
		}
		c.local.SetLanguage(c.recognitionLanguage(), mode == LanguageMixed)
		if c.engine == EngineLocal && c.target != TargetNone {
			c.local.Interrupt()
		}
		return nil
	})
}

// SetAudioConfig updates capture processing. The monitor reacquires its
// stream right away; engines apply it on their next start.
func (c *Controller) SetAudioConfig(cfg audio.Config) error {
	return c.call(func() error {
		c.applyAudioConfig(cfg)
		return nil
	})
}

// ToggleAudioConfig flips autoGainControl or noiseSuppression
func (c *Controller) ToggleAudioConfig(key string) error {
	return c.call(func() error {
		cfg := c.audioConfig
		switch key {
		case "autoGainControl":
			cfg.AutoGainControl = !cfg.AutoGainControl
		case "noiseSuppression":
			cfg.NoiseSuppression = !cfg.NoiseSuppression
		default:
			return fmt.Errorf("unknown audio setting %q", key)
		}
		c.applyAudioConfig(cfg)
		return nil
	})
}

// SetFieldText applies a user edit. Editing the listening field reseeds the
// transcript so later engine text builds on the edit.
func (c *Controller) SetFieldText(target Target, text string) error {
	if !target.valid() {
		return fmt.Errorf("unknown listening target %q", target)
	}
	return c.call(func() error {
		c.fields[target] = text
		c.sink.FieldChanged(target, text)
		if target == c.target {
			c.accumulated = text
			c.pending[target] = ""
			c.setInterim("")
		}
		return nil
	})
}

// ClearTurn empties both fields after a turn is committed
func (c *Controller) ClearTurn() error {
	return c.call(func() error {
		c.clearTurn()
		return nil
	})
}

// Reset stops listening and clears the turn and any warning
func (c *Controller) Reset() error {
	return c.call(func() error {
		c.stopListening()
		c.clearTurn()
		c.engineWarning = ""
		c.volumeWarning = ""
		c.publishWarning()
		return nil
	})
}

// Snapshot returns the current state. A closed controller returns its final state.
func (c *Controller) Snapshot() Snapshot {
	var snap Snapshot
	err := c.call(func() error {
		snap = c.snapshot()
		return nil
	})
	if err != nil {
		// Mailbox state is only safe to read once the goroutine has exited
		<-c.done
		snap = c.snapshot()
	}
	return snap
}

// Close stops listening, clears timers and ends the mailbox goroutine. It is idempotent.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		_ = c.call(func() error {
			c.stopListening()
			return nil
		})

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.signal()
		<-c.done
		c.cancel()
		c.logger.Debug().Msg("Speech controller closed")
	})
	return nil
}

func (c *Controller) toggle(target Target) error {
	if c.engineFor(c.engine) == nil {
		return ErrNoEngine
	}
	if c.target == target {
		c.stopListening()
		return nil
	}
	c.stopListening()
	c.startListening(target)
	return nil
}

// startListening binds target to the microphone. Callers have stopped any
// previous target.
func (c *Controller) startListening(target Target) {
	kind := c.engine
	c.accumulated = c.fields[target]
	c.pending[target] = ""
	c.setInterim("")
	c.engineWarning = ""
	c.publishWarning()

	c.metrics = observability.NewListenMetrics(string(target), string(kind))
	c.metrics.RecordListenStart()
	c.setTarget(target)
	gen := c.listenGen.Add(1)

	c.logger.Info().Str("target", string(target)).Str("engine", string(kind)).Msg("Listening started")

	if kind == EngineLocal && c.opts.HandoffDelay > 0 {
		c.handoff = time.AfterFunc(c.opts.HandoffDelay, func() {
			c.post(func() { c.beginEngine(gen, target, kind) })
		})
		return
	}
	c.beginEngine(gen, target, kind)
}

// beginEngine starts the monitor and launches the engine start off the
// mailbox goroutine so a later stop is never queued behind it
func (c *Controller) beginEngine(gen uint64, target Target, kind EngineKind) {
	if gen != c.listenGen.Load() || c.target != target {
		return
	}
	c.handoff = nil
	c.lastFinalAt = time.Now()
	if c.monitor != nil {
		c.monitor.StartBackground(c.ctx, c.audioConfig)
	}

	cfg := c.engineConfig(kind)
	metrics := c.metrics
	metrics.RecordEngineStart()
	ctx, cancel := context.WithCancel(c.ctx)
	c.startCancel = cancel
	go c.runStart(ctx, gen, kind, cfg, metrics)
}

// runStart starts one engine. Starts of the same engine are serialized, and
// a start that completes after its listen generation ended is undone. ctx is
// cancelled when that generation stops listening.
func (c *Controller) runStart(ctx context.Context, gen uint64, kind EngineKind, cfg stt.EngineConfig, metrics *observability.Metrics) {
	mu := c.startMu[kind]
	mu.Lock()
	defer mu.Unlock()

	if gen != c.listenGen.Load() {
		return
	}
	engine := c.engineFor(kind)
	err := engine.Start(ctx, cfg)
	if gen != c.listenGen.Load() {
		if err == nil {
			c.logger.Debug().Str("engine", string(kind)).Msg("Discarding engine start that finished after stop")
			_ = engine.Stop(context.Background())
		}
		return
	}
	metrics.RecordEngineEnd(err == nil)
	if err != nil {
		c.post(func() { c.startFailed(gen, kind, err) })
	}
}

func (c *Controller) startFailed(gen uint64, kind EngineKind, err error) {
	if gen != c.listenGen.Load() || kind != c.engine {
		return
	}
	c.logger.Warn().Err(err).Str("engine", string(kind)).Msg("Speech engine failed to start")
	observability.RecordError("start_failed", string(kind))
	if kind == EngineRealtime {
		c.failListening(fmt.Sprintf("Realtime connection failed: %s", err))
		return
	}
	c.failListening(fmt.Sprintf("Speech recognition unavailable: %s", err))
}

// failListening performs a full stop and then raises warning
func (c *Controller) failListening(warning string) {
	c.stopListening()
	c.engineWarning = warning
	c.publishWarning()
}

// stopListening flushes pending text, stops the engine and the monitor, and
// clears the target. Pending engine starts and handoff timers are invalidated.
func (c *Controller) stopListening() {
	if c.target == TargetNone {
		return
	}
	c.flush()
	c.listenGen.Add(1)
	if c.handoff != nil {
		c.handoff.Stop()
		c.handoff = nil
	}
	if c.startCancel != nil {
		c.startCancel()
		c.startCancel = nil
	}

	if engine := c.engineFor(c.engine); engine != nil {
		if err := engine.Stop(c.ctx); err != nil {
			c.logger.Debug().Err(err).Msg("Engine stop ignored")
		}
	}
	if c.monitor != nil {
		c.monitor.Stop()
	}

	c.logger.Info().Str("target", string(c.target)).Msg("Listening stopped")
	c.lastFinalAt = time.Time{}
	c.volumeWarning = ""
	c.engineWarning = ""
	c.publishWarning()
	c.setTarget(TargetNone)
	c.setInterim("")
}

// flush merges pending interim text of the active target into its field
func (c *Controller) flush() {
	target := c.target
	if target == TargetNone {
		return
	}
	merged := transcript.Merge(c.accumulated, c.pending[target])
	resolved := transcript.ResolveStable(c.fields[target], merged)
	c.accumulated = resolved
	c.setField(target, resolved)
	c.pending[target] = ""
	c.setInterim("")
}

func (c *Controller) clearTurn() {
	c.accumulated = ""
	c.pending[TargetQuestion] = ""
	c.pending[TargetAnswer] = ""
	c.setField(TargetQuestion, "")
	c.setField(TargetAnswer, "")
	c.setInterim("")
}

func (c *Controller) applyAudioConfig(cfg audio.Config) {
	if cfg == c.audioConfig {
		return
	}
	c.audioConfig = cfg
	if c.monitor != nil {
		c.monitor.Restart(c.ctx, cfg)
	}
}

func (c *Controller) callbacksFor(kind EngineKind) stt.Callbacks {
	return stt.Callbacks{
		OnStatus: func(s stt.Status) {
			c.post(func() { c.handleStatus(kind, s) })
		},
		OnInterim: func(text string) {
			c.post(func() { c.handleInterim(kind, text) })
		},
		OnFinal: func(text string) {
			c.post(func() { c.handleFinal(kind, text) })
		},
		OnError: func(err error) {
			c.post(func() { c.handleError(kind, err) })
		},
	}
}

func (c *Controller) handleStatus(kind EngineKind, s stt.Status) {
	if kind != c.engine {
		return
	}
	if s.Restart {
		c.flush()
	}
	c.setStatus(kind, s.State)
	if s.State == stt.StateConnected && c.engineWarning != "" {
		c.engineWarning = ""
		c.publishWarning()
	}
}

func (c *Controller) handleInterim(kind EngineKind, text string) {
	target := c.target
	if kind != c.engine || target == TargetNone {
		return
	}
	stable := transcript.StabilizeInterim(c.pending[target], text)
	c.pending[target] = stable
	c.setInterim(stable)

	merged := transcript.Merge(c.accumulated, stable)
	resolved := transcript.ResolveStable(c.fields[target], merged)
	c.setField(target, resolved)
	if kind == EngineLocal {
		c.updatePreference(resolved)
	}
}

func (c *Controller) handleFinal(kind EngineKind, text string) {
	target := c.target
	if kind != c.engine || target == TargetNone || strings.TrimSpace(text) == "" {
		return
	}
	now := time.Now()
	lineBreak := c.accumulated != "" && !c.lastFinalAt.IsZero() && now.Sub(c.lastFinalAt) > c.opts.PauseLineBreak
	c.accumulated = transcript.AppendFinalChunk(c.accumulated, text, lineBreak)
	c.lastFinalAt = now
	c.pending[target] = ""
	c.setInterim("")

	resolved := transcript.ResolveStable(c.fields[target], c.accumulated)
	c.setField(target, resolved)
	if c.metrics != nil {
		c.metrics.RecordFinal()
	}
	c.updatePreference(resolved)
}

func (c *Controller) handleError(kind EngineKind, err error) {
	if kind != c.engine {
		return
	}
	if stt.IsFatal(err) {
		c.logger.Warn().Err(err).Str("engine", string(kind)).Msg("Speech engine stopped on fatal error")
		observability.RecordError("fatal", string(kind))
		if kind == EngineRealtime {
			c.failListening(fmt.Sprintf("Realtime transcription error: %s", err))
			return
		}
		c.failListening(fmt.Sprintf("Speech recognition stopped: %s", err))
		return
	}
	if c.target == TargetNone {
		return
	}
	c.logger.Warn().Err(err).Str("engine", string(kind)).Msg("Speech engine error")
	observability.RecordError("engine", string(kind))
	c.setStatus(kind, stt.StateError)
	if kind == EngineRealtime {
		c.engineWarning = fmt.Sprintf("Realtime transcription error: %s", err)
	} else {
		c.engineWarning = fmt.Sprintf("Speech recognition error: %s", err)
	}
	c.publishWarning()
}

func (c *Controller) onVolumeWarning(warning string) {
	c.post(func() {
		if warning != "" && c.target == TargetNone {
			return
		}
		c.volumeWarning = warning
		c.publishWarning()
	})
}

// updatePreference re-estimates the mixed-mode language from recent text
// and hands it to the local recognizer for its next stream
func (c *Controller) updatePreference(text string) {
	if c.mode != LanguageMixed {
		return
	}
	lang := languageFor(c.opts.Preference.Lean(text), c.opts.PrimaryLanguage, c.opts.SecondaryLanguage)
	if lang == "" || lang == c.preferred {
		return
	}
	c.logger.Debug().Str("language", lang).Msg("Mixed-mode language preference changed")
	c.preferred = lang
	if c.local != nil {
		c.local.SetLanguage(lang, true)
	}
}

func (c *Controller) fixedLanguage(mode LanguageMode) string {
	if mode == LanguageSecondary {
		return c.opts.SecondaryLanguage
	}
	return c.opts.PrimaryLanguage
}

// recognitionLanguage is the tag the local recognizer should use
func (c *Controller) recognitionLanguage() string {
	if c.mode == LanguageMixed {
		return c.preferred
	}
	return c.fixedLanguage(c.mode)
}

// realtimeLanguage is the language hint for the realtime session; mixed
// speech is left to the provider's detection
func (c *Controller) realtimeLanguage() string {
	if c.mode == LanguageMixed {
		return "auto"
	}
	return baseLanguage(c.fixedLanguage(c.mode))
}

func (c *Controller) engineConfig(kind EngineKind) stt.EngineConfig {
	constraints := c.audioConfig.Constraints(c.opts.SampleRate)
	if kind == EngineLocal {
		return stt.EngineConfig{
			Language: c.recognitionLanguage(),
			Mixed:    c.mode == LanguageMixed,
			Audio:    constraints,
		}
	}
	return stt.EngineConfig{
		Language:        c.realtimeLanguage(),
		Model:           c.opts.RealtimeModel,
		Prompt:          c.opts.RealtimePrompt,
		NoiseReduction:  c.opts.RealtimeNoiseReduction,
		SilenceDuration: c.opts.RealtimeSilence,
		Audio:           constraints,
	}
}

func (c *Controller) engineFor(kind EngineKind) stt.Engine {
	switch kind {
	case EngineLocal:
		if c.local != nil {
			return c.local
		}
	case EngineRealtime:
		if c.realtime != nil {
			return c.realtime
		}
	}
	return nil
}

func (c *Controller) setTarget(target Target) {
	if target == c.target {
		return
	}
	c.target = target
	c.listening.Store(target != TargetNone)
	if target == TargetNone && c.metrics != nil {
		c.metrics.RecordListenEnd()
		c.metrics = nil
	}
	c.sink.ListeningChanged(target)
}

func (c *Controller) setField(target Target, text string) {
	if c.fields[target] == text {
		return
	}
	c.fields[target] = text
	c.sink.FieldChanged(target, text)
}

func (c *Controller) setInterim(text string) {
	if c.interim == text {
		return
	}
	c.interim = text
	c.sink.InterimChanged(text)
}

func (c *Controller) setStatus(kind EngineKind, state stt.State) {
	if kind != c.engine || state == c.status {
		return
	}
	c.status = state
	c.sink.EngineStatusChanged(kind, state)
}

// publishWarning reports the engine warning, or the volume warning when
// there is none
func (c *Controller) publishWarning() {
	warning := c.engineWarning
	if warning == "" {
		warning = c.volumeWarning
	}
	if warning == c.warning {
		return
	}
	c.warning = warning
	c.sink.WarningChanged(warning)
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		SessionID:         c.sessionID,
		Engine:            c.engine,
		Target:            c.target,
		Question:          c.fields[TargetQuestion],
		Answer:            c.fields[TargetAnswer],
		Interim:           c.interim,
		Warning:           c.warning,
		EngineStatus:      c.status,
		LanguageMode:      c.mode,
		PreferredLanguage: c.recognitionLanguage(),
		Audio:             c.audioConfig,
	}
}
