package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-assistant/internal/audio"
	"github.com/lexiqai/interview-assistant/internal/observability"
	"github.com/lexiqai/interview-assistant/internal/resilience"
)

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler // Embed default handler for methods we don't override
	stream                                 *deepgramStream
}

// Open marks the stream as started
func (m *messageCallbackHandler) Open(_ *msginterfaces.OpenResponse) error {
	m.stream.emit(RecognitionEvent{Kind: EventStarted})
	return nil
}

// Message forwards transcription results
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.stream.handleMessage(message)
	return nil
}

// Close ends the stream
func (m *messageCallbackHandler) Close(_ *msginterfaces.CloseResponse) error {
	m.stream.finish()
	return nil
}

// Error reports a transport error; the recognizer session decides whether to restart
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.stream.logger.Warn().Msgf("Deepgram error: %+v", errorResponse)
	m.stream.emit(RecognitionEvent{
		Kind:      EventError,
		ErrorCode: CodeNetwork,
		Err:       fmt.Errorf("deepgram: %+v", errorResponse),
	})
	return nil
}

// DeepgramConfig holds configuration for the Deepgram recognizer
type DeepgramConfig struct {
	APIKey                     string
	Model                      string
	SampleRate                 int
	CircuitBreakerMaxFailures  int
	CircuitBreakerResetTimeout time.Duration
}

// DeepgramRecognizer implements Recognizer using Deepgram's streaming API,
// fed by a local capture device.
type DeepgramRecognizer struct {
	config         DeepgramConfig
	device         audio.Device
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewDeepgramRecognizer creates a Deepgram-backed recognizer
func NewDeepgramRecognizer(cfg DeepgramConfig, device audio.Device, logger zerolog.Logger) *DeepgramRecognizer {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &DeepgramRecognizer{
		config:         cfg,
		device:         device,
		circuitBreaker: resilience.NewCircuitBreaker("deepgram", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout),
		logger:         logger.With().Str("component", "deepgram").Logger(),
	}
}

// Open acquires the microphone and starts a Deepgram streaming session
func (d *DeepgramRecognizer) Open(ctx context.Context, opts RecognitionOptions) (RecognitionStream, error) {
	if d.config.APIKey == "" {
		return nil, NewError(CodeServiceNotAllowed, errors.New("deepgram api key is not configured"))
	}
	if d.device == nil {
		return nil, NewError(CodeAudioCapture, audio.ErrNoDevice)
	}

	constraints := opts.Audio
	if constraints.SampleRate <= 0 {
		constraints = audio.DefaultConfig().Constraints(d.config.SampleRate)
	}

	capture, err := d.device.Open(ctx, constraints)
	if err != nil {
		return nil, CaptureError(err)
	}

	stream := &deepgramStream{
		capture: capture,
		events:  make(chan RecognitionEvent, 64),
		done:    make(chan struct{}),
		logger:  d.logger,
	}

	err = d.circuitBreaker.Call(func() error {
		return stream.connect(ctx, d.config, opts, capture.Constraints())
	})
	if err != nil {
		_ = capture.Stop()
		d.logger.Warn().
			Err(err).
			Str("circuit_state", d.circuitBreaker.GetState().String()).
			Msg("Deepgram connection failed")
		return nil, NewError(CodeNetwork, err)
	}

	go stream.pump()

	d.logger.Info().
		Str("model", d.config.Model).
		Str("language", opts.Language).
		Int("alternatives", opts.MaxAlternatives).
		Msg("Deepgram streaming session started")
	return stream, nil
}

// deepgramStream is one Deepgram websocket session plus its capture stream
type deepgramStream struct {
	capture audio.Stream
	client  *listenClient.WSCallback
	logger  zerolog.Logger

	mu     sync.Mutex
	events chan RecognitionEvent
	closed bool

	done     chan struct{}
	stopOnce sync.Once
}

func (s *deepgramStream) connect(ctx context.Context, cfg DeepgramConfig, opts RecognitionOptions, c audio.Constraints) error {
	alternatives := opts.MaxAlternatives
	if alternatives <= 0 {
		alternatives = 1
	}

	// Create Deepgram transcription options (v3 API)
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       opts.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		Alternatives:   alternatives,
		Encoding:       "linear16",
		Channels:       c.ChannelCount,
		SampleRate:     c.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		stream:                 s,
	}

	// Using nil for cOptions to use defaults
	client, err := listenClient.NewWSUsingCallback(ctx, cfg.APIKey, nil, tOptions, callback)
	if err != nil {
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return errors.New("failed to connect to Deepgram")
	}

	s.client = client
	return nil
}

// pump streams captured PCM to Deepgram until the capture ends or Stop is called
func (s *deepgramStream) pump() {
	buf := make([]byte, 3200) // 100ms of 16kHz mono s16le
	for {
		n, err := s.capture.Read(buf)
		if n > 0 {
			if _, werr := s.client.Write(buf[:n]); werr != nil {
				select {
				case <-s.done:
				default:
					s.emit(RecognitionEvent{Kind: EventError, ErrorCode: CodeNetwork, Err: werr})
					s.shutdown()
				}
				return
			}
			observability.RecordAudioBytes("deepgram", int64(n))
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				if !errors.Is(err, io.EOF) {
					s.emit(RecognitionEvent{Kind: EventError, ErrorCode: CodeAudioCapture, Err: err})
				}
				s.shutdown()
			}
			return
		}
	}
}

func (s *deepgramStream) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}

	alternatives := make([]Alternative, 0, len(msg.Channel.Alternatives))
	for _, alt := range msg.Channel.Alternatives {
		alternatives = append(alternatives, Alternative{Transcript: alt.Transcript, Confidence: alt.Confidence})
	}
	if alternatives[0].Transcript == "" && !msg.IsFinal {
		return
	}

	s.emit(RecognitionEvent{
		Kind:    EventResult,
		Results: []RecognitionResult{{IsFinal: msg.IsFinal, Alternatives: alternatives}},
	})
}

// emit delivers an event unless the stream has already finished
func (s *deepgramStream) emit(ev RecognitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Str("kind", string(ev.Kind)).Msg("Recognition event channel full, dropping event")
	}
}

// finish emits the end event and closes the channel
func (s *deepgramStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- RecognitionEvent{Kind: EventEnd}:
	default:
	}
	s.closed = true
	close(s.events)
}

func (s *deepgramStream) Events() <-chan RecognitionEvent {
	return s.events
}

// Stop ends the Deepgram session and releases the microphone
func (s *deepgramStream) Stop() error {
	s.shutdown()
	return nil
}

func (s *deepgramStream) shutdown() {
	s.stopOnce.Do(func() {
		close(s.done)
		if err := s.capture.Stop(); err != nil {
			s.logger.Debug().Err(err).Msg("Capture stop ignored")
		}
		if s.client != nil {
			// WSCallback Finish() doesn't return an error
			s.client.Finish()
		}
		s.finish()
		s.logger.Info().Msg("Deepgram streaming session stopped")
	})
}
