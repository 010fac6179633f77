package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-assistant/internal/audio"
	"github.com/lexiqai/interview-assistant/internal/stt"
)

// DefaultRealtimeURL is the provider's WebRTC signaling endpoint for transcription
const DefaultRealtimeURL = "https://api.openai.com/v1/realtime?intent=transcription"

var (
	// ErrMissingClientSecret is returned when issuance succeeds without a usable credential
	ErrMissingClientSecret = errors.New("missing ephemeral client secret from /api/realtime/session")

	// ErrAborted is returned by a Start that was superseded by Stop or another Start
	ErrAborted = errors.New("realtime session start aborted")
)

// Issuer issues short-lived session credentials
type Issuer interface {
	Create(ctx context.Context, req SessionRequest) (*SessionResponse, error)
}

// SessionConfig holds the collaborators of a realtime Session
type SessionConfig struct {
	Issuer      Issuer
	Peers       PeerFactory
	Device      audio.Device
	HTTPClient  *http.Client
	RealtimeURL string
}

// Session is the streaming transcription engine. It negotiates a peer
// connection carrying microphone audio and maps data channel events to
// interim and final text.
type Session struct {
	issuer      Issuer
	peers       PeerFactory
	device      audio.Device
	httpClient  *http.Client
	realtimeURL string
	callbacks   stt.Callbacks
	logger      zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	active  bool
	cancel  context.CancelFunc // Ends the current start and its capture
	pc      PeerConnection
	dc      DataChannel
	capture audio.Stream
	interim map[string]string // Accumulated delta text per item
}

// NewSession creates a realtime session engine
func NewSession(cfg SessionConfig, callbacks stt.Callbacks, logger zerolog.Logger) *Session {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.RealtimeURL == "" {
		cfg.RealtimeURL = DefaultRealtimeURL
	}
	return &Session{
		issuer:      cfg.Issuer,
		peers:       cfg.Peers,
		device:      cfg.Device,
		httpClient:  cfg.HTTPClient,
		realtimeURL: cfg.RealtimeURL,
		callbacks:   callbacks,
		logger:      logger.With().Str("component", "realtime_session").Logger(),
		interim:     make(map[string]string),
	}
}

// Start connects a new session, stopping any active one first. On failure
// every acquired resource is released before the error is returned.
func (s *Session) Start(ctx context.Context, cfg stt.EngineConfig) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active {
		s.Stop(ctx)
	}

	startCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	previous := s.cancel
	s.gen++
	gen := s.gen
	s.active = true
	s.cancel = cancel
	s.interim = make(map[string]string)
	s.mu.Unlock()
	if previous != nil {
		previous()
	}

	s.callbacks.EmitStatus(stt.Status{State: stt.StateConnecting})

	if err := s.connect(startCtx, gen, cfg); err != nil {
		if !s.current(gen) {
			s.logger.Debug().Err(err).Msg("Realtime session start superseded")
			return ErrAborted
		}
		s.logger.Warn().Err(err).Msg("Realtime session start failed")
		s.Stop(ctx)
		return err
	}
	return nil
}

func (s *Session) connect(ctx context.Context, gen uint64, cfg stt.EngineConfig) error {
	if s.issuer == nil || s.peers == nil || s.device == nil {
		return errors.New("realtime engine is not configured")
	}

	resp, err := s.issuer.Create(ctx, SessionRequest{
		Model:              cfg.Model,
		Language:           cfg.Language,
		Prompt:             cfg.Prompt,
		IncludeLogprobs:    cfg.IncludeLogprobs,
		NoiseReductionType: cfg.NoiseReduction,
		SilenceDurationMs:  int(cfg.SilenceDuration / time.Millisecond),
	})
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return ErrAborted
	}
	if resp.ClientSecret == "" {
		return ErrMissingClientSecret
	}

	pc, err := s.peers.NewPeerConnection()
	if err != nil {
		return err
	}
	if !s.attach(gen, func() { s.pc = pc }) {
		pc.Close()
		return ErrAborted
	}
	pc.OnConnectionStateChange(func(state string) {
		if s.current(gen) {
			s.callbacks.EmitStatus(stt.Status{State: stt.State(state)})
		}
	})

	capture, err := s.device.Open(ctx, cfg.Audio)
	if err != nil {
		return stt.CaptureError(err)
	}
	if !s.attach(gen, func() { s.capture = capture }) {
		capture.Stop()
		return ErrAborted
	}
	if err := pc.AddAudioTrack(capture); err != nil {
		return err
	}

	dc, err := pc.CreateDataChannel(DataChannelLabel)
	if err != nil {
		return err
	}
	if !s.attach(gen, func() { s.dc = dc }) {
		dc.Close()
		return ErrAborted
	}
	dc.OnOpen(func() {
		if s.current(gen) {
			s.callbacks.EmitStatus(stt.Status{State: stt.StateChannelOpen})
		}
	})
	dc.OnClose(func() {
		if s.current(gen) {
			s.callbacks.EmitStatus(stt.Status{State: "data-channel-closed"})
		}
	})
	dc.OnError(func(err error) {
		if s.current(gen) {
			s.callbacks.EmitError(fmt.Errorf("realtime data channel: %w", err))
		}
	})
	dc.OnMessage(func(data []byte) {
		s.handleMessage(gen, data)
	})

	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return ErrAborted
	}

	answer, err := s.negotiate(ctx, resp.ClientSecret, offer)
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return ErrAborted
	}
	if err := pc.SetAnswer(answer); err != nil {
		return err
	}

	s.callbacks.EmitStatus(stt.Status{State: stt.StateConnected})
	s.logger.Info().Str("language", cfg.Language).Msg("Realtime session connected")
	return nil
}

// negotiate posts the offer SDP and returns the answer SDP
func (s *Session) negotiate(ctx context.Context, secret, offer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.realtimeURL, strings.NewReader(offer))
	if err != nil {
		return "", fmt.Errorf("failed to create signaling request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("realtime signaling failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if text := strings.TrimSpace(string(body)); text != "" {
			return "", errors.New(text)
		}
		return "", fmt.Errorf("realtime SDP failed (%d)", resp.StatusCode)
	}
	return string(body), nil
}

func (s *Session) handleMessage(gen uint64, data []byte) {
	ev, err := ParseEvent(data)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.callbacks.EmitError(err)
		return
	}

	switch ev.Kind {
	case KindDelta:
		text := s.interim[ev.ItemID] + ev.Text
		s.interim[ev.ItemID] = text
		s.mu.Unlock()
		s.callbacks.EmitInterim(text)

	case KindFinal:
		delete(s.interim, ev.ItemID)
		s.mu.Unlock()
		s.callbacks.EmitFinal(ev.Text)

	case KindError:
		s.mu.Unlock()
		s.callbacks.EmitError(fmt.Errorf("realtime provider error: %s", ev.Text))

	default:
		s.mu.Unlock()
	}
}

// Stop tears the session down. It is idempotent and safe from any state.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	s.active = false
	cancel := s.cancel
	s.cancel = nil
	dc, pc, capture := s.dc, s.pc, s.capture
	s.dc, s.pc, s.capture = nil, nil, nil
	s.interim = make(map[string]string)
	s.mu.Unlock()

	// Unblocks a start still waiting on issuance or signaling
	if cancel != nil {
		cancel()
	}

	if dc != nil {
		if err := dc.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Data channel close ignored")
		}
	}
	// Capture ends first so the outbound track pump unblocks
	if capture != nil {
		if err := capture.Stop(); err != nil {
			s.logger.Debug().Err(err).Msg("Capture stop ignored")
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Peer connection close ignored")
		}
	}

	s.callbacks.EmitStatus(stt.Status{State: stt.StateStopped})
	return nil
}

// Active reports whether a session is started or starting
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// attach runs set under the lock if gen is still current
func (s *Session) attach(gen uint64, set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	set()
	return true
}
