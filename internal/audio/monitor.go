package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-assistant/internal/observability"
)

// LowVolumeWarning is raised while a listening target receives near-silent input.
const LowVolumeWarning = "Input volume is low; move closer to the microphone or raise the input gain"

// MonitorConfig holds configuration for the mic level monitor
type MonitorConfig struct {
	Interval   time.Duration // Sampling interval
	WindowSize int           // Samples analysed per reading
	SampleRate int
	LowVolume  LowVolumeConfig
}

// DefaultMonitorConfig returns the default monitor configuration
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:   350 * time.Millisecond,
		WindowSize: 1024,
		SampleRate: 16000,
		LowVolume:  DefaultLowVolumeConfig(),
	}
}

// Monitor samples its own capture stream and raises a warning when the input
// stays too quiet while a target is listening. It is best-effort: failing to
// acquire a stream is logged and otherwise ignored.
type Monitor struct {
	device    Device
	config    MonitorConfig
	active    func() bool
	onWarning func(string)
	logger    zerolog.Logger

	mu       sync.Mutex
	gen      uint64
	running  bool
	stream   Stream
	cancel   context.CancelFunc
	done     chan struct{}
	warning  string
	detector *LowVolumeDetector
	window   *SampleWindow
}

// NewMonitor creates a monitor. active reports whether a target is currently
// listening; onWarning receives the warning text, or "" when it clears.
func NewMonitor(device Device, config MonitorConfig, active func() bool, onWarning func(string), logger zerolog.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultMonitorConfig().Interval
	}
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultMonitorConfig().WindowSize
	}
	if active == nil {
		active = func() bool { return true }
	}
	if onWarning == nil {
		onWarning = func(string) {}
	}
	return &Monitor{
		device:    device,
		config:    config,
		active:    active,
		onWarning: onWarning,
		logger:    logger.With().Str("component", "mic_monitor").Logger(),
	}
}

// Start acquires a capture stream and begins sampling. It returns once the
// stream is open or acquisition failed; a concurrent Stop wins over a late
// acquisition.
func (m *Monitor) Start(ctx context.Context, cfg Config) {
	if gen, ok := m.reserve(); ok {
		m.acquire(ctx, cfg, gen)
	}
}

// StartBackground is Start without waiting for the capture stream. A Stop
// issued after StartBackground returns always releases the stream.
func (m *Monitor) StartBackground(ctx context.Context, cfg Config) {
	if gen, ok := m.reserve(); ok {
		go m.acquire(ctx, cfg, gen)
	}
}

func (m *Monitor) reserve() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.device == nil {
		return 0, false
	}
	m.running = true
	m.gen++
	return m.gen, true
}

func (m *Monitor) acquire(ctx context.Context, cfg Config, gen uint64) {
	stream, err := m.device.Open(ctx, cfg.Constraints(m.config.SampleRate))
	if err != nil {
		m.logger.Debug().Err(err).Msg("Mic monitor unavailable")
		m.mu.Lock()
		if m.gen == gen {
			m.running = false
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = stream.Stop()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	m.stream = stream
	m.cancel = cancel
	m.done = make(chan struct{})
	m.detector = NewLowVolumeDetector(m.config.LowVolume)
	m.window = NewSampleWindow(m.config.WindowSize)
	done := m.done
	window := m.window
	m.mu.Unlock()

	readerDone := make(chan struct{})
	go m.readLoop(stream, window, readerDone)
	go func() {
		defer close(done)
		m.sampleLoop(loopCtx, gen)
		<-readerDone
	}()
}

// Stop tears down sampling and releases the capture stream. Safe to call
// repeatedly and when never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.gen++
	m.running = false
	stream := m.stream
	cancel := m.cancel
	done := m.done
	m.stream = nil
	m.cancel = nil
	m.done = nil
	hadWarning := m.warning != ""
	m.warning = ""
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Stop(); err != nil {
			m.logger.Debug().Err(err).Msg("Mic monitor stream stop ignored")
		}
	}
	if done != nil {
		<-done
	}
	if hadWarning {
		m.onWarning("")
	}
}

// Running reports whether the monitor holds a capture stream
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// Restart reacquires the stream in the background with new capture settings
// if the monitor is started
func (m *Monitor) Restart(ctx context.Context, cfg Config) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return
	}
	m.Stop()
	m.StartBackground(ctx, cfg)
}

func (m *Monitor) readLoop(stream Stream, window *SampleWindow, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 2048)
	var carry []byte
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			window.Write(BytesToSamples(data[:even]))
			carry = append(carry[:0], data[even:]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Debug().Err(err).Msg("Mic monitor read ended")
			}
			return
		}
	}
}

func (m *Monitor) sampleLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sample(gen, now)
		}
	}
}

func (m *Monitor) sample(gen uint64, now time.Time) {
	m.mu.Lock()
	if m.gen != gen || m.window == nil {
		m.mu.Unlock()
		return
	}
	window := m.window
	detector := m.detector
	m.mu.Unlock()

	warning := ""
	if m.active() {
		if detector.Observe(NormalizedRMS(window.Snapshot()), now) {
			warning = LowVolumeWarning
		}
	} else {
		detector.Reset()
	}

	m.mu.Lock()
	if m.gen != gen || m.warning == warning {
		m.mu.Unlock()
		return
	}
	m.warning = warning
	m.mu.Unlock()

	if warning != "" {
		observability.RecordLowVolumeWarning()
	}
	m.onWarning(warning)
}
