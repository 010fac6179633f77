package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpegDevice captures microphone PCM through an ffmpeg subprocess.
type FFmpegDevice struct {
	command     string
	inputFormat string
	inputDevice string
}

// NewFFmpegDevice creates a capture device. Empty values fall back to
// ffmpeg reading the default PulseAudio source.
func NewFFmpegDevice(command, inputFormat, inputDevice string) *FFmpegDevice {
	if command == "" {
		command = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	if inputDevice == "" {
		inputDevice = "default"
	}
	return &FFmpegDevice{command: command, inputFormat: inputFormat, inputDevice: inputDevice}
}

// Open starts ffmpeg and returns once it has survived its startup window.
func (d *FFmpegDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.ChannelCount <= 0 {
		c.ChannelCount = 1
	}

	cmd := exec.CommandContext(ctx, d.command, ffmpegArgs(d.inputFormat, d.inputDevice, c)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		return nil, classifyCaptureFailure(err, stderr.String())
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegStream{
		stdout:      stdout,
		stderr:      &stderr,
		process:     cmd.Process,
		waitErr:     waitErr,
		constraints: c,
	}, nil
}

// ffmpegArgs maps constraints onto ffmpeg filters. Echo cancellation is left
// to the OS capture stack; ffmpeg has no AEC filter.
func ffmpegArgs(inputFormat, inputDevice string, c Constraints) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", inputFormat,
		"-i", inputDevice,
	}

	var filters []string
	if c.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if c.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	return append(args,
		"-ac", strconv.Itoa(c.ChannelCount),
		"-ar", strconv.Itoa(c.SampleRate),
		"-f", "s16le",
		"-",
	)
}

func classifyCaptureFailure(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "access denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
	case strings.Contains(lower, "no such") || strings.Contains(lower, "connection refused") || strings.Contains(lower, "cannot open"):
		return fmt.Errorf("%w: %s", ErrNoDevice, detail)
	case err != nil:
		return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail)
	default:
		return errors.New("ffmpeg exited before capture started")
	}
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	constraints Constraints

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegStream) Constraints() Constraints {
	return s.constraints
}

func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
	})
	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
