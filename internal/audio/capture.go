package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the capture stack refuses access to the microphone.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrNoDevice is returned when no usable capture device is available.
	ErrNoDevice = errors.New("no audio capture device available")
)

// Constraints describes how a capture stream should be processed by the
// capture stack before it reaches the application.
type Constraints struct {
	SampleRate       int
	ChannelCount     int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Config is the user-toggleable part of Constraints.
type Config struct {
	AutoGainControl  bool `json:"autoGainControl"`
	NoiseSuppression bool `json:"noiseSuppression"`
}

// DefaultConfig matches what most laptop microphones need for interviews:
// gain control on, suppression off so soft consonants are not eaten.
func DefaultConfig() Config {
	return Config{AutoGainControl: true, NoiseSuppression: false}
}

// Constraints returns mono capture constraints with echo cancellation always on.
func (c Config) Constraints(sampleRate int) Constraints {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return Constraints{
		SampleRate:       sampleRate,
		ChannelCount:     1,
		EchoCancellation: true,
		NoiseSuppression: c.NoiseSuppression,
		AutoGainControl:  c.AutoGainControl,
	}
}

// Stream is a live capture stream producing signed 16-bit little-endian PCM.
type Stream interface {
	Read(p []byte) (int, error)
	Constraints() Constraints
	// Stop releases the device. It is idempotent.
	Stop() error
}

// Device opens capture streams.
type Device interface {
	Open(ctx context.Context, constraints Constraints) (Stream, error)
}

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data
}
