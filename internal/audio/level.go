package audio

import (
	"math"
	"time"
)

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// NormalizedRMS returns the RMS scaled to [0, 1] of full 16-bit range
func NormalizedRMS(samples []int16) float64 {
	return CalculateRMS(samples) / 32768.0
}

// LowVolumeConfig holds thresholds for low-volume detection
type LowVolumeConfig struct {
	Threshold float64       // Normalized RMS below which a sample counts as quiet
	Hold      time.Duration // How long quiet must persist before warning
}

// DefaultLowVolumeConfig returns the thresholds tuned for speech capture
func DefaultLowVolumeConfig() LowVolumeConfig {
	return LowVolumeConfig{
		Threshold: 0.008,
		Hold:      1800 * time.Millisecond,
	}
}

// LowVolumeDetector tracks how long the input has stayed quiet
type LowVolumeDetector struct {
	config   LowVolumeConfig
	lowSince time.Time
	low      bool
}

// NewLowVolumeDetector creates a detector
func NewLowVolumeDetector(config LowVolumeConfig) *LowVolumeDetector {
	return &LowVolumeDetector{config: config}
}

// Observe feeds one RMS reading taken at now and reports whether the input
// is considered too quiet. Recovery clears the state immediately.
func (d *LowVolumeDetector) Observe(rms float64, now time.Time) bool {
	if rms >= d.config.Threshold {
		d.Reset()
		return false
	}
	if d.lowSince.IsZero() {
		d.lowSince = now
	}
	d.low = now.Sub(d.lowSince) > d.config.Hold
	return d.low
}

// Reset clears any accumulated quiet time
func (d *LowVolumeDetector) Reset() {
	d.lowSince = time.Time{}
	d.low = false
}

// IsLow returns the result of the last observation
func (d *LowVolumeDetector) IsLow() bool {
	return d.low
}
