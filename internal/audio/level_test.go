package audio

import (
	"math"
	"testing"
	"time"
)

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("Expected 0 for no samples, got %f", rms)
	}

	rms := CalculateRMS([]int16{100, -100, 100, -100})
	if math.Abs(rms-100) > 0.001 {
		t.Errorf("Expected RMS 100, got %f", rms)
	}
}

func TestNormalizedRMS(t *testing.T) {
	rms := NormalizedRMS([]int16{16384, -16384})
	if math.Abs(rms-0.5) > 0.001 {
		t.Errorf("Expected normalized RMS 0.5, got %f", rms)
	}
}

func TestLowVolumeDetector_HoldsBeforeWarning(t *testing.T) {
	d := NewLowVolumeDetector(LowVolumeConfig{Threshold: 0.008, Hold: time.Second})
	start := time.Now()

	if d.Observe(0.001, start) {
		t.Error("Expected no warning on first quiet sample")
	}
	if d.Observe(0.001, start.Add(900*time.Millisecond)) {
		t.Error("Expected no warning before hold elapses")
	}
	if !d.Observe(0.001, start.Add(1100*time.Millisecond)) {
		t.Error("Expected warning after quiet longer than hold")
	}
	if !d.IsLow() {
		t.Error("Expected detector to report low")
	}
}

func TestLowVolumeDetector_RecoveryClears(t *testing.T) {
	d := NewLowVolumeDetector(LowVolumeConfig{Threshold: 0.008, Hold: time.Second})
	start := time.Now()

	d.Observe(0.001, start)
	d.Observe(0.001, start.Add(2*time.Second))
	if d.Observe(0.05, start.Add(2100*time.Millisecond)) {
		t.Error("Expected loud sample to clear warning")
	}

	// Quiet time restarts from zero after recovery
	if d.Observe(0.001, start.Add(2200*time.Millisecond)) {
		t.Error("Expected no warning immediately after recovery")
	}
}
