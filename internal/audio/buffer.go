package audio

import (
	"sync"
)

// SampleWindow is a thread-safe ring of the most recent PCM samples. Unlike a
// FIFO it never rejects writes: new samples overwrite the oldest ones, which
// is what a level analyser wants.
type SampleWindow struct {
	samples []int16
	size    int
	write   int
	filled  int
	mu      sync.RWMutex
}

// NewSampleWindow creates a window holding up to size samples
func NewSampleWindow(size int) *SampleWindow {
	if size <= 0 {
		size = 1024
	}
	return &SampleWindow{
		samples: make([]int16, size),
		size:    size,
	}
}

// Write appends samples, overwriting the oldest when the window is full
func (w *SampleWindow) Write(samples []int16) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sample := range samples {
		w.samples[w.write] = sample
		w.write = (w.write + 1) % w.size
		if w.filled < w.size {
			w.filled++
		}
	}
}

// Snapshot returns the buffered samples oldest first
func (w *SampleWindow) Snapshot() []int16 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]int16, w.filled)
	start := (w.write - w.filled + w.size) % w.size
	for i := 0; i < w.filled; i++ {
		out[i] = w.samples[(start+i)%w.size]
	}
	return out
}

// Len returns the number of buffered samples
func (w *SampleWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.filled
}

// Size returns the window capacity
func (w *SampleWindow) Size() int {
	return w.size
}

// Clear drops all buffered samples
func (w *SampleWindow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.write = 0
	w.filled = 0
}
