package fps

import (
	"sync"
	"time"
)

// DefaultWindowSize is the number of render timestamps kept for the FPS estimate.
const DefaultWindowSize = 30

// Tracker measures render rate over a sliding window of timestamps.
type Tracker struct {
	mu      sync.Mutex
	window  int
	samples []time.Time
	fps     float64
}

// NewTracker creates a Tracker. A non-positive window falls back to DefaultWindowSize.
func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindowSize
	}
	return &Tracker{
		window:  window,
		samples: make([]time.Time, 0, window+1),
	}
}

// Record appends a render timestamp and returns the updated FPS.
func (t *Tracker) Record(ts time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = append(t.samples, ts)
	if len(t.samples) > t.window {
		// Oldest first; shift in place so the backing array is reused.
		n := copy(t.samples, t.samples[len(t.samples)-t.window:])
		t.samples = t.samples[:n]
	}

	if len(t.samples) < 2 {
		t.fps = 0
		return t.fps
	}

	elapsed := t.samples[len(t.samples)-1].Sub(t.samples[0])
	if elapsed > 0 {
		t.fps = float64(len(t.samples)-1) / elapsed.Seconds()
	}
	return t.fps
}

// FPS returns the most recent reading.
func (t *Tracker) FPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fps
}

// Samples returns the number of timestamps currently in the window.
func (t *Tracker) Samples() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// Reset clears all samples and zeroes the reading.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = t.samples[:0]
	t.fps = 0
}
