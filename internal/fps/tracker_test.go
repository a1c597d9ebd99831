package fps

import (
	"math"
	"testing"
	"time"
)

func at(ms int) time.Time {
	return time.Unix(1700000000, 0).Add(time.Duration(ms) * time.Millisecond)
}

func TestTrackerThreeSamples(t *testing.T) {
	tr := NewTracker(30)
	tr.Record(at(0))
	tr.Record(at(33))
	got := tr.Record(at(66))

	if math.Abs(got-30.303) > 0.01 {
		t.Fatalf("fps = %f, want ~30.3", got)
	}
	if tr.FPS() != got {
		t.Fatalf("FPS() = %f, want %f", tr.FPS(), got)
	}
}

func TestTrackerSingleSampleIsZero(t *testing.T) {
	tr := NewTracker(30)
	if got := tr.Record(at(0)); got != 0 {
		t.Fatalf("fps = %f, want 0", got)
	}
}

func TestTrackerZeroElapsedKeepsPrevious(t *testing.T) {
	tr := NewTracker(2)
	tr.Record(at(0))
	prev := tr.Record(at(50)) // 20 fps
	// Window of 2 now holds [50, 50].
	got := tr.Record(at(50))
	if got != prev {
		t.Fatalf("fps = %f, want unchanged %f", got, prev)
	}
}

func TestTrackerEvictsOldest(t *testing.T) {
	tr := NewTracker(3)
	tr.Record(at(0))
	tr.Record(at(1000))
	tr.Record(at(1100))
	got := tr.Record(at(1200))

	if tr.Samples() != 3 {
		t.Fatalf("samples = %d, want 3", tr.Samples())
	}
	// Window [1000, 1100, 1200]: 2 intervals over 0.2s.
	if math.Abs(got-10) > 1e-9 {
		t.Fatalf("fps = %f, want 10", got)
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(0)
	tr.Record(at(0))
	tr.Record(at(100))
	tr.Reset()

	if tr.FPS() != 0 || tr.Samples() != 0 {
		t.Fatalf("after reset fps=%f samples=%d", tr.FPS(), tr.Samples())
	}
	if got := tr.Record(at(200)); got != 0 {
		t.Fatalf("first sample after reset fps = %f, want 0", got)
	}
}
