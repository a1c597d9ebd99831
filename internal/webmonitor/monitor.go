package webmonitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/dj-oyu/ppe-monitor/internal/detection"
)

// Annotator turns filtered predictions into display annotations.
type Annotator interface {
	Annotate(preds []detection.Prediction) []detection.Annotation
}

// Session holds what the presentation layer shows: the latest filtered batch,
// the PPE snapshot derived from it, running totals, and a bounded window of
// recent violation notifications (newest first).
type Session struct {
	proc       *detection.Processor
	annotator  Annotator
	windowSize int

	mu          sync.Mutex
	annotations []detection.Annotation
	latest      *detection.DetectionEvent
	snapshot    detection.StatusSnapshot
	total       int
	batches     int
	lastBatchAt time.Time
	violations  []detection.ViolationEvent
	totalAlerts int
}

// NewSession creates an empty session.
func NewSession(proc *detection.Processor, annotator Annotator, windowSize int) *Session {
	if windowSize <= 0 {
		windowSize = DefaultConfig().ViolationWindow
	}
	return &Session{
		proc:       proc,
		annotator:  annotator,
		windowSize: windowSize,
		snapshot:   proc.ExtractStatus(nil, time.Time{}),
	}
}

// ApplyDetection replaces the current batch. The display set is filtered, the
// PPE snapshot is rebuilt from the unfiltered predictions.
func (s *Session) ApplyDetection(ev detection.DetectionEvent, at time.Time) DetectionPayload {
	filtered := s.proc.FilterForDisplay(ev.Predictions)
	annotations := s.annotator.Annotate(filtered)
	snapshot := s.proc.ExtractStatus(ev.Predictions, at)

	s.mu.Lock()
	s.annotations = annotations
	s.snapshot = snapshot
	s.total += len(filtered)
	s.batches++
	s.lastBatchAt = at
	latest := ev
	latest.Predictions = nil
	s.latest = &latest
	s.mu.Unlock()

	return detectionPayload(ev, annotations)
}

// AddViolation records a violation notification, evicting the oldest once the
// window is full.
func (s *Session) AddViolation(v detection.ViolationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalAlerts++
	s.violations = append([]detection.ViolationEvent{v}, s.violations...)
	if len(s.violations) > s.windowSize {
		s.violations = s.violations[:s.windowSize]
	}
}

// Annotations returns the current display set.
func (s *Session) Annotations() []detection.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]detection.Annotation(nil), s.annotations...)
}

// FrameSize returns the source frame size of the latest batch, or zeros
// before the first batch.
func (s *Session) FrameSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return 0, 0
	}
	return s.latest.FrameWidth, s.latest.FrameHeight
}

// LastBatchAt returns when the latest batch was applied.
func (s *Session) LastBatchAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBatchAt
}

// SessionSnapshot is a consistent copy of session state.
type SessionSnapshot struct {
	TotalDetections int
	ActiveCount     int
	Batches         int
	LastBatchAt     time.Time
	PPE             detection.StatusSnapshot
	Violations      []detection.ViolationEvent
	TotalViolations int
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ppe := make(detection.StatusSnapshot, len(s.snapshot))
	for k, v := range s.snapshot {
		ppe[k] = v
	}
	return SessionSnapshot{
		TotalDetections: s.total,
		ActiveCount:     len(s.annotations),
		Batches:         s.batches,
		LastBatchAt:     s.lastBatchAt,
		PPE:             ppe,
		Violations:      append([]detection.ViolationEvent{}, s.violations...),
		TotalViolations: s.totalAlerts,
	}
}

func detectionPayload(ev detection.DetectionEvent, annotations []detection.Annotation) DetectionPayload {
	return DetectionPayload{
		EventType:   ev.EventType,
		Timestamp:   ev.Timestamp,
		Frame:       ev.Frame,
		FrameWidth:  ev.FrameWidth,
		FrameHeight: ev.FrameHeight,
		Source:      ev.Source,
		Count:       ev.Count,
		Annotations: lo.Map(annotations, func(a detection.Annotation, _ int) AnnotationJSON {
			return AnnotationJSON{
				Type:        a.Type,
				Confidence:  a.Confidence,
				BoundingBox: a.BoundingBox,
				Color:       hexColor(a.Color.R, a.Color.G, a.Color.B),
				Violation:   a.Violation,
			}
		}),
	}
}

func ppeJSON(snapshot detection.StatusSnapshot) (map[string]PartJSON, []string) {
	out := make(map[string]PartJSON, len(snapshot))
	for part, st := range snapshot {
		entry := PartJSON{Present: st.Present, Confidence: st.Confidence}
		if st.LastSeen != nil {
			ts := st.LastSeen.UTC().Format(time.RFC3339Nano)
			entry.LastSeen = &ts
		}
		out[string(part)] = entry
	}
	missing := lo.Map(snapshot.Missing(), func(p detection.Part, _ int) string { return string(p) })
	return out, missing
}

func hexColor(r, g, b uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
