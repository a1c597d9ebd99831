package detection

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"
)

// DefaultMinConfidence gates headgear display and status presence.
const DefaultMinConfidence = 0.8

// Predicate decides whether a prediction is shown.
type Predicate func(Prediction) bool

// DropBareHeads rejects "head" detections that are not hardhat or helmet detections.
func DropBareHeads() Predicate {
	return func(p Prediction) bool {
		norm := NormalizeType(p.Type)
		return !strings.Contains(norm, "head") || isHeadgear(norm)
	}
}

// HeadgearConfidence rejects hardhat/helmet detections below min. Other types pass.
func HeadgearConfidence(min float64) Predicate {
	return func(p Prediction) bool {
		if !isHeadgear(NormalizeType(p.Type)) {
			return true
		}
		return p.Confidence >= min
	}
}

func isHeadgear(norm string) bool {
	return strings.Contains(norm, "hardhat") || strings.Contains(norm, "helmet")
}

// Processor turns raw payloads into display-ready predictions and status snapshots.
// It holds only read-only configuration and is safe for concurrent use.
type Processor struct {
	minConfidence float64
	filters       []Predicate
	maxWidth      int
	maxHeight     int
}

// NewProcessor creates a Processor with the display rules for minConfidence.
// Extra predicates run after the built-in rules.
func NewProcessor(minConfidence float64, extra ...Predicate) *Processor {
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = DefaultMinConfidence
	}
	filters := []Predicate{DropBareHeads(), HeadgearConfidence(minConfidence)}
	filters = append(filters, extra...)
	return &Processor{
		minConfidence: minConfidence,
		filters:       filters,
		maxWidth:      MaxFrameWidth,
		maxHeight:     MaxFrameHeight,
	}
}

// WithMaxFrameSize returns a copy of p that accepts frame sizes up to
// maxW x maxH. Non-positive values keep the current limit.
func (p *Processor) WithMaxFrameSize(maxW, maxH int) *Processor {
	cp := *p
	if maxW > 0 && maxH > 0 {
		cp.maxWidth, cp.maxHeight = maxW, maxH
	}
	return &cp
}

// MaxFrameSize returns the largest accepted frame size.
func (p *Processor) MaxFrameSize() (int, int) {
	return p.maxWidth, p.maxHeight
}

// MinConfidence returns the configured threshold.
func (p *Processor) MinConfidence() float64 {
	return p.minConfidence
}

// Parse decodes a detection batch. A payload without predictions yields an
// empty batch; missing or oversized frame dimensions default to 640x480.
// Only malformed JSON fails.
func (p *Processor) Parse(raw []byte) (DetectionEvent, error) {
	var event DetectionEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return DetectionEvent{}, fmt.Errorf("decode detection event: %w", err)
	}

	if event.Predictions == nil {
		event.Predictions = []Prediction{}
	}
	if !FrameSizeWithin(event.FrameWidth, event.FrameHeight, p.maxWidth, p.maxHeight) {
		event.FrameWidth = DefaultFrameWidth
		event.FrameHeight = DefaultFrameHeight
	}
	for i := range event.Predictions {
		event.Predictions[i] = sanitize(event.Predictions[i])
	}
	if event.Count == 0 {
		event.Count = len(event.Predictions)
	}
	return event, nil
}

// ParseViolation decodes a PPE_VIOLATION notification.
func (p *Processor) ParseViolation(raw []byte) (ViolationEvent, error) {
	var event ViolationEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return ViolationEvent{}, fmt.Errorf("decode violation event: %w", err)
	}
	if event.Entity.Missing == nil {
		event.Entity.Missing = []string{}
	}
	event.Confidence = clampUnit(event.Confidence)
	return event, nil
}

// FilterForDisplay returns the predictions that pass every display rule, in input order.
func (p *Processor) FilterForDisplay(preds []Prediction) []Prediction {
	return lo.Filter(preds, func(pred Prediction, _ int) bool {
		for _, keep := range p.filters {
			if !keep(pred) {
				return false
			}
		}
		return true
	})
}

func sanitize(pred Prediction) Prediction {
	pred.Confidence = clampUnit(pred.Confidence)
	pred.BoundingBox.Width = math.Max(0, pred.BoundingBox.Width)
	pred.BoundingBox.Height = math.Max(0, pred.BoundingBox.Height)
	return pred
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
