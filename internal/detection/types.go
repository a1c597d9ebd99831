package detection

import (
	"image/color"
	"strings"
)

// Event types carried in the eventType field of inbound messages.
const (
	EventTypeDetection       = "DETECTION"
	EventTypePPEDetection    = "PPE_DETECTION"
	EventTypeDetectionResult = "DETECTION_RESULT"
	EventTypeViolation       = "PPE_VIOLATION"
)

// Default frame size assumed when a payload does not report one.
const (
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480
)

// Largest frame size accepted from the backend unless configured otherwise (8K UHD).
const (
	MaxFrameWidth  = 7680
	MaxFrameHeight = 4320
)

// FrameSizeWithin reports whether w x h is positive and no larger than maxW x maxH.
func FrameSizeWithin(w, h, maxW, maxH int) bool {
	return w > 0 && h > 0 && w <= maxW && h <= maxH
}

// MessageKind classifies an inbound message by its eventType.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindDetection
	KindViolation
)

// Classify maps an eventType string to a MessageKind (case-insensitive).
func Classify(eventType string) MessageKind {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case EventTypeDetection, EventTypePPEDetection, EventTypeDetectionResult:
		return KindDetection
	case EventTypeViolation:
		return KindViolation
	default:
		return KindUnknown
	}
}

// Envelope is the minimal shape every inbound message shares.
type Envelope struct {
	EventType string `json:"eventType"`
}

// BoundingBox is a box in source-frame pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Prediction is a single detected object.
type Prediction struct {
	Type        string      `json:"type"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

// DetectionEvent is one detection batch from the backend.
type DetectionEvent struct {
	EventType   string       `json:"eventType"`
	Timestamp   string       `json:"timestamp"`
	Frame       int          `json:"frame,omitempty"`
	FrameWidth  int          `json:"frameWidth,omitempty"`
	FrameHeight int          `json:"frameHeight,omitempty"`
	Source      string       `json:"source,omitempty"`
	Count       int          `json:"count,omitempty"`
	Predictions []Prediction `json:"predictions"`
}

// ViolationEntity identifies who is missing which equipment.
type ViolationEntity struct {
	PersonID string   `json:"personId"`
	Missing  []string `json:"missing"`
	Location string   `json:"location"`
}

// ViolationEvent is a PPE_VIOLATION notification.
type ViolationEvent struct {
	EventType  string          `json:"eventType"`
	Timestamp  string          `json:"timestamp"`
	Entity     ViolationEntity `json:"entity"`
	Confidence float64         `json:"confidence"`
}

// Annotation is a prediction ready for display.
type Annotation struct {
	Prediction
	Color     color.RGBA
	Violation bool
}

// NormalizeType lower-cases a type and strips underscores and dashes.
func NormalizeType(t string) string {
	t = strings.ToLower(t)
	return strings.NewReplacer("_", "", "-", "").Replace(t)
}

// IsViolation reports whether a type denotes missing equipment ("no_hardhat", "NO-Vest").
// The check runs on the lower-cased type before separators are stripped.
func IsViolation(t string) bool {
	lower := strings.ToLower(t)
	return strings.Contains(lower, "no_") || strings.Contains(lower, "no-")
}

// Annotate resolves a color and violation flag for each prediction.
func Annotate(preds []Prediction, colorOf func(string) color.RGBA) []Annotation {
	out := make([]Annotation, len(preds))
	for i, p := range preds {
		out[i] = Annotation{
			Prediction: p,
			Color:      colorOf(p.Type),
			Violation:  IsViolation(p.Type),
		}
	}
	return out
}
