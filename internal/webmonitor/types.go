package webmonitor

import (
	"github.com/dj-oyu/ppe-monitor/internal/detection"
)

// AnnotationJSON is one display-ready prediction on /api/detections/stream.
type AnnotationJSON struct {
	Type        string                `json:"type"`
	Confidence  float64               `json:"confidence"`
	BoundingBox detection.BoundingBox `json:"boundingBox"`
	Color       string                `json:"color"`
	Violation   bool                  `json:"violation"`
}

// DetectionPayload is the payload for /api/detections/stream.
type DetectionPayload struct {
	EventType   string           `json:"eventType"`
	Timestamp   string           `json:"timestamp"`
	Frame       int              `json:"frame"`
	FrameWidth  int              `json:"frameWidth"`
	FrameHeight int              `json:"frameHeight"`
	Source      string           `json:"source,omitempty"`
	Count       int              `json:"count"`
	Annotations []AnnotationJSON `json:"annotations"`
}

// ConnectionStatus describes the detection stream.
type ConnectionStatus struct {
	State   string `json:"state"`
	Retries int    `json:"retries"`
	URL     string `json:"url"`
}

// HealthStatus describes the backend status endpoint.
type HealthStatus struct {
	Status      string `json:"status"`
	FrameWidth  int    `json:"frameWidth"`
	FrameHeight int    `json:"frameHeight"`
}

// PartJSON is one entry of the PPE status snapshot.
type PartJSON struct {
	Present    bool    `json:"present"`
	Confidence float64 `json:"confidence"`
	LastSeen   *string `json:"lastSeen"`
}

// StatusPayload is the payload for /api/status and /api/status/stream.
type StatusPayload struct {
	Connection      ConnectionStatus           `json:"connection"`
	Health          HealthStatus               `json:"health"`
	FrameWidth      int                        `json:"frameWidth"`
	FrameHeight     int                        `json:"frameHeight"`
	FPS             float64                    `json:"fps"`
	Processing      bool                       `json:"processing"`
	TotalDetections int                        `json:"totalDetections"`
	ActiveCount     int                        `json:"activeCount"`
	PPE             map[string]PartJSON        `json:"ppe"`
	Missing         []string                   `json:"missing"`
	Violations      []detection.ViolationEvent `json:"violations"`
	Timestamp       float64                    `json:"timestamp"`
}
