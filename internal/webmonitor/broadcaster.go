package webmonitor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fogleman/gg"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/ppe-monitor/internal/detection"
	"github.com/dj-oyu/ppe-monitor/internal/fps"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
	"github.com/dj-oyu/ppe-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-monitor/internal/overlay"
)

// fanout delivers values to subscribed clients. Slow clients miss values
// instead of blocking the producer.
type fanout[T any] struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
}

func newFanout[T any](name string) *fanout[T] {
	return &fanout[T]{name: name, clients: make(map[int]chan T)}
}

// Subscribe adds a new client and returns a channel for receiving values.
func (f *fanout[T]) Subscribe() (int, <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan T, 2) // Buffer 2 values to avoid blocking
	f.clients[id] = ch

	logger.Debug(f.name, "Client #%d subscribed (total clients: %d)", id, len(f.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (f *fanout[T]) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.clients[id]; ok {
		close(ch)
		delete(f.clients, id)
		logger.Debug(f.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(f.clients))
	}
}

// Clients returns the number of subscribers.
func (f *fanout[T]) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fanout[T]) broadcast(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.clients {
		select {
		case ch <- v:
		default:
			// Client too slow, skip this value for this client
		}
	}
}

func (f *fanout[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // structpb.Struct, base64 encoded for SSE
}

// serializeEvent encodes payload as JSON and as a protobuf Struct built from
// the same JSON document.
func serializeEvent(payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	pbStruct, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("structpb: %w", err)
	}
	pbData, err := proto.Marshal(pbStruct)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// DetectionBroadcaster fans out each filtered detection batch to SSE clients.
type DetectionBroadcaster struct {
	*fanout[*SerializedEvent]
}

// NewDetectionBroadcaster creates a broadcaster for detection events.
func NewDetectionBroadcaster() *DetectionBroadcaster {
	return &DetectionBroadcaster{fanout: newFanout[*SerializedEvent]("DetectionBroadcaster")}
}

// Publish serializes payload and sends it to every client. Serialization is
// skipped when nobody is listening.
func (db *DetectionBroadcaster) Publish(payload DetectionPayload) {
	if db.Clients() == 0 {
		return
	}
	event, err := serializeEvent(payload)
	if err != nil {
		logger.Error("DetectionBroadcaster", "Serialize error: %v", err)
		return
	}
	db.broadcast(event)
}

// StatusBroadcaster periodically fans out status snapshots to SSE clients.
type StatusBroadcaster struct {
	*fanout[*SerializedEvent]
	status   func() StatusPayload
	clock    clock.Clock
	interval time.Duration
}

// NewStatusBroadcaster creates a broadcaster for status events.
func NewStatusBroadcaster(status func() StatusPayload, clk clock.Clock, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		fanout:   newFanout[*SerializedEvent]("StatusBroadcaster"),
		status:   status,
		clock:    clk,
		interval: interval,
	}
}

// Run emits a status event every interval until ctx is done.
func (sb *StatusBroadcaster) Run(ctx context.Context) {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := sb.clock.Ticker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sb.Clients() == 0 {
				continue
			}
			event, err := serializeEvent(sb.status())
			if err != nil {
				logger.Error("StatusBroadcaster", "Serialize error: %v", err)
				continue
			}
			sb.broadcast(event)
		}
	}
}

// FrameSource supplies what one overlay frame needs.
type FrameSource interface {
	Media() overlay.Media
	Annotations() []detection.Annotation
	Stats() overlay.Stats
	Processing() bool
}

// FrameBroadcaster renders overlay frames at a fixed rate and fans the JPEG
// encodings out to MJPEG clients.
type FrameBroadcaster struct {
	*fanout[[]byte]
	source   FrameSource
	renderer *overlay.Renderer
	canvas   *overlay.ImageCanvas
	tracker  *fps.Tracker
	metrics  *metrics.Metrics
	clock    clock.Clock
	interval time.Duration
	quality  int

	skipCount int // Count of ticks skipped when no clients
}

// NewFrameBroadcaster creates a broadcaster that renders overlay frames.
func NewFrameBroadcaster(source FrameSource, renderer *overlay.Renderer, tracker *fps.Tracker,
	mt *metrics.Metrics, clk clock.Clock, interval time.Duration, quality int) *FrameBroadcaster {
	return &FrameBroadcaster{
		fanout:   newFanout[[]byte]("FrameBroadcaster"),
		source:   source,
		renderer: renderer,
		canvas:   overlay.NewImageCanvas(renderer.Config().FontSize),
		tracker:  tracker,
		metrics:  mt,
		clock:    clk,
		interval: interval,
		quality:  quality,
	}
}

// Run renders one frame per tick until ctx is done.
func (fb *FrameBroadcaster) Run(ctx context.Context) {
	ticker := fb.clock.Ticker(fb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if fb.Clients() == 0 {
				fb.skipCount++
				if fb.skipCount%300 == 0 {
					logger.Debug("FrameBroadcaster", "No clients connected (idle for %d ticks)", fb.skipCount)
				}
				continue
			}
			fb.skipCount = 0

			jpegData := fb.RenderFrame(now)
			if jpegData == nil {
				continue
			}
			fb.broadcast(jpegData)
		}
	}
}

// RenderFrame draws the overlay for the current source state and returns it
// as a JPEG, or nil when there is no media size yet or rendering fails.
func (fb *FrameBroadcaster) RenderFrame(now time.Time) (jpegData []byte) {
	defer func() {
		if r := recover(); r != nil {
			fb.metrics.EncodeErrors.Add(1)
			logger.Error("FrameBroadcaster", "Render panicked: %v", r)
			jpegData = nil
		}
	}()

	rate := fb.tracker.Record(now)
	fb.metrics.SetFPS(rate)

	stats := fb.source.Stats()
	stats.FPS = rate
	if !fb.renderer.Render(fb.canvas, fb.source.Media(), fb.source.Annotations(), stats, fb.source.Processing()) {
		return nil
	}
	fb.metrics.FramesRendered.Add(1)

	jpegData, err := encodeFrame(fb.canvas.Image(), fb.quality)
	if err != nil {
		fb.metrics.EncodeErrors.Add(1)
		logger.Warn("FrameBroadcaster", "JPEG encode failed: %v", err)
		return nil
	}
	fb.metrics.FramesEncoded.Add(1)
	return jpegData
}

// encodeFrame flattens the transparent overlay onto a black backdrop.
func encodeFrame(overlayImg image.Image, quality int) ([]byte, error) {
	b := overlayImg.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.DrawImage(overlayImg, 0, 0)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
