package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/cors"

	"github.com/dj-oyu/ppe-monitor/internal/connection"
	"github.com/dj-oyu/ppe-monitor/internal/detection"
	"github.com/dj-oyu/ppe-monitor/internal/fps"
	"github.com/dj-oyu/ppe-monitor/internal/health"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
	"github.com/dj-oyu/ppe-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-monitor/internal/overlay"
)

// StreamConnection is the detection stream the server republishes.
// *connection.Manager satisfies it.
type StreamConnection interface {
	Config() connection.Config
	State() connection.State
	Retries() int
	On(kind connection.EventKind, h connection.Handler) func()
	Reconnect(ctx context.Context) error
}

// HealthSource reports backend liveness. *health.Monitor satisfies it.
type HealthSource interface {
	State() health.State
	OnStatusChanged(h health.StatusHandler) func()
}

// Option customizes a Server.
type Option func(*Server)

// WithClock replaces the clock driving render and status ticks.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRenderer replaces the overlay renderer.
func WithRenderer(r *overlay.Renderer) Option {
	return func(s *Server) { s.renderer = r }
}

// WithTracker replaces the frame rate tracker.
func WithTracker(t *fps.Tracker) Option {
	return func(s *Server) { s.tracker = t }
}

// Server republishes the detection pipeline to browsers: an MJPEG overlay
// stream, SSE status and detection feeds, and a manual reconnect endpoint.
type Server struct {
	cfg      Config
	conn     StreamConnection
	health   HealthSource
	session  *Session
	renderer *overlay.Renderer
	tracker  *fps.Tracker
	metrics  *metrics.Metrics
	clock    clock.Clock

	frames     *FrameBroadcaster
	detections *DetectionBroadcaster
	status     *StatusBroadcaster

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe []func()
}

// NewServer returns a configured monitor server. Call Start to begin
// consuming events and rendering.
func NewServer(cfg Config, conn StreamConnection, hs HealthSource, proc *detection.Processor, opts ...Option) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:    cfg,
		conn:   conn,
		health: hs,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.renderer == nil {
		s.renderer = overlay.NewRenderer(overlay.DefaultConfig())
	}
	if s.tracker == nil {
		s.tracker = fps.NewTracker(fps.DefaultWindowSize)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	s.session = NewSession(proc, s.renderer, cfg.ViolationWindow)
	s.frames = NewFrameBroadcaster(s, s.renderer, s.tracker, s.metrics, s.clock, cfg.RenderInterval(), cfg.JPEGQuality)
	s.detections = NewDetectionBroadcaster()
	s.status = NewStatusBroadcaster(s.Status, s.clock, cfg.StatusInterval)
	return s
}

// Session exposes the session state.
func (s *Server) Session() *Session {
	return s.session
}

// Start subscribes to the stream and health monitor and starts the render and
// status loops. Calling Start on a running server does nothing.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	s.unsubscribe = []func(){
		s.conn.On(connection.EventDetection, s.onDetection),
		s.conn.On(connection.EventViolation, s.onViolation),
		s.conn.On(connection.EventConnected, func(connection.Event) {
			logger.Info("Monitor", "Detection stream connected")
		}),
		s.conn.On(connection.EventDisconnected, func(ev connection.Event) {
			if ev.Err != nil {
				logger.Warn("Monitor", "Detection stream lost: %v", ev.Err)
			}
		}),
		s.conn.On(connection.EventReconnectFailed, func(ev connection.Event) {
			logger.Error("Monitor", "Detection stream gave up after %d attempts; POST /api/reconnect to retry", ev.Attempts)
		}),
	}
	if s.health != nil {
		s.metrics.SetHealthConnected(s.health.State().Status == health.StatusConnected)
		s.unsubscribe = append(s.unsubscribe, s.health.OnStatusChanged(func(_, to health.Status) {
			s.metrics.SetHealthConnected(to == health.StatusConnected)
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.frames.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.status.Run(ctx)
	}()
	logger.Info("Monitor", "Rendering overlay at %d fps", s.cfg.RenderFPS)
}

// Stop halts the loops, drops subscriptions, and disconnects stream clients.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	s.wg.Wait()
	for _, fn := range unsubscribe {
		fn()
	}
	s.frames.closeAll()
	s.detections.closeAll()
	s.status.closeAll()
}

func (s *Server) onDetection(ev connection.Event) {
	payload := s.session.ApplyDetection(ev.Detection, s.clock.Now())
	s.metrics.PredictionsDisplayed.Add(uint64(len(payload.Annotations)))
	s.detections.Publish(payload)
}

func (s *Server) onViolation(ev connection.Event) {
	v := ev.Violation
	logger.Warn("Monitor", "PPE violation: person %s missing %v at %s", v.Entity.PersonID, v.Entity.Missing, v.Entity.Location)
	s.session.AddViolation(v)
}

// Media returns the size overlay frames are drawn at: the latest batch's
// frame size, else the size reported by the health endpoint. Sizes above the
// renderer's maximum are skipped.
func (s *Server) Media() overlay.Media {
	rc := s.renderer.Config()
	if w, h := s.session.FrameSize(); detection.FrameSizeWithin(w, h, rc.MaxSurfaceWidth, rc.MaxSurfaceHeight) {
		return overlay.FrameSize{Width: w, Height: h}
	}
	if s.health != nil {
		hs := s.health.State()
		if detection.FrameSizeWithin(hs.FrameWidth, hs.FrameHeight, rc.MaxSurfaceWidth, rc.MaxSurfaceHeight) {
			return overlay.FrameSize{Width: hs.FrameWidth, Height: hs.FrameHeight}
		}
	}
	return nil
}

// Annotations returns the current display set.
func (s *Server) Annotations() []detection.Annotation {
	return s.session.Annotations()
}

// Stats returns the panel counters. FPS is filled in by the render loop.
func (s *Server) Stats() overlay.Stats {
	snap := s.session.Snapshot()
	return overlay.Stats{
		TotalDetections: snap.TotalDetections,
		ActiveCount:     snap.ActiveCount,
		FPS:             s.tracker.FPS(),
	}
}

// Processing reports whether the stream is connected and a batch arrived recently.
func (s *Server) Processing() bool {
	if s.conn.State() != connection.StateConnected {
		return false
	}
	last := s.session.LastBatchAt()
	return !last.IsZero() && s.clock.Now().Sub(last) <= s.cfg.ProcessingTimeout
}

// Status builds the /api/status payload.
func (s *Server) Status() StatusPayload {
	snap := s.session.Snapshot()
	ppe, missing := ppeJSON(snap.PPE)

	payload := StatusPayload{
		Connection: ConnectionStatus{
			State:   string(s.conn.State()),
			Retries: s.conn.Retries(),
			URL:     s.conn.Config().URL,
		},
		FPS:             s.tracker.FPS(),
		Processing:      s.Processing(),
		TotalDetections: snap.TotalDetections,
		ActiveCount:     snap.ActiveCount,
		PPE:             ppe,
		Missing:         missing,
		Violations:      snap.Violations,
		Timestamp:       float64(s.clock.Now().UnixMilli()) / 1000,
	}
	if s.health != nil {
		hs := s.health.State()
		payload.Health = HealthStatus{Status: string(hs.Status), FrameWidth: hs.FrameWidth, FrameHeight: hs.FrameHeight}
	}
	if m := s.Media(); m != nil {
		payload.FrameWidth, payload.FrameHeight = m.IntrinsicSize()
	}
	return payload
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("/api/reconnect", s.handleReconnect)
	mux.Handle("/metrics", s.metrics.Handler())

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         86400,
	}).Handler(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	s.metrics.ClientConnected()
	defer func() {
		s.frames.Unsubscribe(id)
		s.metrics.ClientDisconnected()
	}()
	streamMJPEGFromChannel(w, r, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	initial, err := serializeEvent(s.Status())
	if err != nil {
		logger.Error("StatusBroadcaster", "Serialize error: %v", err)
	}
	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r), initial)
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.detections.Subscribe()
	defer s.detections.Unsubscribe(id)
	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r), nil)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err := s.conn.Reconnect(ctx)
	switch {
	case err == nil:
		writeJSON(w, map[string]any{"status": string(s.conn.State())})
	case errors.Is(err, connection.ErrSuperseded):
		writeJSONWithStatus(w, map[string]any{"status": string(s.conn.State())}, http.StatusAccepted)
	case errors.Is(err, connection.ErrClosed):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusConflict)
	default:
		writeJSONWithStatus(w, map[string]any{
			"error":   err.Error(),
			"status":  string(s.conn.State()),
			"retries": s.conn.Retries(),
		}, http.StatusBadGateway)
	}
}

// wantsProtobuf reports whether the client prefers protobuf over JSON.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
