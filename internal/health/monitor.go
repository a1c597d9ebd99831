package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/ppe-monitor/internal/detection"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
)

// Status is the coarse liveness of the backend.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// Response is the body returned by the status endpoint.
type Response struct {
	Status      string `json:"status"`
	FrameWidth  int    `json:"frameWidth,omitempty"`
	FrameHeight int    `json:"frameHeight,omitempty"`
}

// State is the monitor's view of the backend.
type State struct {
	Status      Status `json:"status"`
	FrameWidth  int    `json:"frameWidth"`
	FrameHeight int    `json:"frameHeight"`
}

// Config defines how the status endpoint is polled.
type Config struct {
	URL      string        `yaml:"url" env:"URL"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// Reported frame sizes above these are ignored.
	MaxFrameWidth  int `yaml:"-"`
	MaxFrameHeight int `yaml:"-"`
}

// DefaultConfig returns the standard polling configuration.
func DefaultConfig() Config {
	return Config{
		URL:      "http://localhost:3001/health",
		Interval: 5 * time.Second,
		Timeout:  3 * time.Second,

		MaxFrameWidth:  detection.MaxFrameWidth,
		MaxFrameHeight: detection.MaxFrameHeight,
	}
}

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusHandler is called with the previous and new status on every change.
type StatusHandler func(from, to Status)

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock replaces the clock used for the polling timer.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(d Doer) Option {
	return func(m *Monitor) { m.client = d }
}

type subscriber struct {
	id int
	fn StatusHandler
}

// Monitor polls the status endpoint and tracks connected/reconnecting state.
type Monitor struct {
	cfg    Config
	client Doer
	clock  clock.Clock

	mu      sync.Mutex
	state   State
	running bool
	stop    chan struct{}
	ticker  *clock.Ticker
	done    chan struct{}

	inFlight atomic.Bool

	subMu  sync.Mutex
	subs   []subscriber
	nextID int
}

// NewMonitor creates a Monitor in the connecting state.
func NewMonitor(cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxFrameWidth <= 0 || cfg.MaxFrameHeight <= 0 {
		cfg.MaxFrameWidth, cfg.MaxFrameHeight = def.MaxFrameWidth, def.MaxFrameHeight
	}

	m := &Monitor{
		cfg:   cfg,
		clock: clock.New(),
		state: State{Status: StatusConnecting},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: cfg.Timeout}
	}
	return m
}

// OnStatusChanged registers h and returns a function that removes it.
// A nil handler is ignored.
func (m *Monitor) OnStatusChanged(h StatusHandler) func() {
	if h == nil {
		return func() {}
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs = append(m.subs, subscriber{id: id, fn: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// State returns a copy of the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start runs a check immediately and then every interval. Calling Start on a
// running monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.ticker = m.clock.Ticker(m.cfg.Interval)

	logger.Info("Health", "Polling %s every %v", m.cfg.URL, m.cfg.Interval)
	go m.run(m.ticker, m.stop, m.done)
}

// Stop cancels the polling timer and returns without waiting. A request
// already in flight still completes and may update state. Calling Stop on a
// stopped monitor does nothing. It is safe to call from a status handler.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.ticker.Stop()
	close(m.stop)
}

// Wait blocks until the polling goroutine of the last Start has exited,
// including any check still in flight when Stop was called.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Monitor) run(ticker *clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	m.CheckHealth(context.Background())
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.CheckHealth(context.Background())
		}
	}
}

// CheckHealth issues one status request and updates state. Failures are not
// returned; they move the monitor to reconnecting. A call made while another
// check is still in flight is skipped and returns the current status.
func (m *Monitor) CheckHealth(ctx context.Context) Status {
	if !m.inFlight.CompareAndSwap(false, true) {
		logger.Debug("Health", "Check already in flight, skipping")
		return m.State().Status
	}
	defer m.inFlight.Store(false)

	resp, err := m.fetch(ctx)
	if err != nil {
		logger.Warn("Health", "Health check failed: %v", err)
		return m.transition(StatusReconnecting, nil)
	}
	if !strings.EqualFold(resp.Status, "ok") {
		logger.Warn("Health", "Backend reported status %q", resp.Status)
		return m.transition(StatusReconnecting, nil)
	}
	return m.transition(StatusConnected, resp)
}

func (m *Monitor) fetch(ctx context.Context) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		return nil, fmt.Errorf("unexpected status %s", httpResp.Status)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func (m *Monitor) transition(to Status, resp *Response) Status {
	m.mu.Lock()
	from := m.state.Status
	m.state.Status = to
	if resp != nil {
		m.updateFrameSizeLocked(resp.FrameWidth, resp.FrameHeight)
	}
	m.mu.Unlock()

	if from == to {
		return to
	}

	logger.Info("Health", "Status %s -> %s", from, to)
	m.subMu.Lock()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.subMu.Unlock()

	for _, s := range subs {
		invoke(s.fn, from, to)
	}
	return to
}

// updateFrameSizeLocked applies reported dimensions. Absent fields keep the
// prior value; values above the configured maximum are ignored.
func (m *Monitor) updateFrameSizeLocked(w, h int) {
	if w > m.cfg.MaxFrameWidth || h > m.cfg.MaxFrameHeight {
		logger.Warn("Health", "Ignoring frame size %dx%d above limit %dx%d",
			w, h, m.cfg.MaxFrameWidth, m.cfg.MaxFrameHeight)
		return
	}
	if w > 0 {
		m.state.FrameWidth = w
	}
	if h > 0 {
		m.state.FrameHeight = h
	}
}

func invoke(h StatusHandler, from, to Status) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Health", "Status handler panicked: %v", r)
		}
	}()
	h(from, to)
}
