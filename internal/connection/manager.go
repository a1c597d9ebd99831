package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/dj-oyu/ppe-monitor/internal/detection"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
	"github.com/dj-oyu/ppe-monitor/internal/metrics"
)

var (
	// ErrClosed is returned by operations on a Manager after Disconnect.
	ErrClosed = errors.New("connection: manager closed")
	// ErrAlreadyConnected is returned by Connect while connected or connecting.
	ErrAlreadyConnected = errors.New("connection: already connected")
	// ErrSuperseded is returned by Connect or Reconnect when a later call took
	// over before the dial finished. The manager stays open.
	ErrSuperseded = errors.New("connection: superseded by a newer connect")
)

// State is the lifecycle state of the detection stream.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

func (s State) metricValue() uint64 {
	switch s {
	case StateConnecting:
		return metrics.ConnectionConnecting
	case StateConnected:
		return metrics.ConnectionConnected
	case StateReconnecting:
		return metrics.ConnectionReconnecting
	default:
		return metrics.ConnectionDisconnected
	}
}

// Config defines the stream endpoint and reconnection policy.
type Config struct {
	URL         string        `yaml:"url" env:"URL"`
	MaxRetries  int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadLimit   int64         `yaml:"read_limit" env:"READ_LIMIT"`
}

// DefaultConfig returns the standard reconnection policy: five attempts, two
// seconds apart.
func DefaultConfig() Config {
	return Config{
		URL:         "ws://localhost:3001/ws",
		MaxRetries:  5,
		RetryDelay:  2 * time.Second,
		DialTimeout: 5 * time.Second,
		ReadLimit:   4 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	return c
}

// Conn is an open duplex transport. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer    *websocket.Dialer
	ReadLimit int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with %s: %w", resp.Status, err)
		}
		return nil, err
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return conn, nil
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithClock replaces the clock used for reconnect delays.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithProcessor sets the processor used to decode inbound batches.
func WithProcessor(p *detection.Processor) Option {
	return func(m *Manager) { m.proc = p }
}

// WithMetrics records stream counters into mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager owns one logical connection to the detection stream, publishes typed
// events, and reconnects after unexpected drops.
type Manager struct {
	cfg     Config
	dialer  Dialer
	clock   clock.Clock
	proc    *detection.Processor
	metrics *metrics.Metrics
	bus     *Bus

	mu        sync.Mutex
	state     State
	retries   int
	conn      Conn
	timer     *clock.Timer
	epoch     uint64 // bumped whenever a pending dial or timer is superseded
	closed    bool
	exhausted bool
}

// NewManager creates a disconnected Manager. Nothing is dialed until Connect.
func NewManager(cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:   cfg,
		clock: clock.New(),
		bus:   NewBus(),
		state: StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = WebsocketDialer{ReadLimit: cfg.ReadLimit}
	}
	if m.proc == nil {
		m.proc = detection.NewProcessor(detection.DefaultMinConfidence)
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// On registers h for kind. See Bus.On.
func (m *Manager) On(kind EventKind, h Handler) func() {
	return m.bus.On(kind, h)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries returns the number of reconnect attempts since the last successful open.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Connect dials the stream and returns once it is open. If the dial fails the
// error is returned, an EventError is published, and the reconnect policy
// takes over.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.stopTimerLocked()
	m.setStateLocked(StateConnecting)
	epoch := m.epoch
	m.mu.Unlock()

	return m.connect(ctx, epoch)
}

// Reconnect drops any current transport, resets the retry budget, and dials
// immediately. It is the recovery path once automatic attempts are exhausted.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.stopTimerLocked()
	m.retries = 0
	m.exhausted = false
	old := m.conn
	m.conn = nil
	m.setStateLocked(StateConnecting)
	epoch := m.epoch
	m.mu.Unlock()

	logger.Info("Connection", "Manual reconnect to %s", m.cfg.URL)
	if old != nil {
		old.Close()
		m.publish(Event{Kind: EventDisconnected})
	}
	return m.connect(ctx, epoch)
}

// Disconnect closes the transport, cancels any pending reconnect, and marks
// the manager disconnected. Further Connect calls return ErrClosed. Calling
// Disconnect more than once is a no-op.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopTimerLocked()
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	logger.Info("Connection", "Disconnected from %s", m.cfg.URL)
	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.publish(Event{Kind: EventDisconnected})
	return err
}

func (m *Manager) connect(ctx context.Context, epoch uint64) error {
	conn, err := m.dial(ctx)
	if err != nil {
		logger.Warn("Connection", "Connect to %s failed: %v", m.cfg.URL, err)
		m.publish(Event{Kind: EventError, Err: err})
		m.scheduleReconnect(epoch)
		return fmt.Errorf("connect %s: %w", m.cfg.URL, err)
	}
	return m.open(conn, epoch)
}

func (m *Manager) dial(ctx context.Context) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	return m.dialer.Dial(ctx, m.cfg.URL)
}

// open installs conn if the dial that produced it is still current.
func (m *Manager) open(conn Conn, epoch uint64) error {
	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		closed := m.closed
		m.mu.Unlock()
		conn.Close()
		if closed {
			return ErrClosed
		}
		return ErrSuperseded
	}
	m.conn = conn
	m.retries = 0
	m.exhausted = false
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	logger.Info("Connection", "Connected to %s", m.cfg.URL)
	m.publish(Event{Kind: EventConnected})
	go m.readLoop(conn, epoch)
	return nil
}

func (m *Manager) readLoop(conn Conn, epoch uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(conn, epoch, err)
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) connectionLost(conn Conn, epoch uint64, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// Closed on purpose by Disconnect or Reconnect.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()
	conn.Close()

	logger.Warn("Connection", "Connection lost: %v", err)
	m.publish(Event{Kind: EventDisconnected, Err: err})
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.publish(Event{Kind: EventError, Err: err})
	}
	m.scheduleReconnect(epoch)
}

// scheduleReconnect arms one delayed attempt, or gives up once the retry
// budget is spent.
func (m *Manager) scheduleReconnect(epoch uint64) {
	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		m.mu.Unlock()
		return
	}

	if m.retries >= m.cfg.MaxRetries {
		m.setStateLocked(StateDisconnected)
		first := !m.exhausted
		m.exhausted = true
		attempts := m.retries
		m.mu.Unlock()

		if first {
			logger.Error("Connection", "Giving up on %s after %d reconnect attempts", m.cfg.URL, attempts)
			m.publish(Event{Kind: EventReconnectFailed, Attempts: attempts})
		}
		return
	}

	m.retries++
	m.epoch++
	next := m.epoch
	attempt := m.retries
	m.setStateLocked(StateReconnecting)
	m.timer = m.clock.AfterFunc(m.cfg.RetryDelay, func() { m.attempt(next) })
	m.mu.Unlock()

	m.metrics.ReconnectAttempts.Add(1)
	logger.Info("Connection", "Reconnect attempt %d/%d in %v", attempt, m.cfg.MaxRetries, m.cfg.RetryDelay)
}

func (m *Manager) attempt(epoch uint64) {
	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	conn, err := m.dial(context.Background())
	if err != nil {
		logger.Warn("Connection", "Reconnect to %s failed: %v", m.cfg.URL, err)
		m.publish(Event{Kind: EventError, Err: err})
		m.scheduleReconnect(epoch)
		return
	}
	_ = m.open(conn, epoch)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.epoch++
}

func (m *Manager) setStateLocked(s State) {
	if m.state != s {
		logger.Debug("Connection", "State %s -> %s", m.state, s)
	}
	m.state = s
	m.metrics.ConnectionState.Store(s.metricValue())
}

func (m *Manager) publish(ev Event) {
	ev.Time = m.clock.Now()
	m.bus.Publish(ev)
}

// dispatch decodes one inbound message. Anything that fails to parse or lacks a
// recognized eventType is dropped.
func (m *Manager) dispatch(data []byte) {
	m.metrics.MessagesReceived.Add(1)

	var env detection.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.drop("unparseable message: %v", err)
		return
	}

	switch detection.Classify(env.EventType) {
	case detection.KindDetection:
		ev, err := m.proc.Parse(data)
		if err != nil {
			m.drop("bad detection batch: %v", err)
			return
		}
		m.metrics.DetectionBatches.Add(1)
		m.publish(Event{Kind: EventDetection, Detection: ev, Raw: data})
	case detection.KindViolation:
		ev, err := m.proc.ParseViolation(data)
		if err != nil {
			m.drop("bad violation notification: %v", err)
			return
		}
		m.metrics.ViolationsReceived.Add(1)
		m.publish(Event{Kind: EventViolation, Violation: ev, Raw: data})
	default:
		m.drop("unrecognized eventType %q", env.EventType)
	}
}

func (m *Manager) drop(format string, args ...interface{}) {
	m.metrics.MessagesDropped.Add(1)
	logger.Debug("Connection", "Dropping "+format, args...)
}
