package transport

import (
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ripplechat/client-go/internal/log"
)

// Config holds connection manager configuration.
type Config struct {
	// URL is the base endpoint, e.g. ws://localhost:8000. The chat path
	// and session query parameters are appended by Start.
	URL string

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	MaxMessageSize   int64

	Reconnect ReconnectPolicy
}

// ReconnectPolicy governs retry scheduling after an abnormal close.
// The defaults reproduce the baseline contract: a fixed 3s delay with
// no attempt cap.
type ReconnectPolicy struct {
	Delay       time.Duration
	MaxAttempts int     // 0 = unbounded
	Multiplier  float64 // 1.0 = fixed interval
	Jitter      float64 // fraction of the delay, 0 = none
}

// Manager owns one logical connection per session and exposes its
// lifecycle as an explicit state machine. It is the sole subscriber to
// the underlying transport; raw inbound envelopes are emitted only while
// Connected.
type Manager struct {
	cfg    Config
	logger zerolog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	retry   *time.Timer
	attempt int
	target  string
	stopped bool

	states  chan StateChange
	inbound chan []byte
	send    chan []byte
}

func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	if cfg.Reconnect.Delay <= 0 {
		cfg.Reconnect.Delay = 3 * time.Second
	}
	if cfg.Reconnect.Multiplier <= 0 {
		cfg.Reconnect.Multiplier = 1.0
	}

	return &Manager{
		cfg:    cfg,
		logger: logger.With().Str(log.FieldComponent, "transport").Logger(),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},

		state:   StateDisconnected,
		states:  make(chan StateChange, 16),
		inbound: make(chan []byte, 256),
		send:    make(chan []byte, 256),
	}
}

// Start constructs the connection target and begins dialing.
func (m *Manager) Start(username, channel string) error {
	if strings.TrimSpace(username) == "" {
		return &ConfigurationError{Reason: "username required before connecting"}
	}

	target, err := buildURL(m.cfg.URL, username, channel)
	if err != nil {
		return &ConfigurationError{Reason: "invalid endpoint: " + err.Error()}
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return &ConfigurationError{Reason: "already started"}
	}
	m.target = target
	m.transitionLocked(StateConnecting)
	m.mu.Unlock()

	go m.dial()
	return nil
}

// Stop closes the connection with a clean-close signal and cancels any
// pending reconnect. Idempotent; no further reconnection is scheduled.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.retry != nil {
		m.retry.Stop()
	}
	conn := m.conn
	m.conn = nil
	m.transitionLocked(StateClosed)
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(m.cfg.WriteWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			m.logger.Debug().Err(err).Msg("close frame write failed")
		}
		conn.Close()
	}
}

// Send enqueues one wire unit for the write pump.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state != StateConnected {
		return &NotConnectedError{State: state}
	}

	select {
	case m.send <- data:
		return nil
	default:
		return &ConnectionError{Op: "send", Err: errSendBufferFull}
	}
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// States emits one StateChange per lifecycle transition.
func (m *Manager) States() <-chan StateChange { return m.states }

// Inbound emits raw wire envelopes received while Connected.
func (m *Manager) Inbound() <-chan []byte { return m.inbound }

func (m *Manager) dial() {
	conn, _, err := m.dialer.Dial(m.target, nil)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn().Err(err).Str(log.FieldURL, m.cfg.URL).Msg("dial failed")
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.attempt = 0
	m.transitionLocked(StateConnected)
	m.mu.Unlock()

	done := make(chan struct{})
	go m.writePump(conn, done)
	go m.readPump(conn, done)
}

func (m *Manager) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	if m.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(m.cfg.MaxMessageSize)
	}
	if m.cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
			return nil
		})
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(conn, err)
			return
		}
		m.inbound <- message
	}
}

func (m *Manager) writePump(conn *websocket.Conn, done chan struct{}) {
	// Closing the connection on exit forces the read pump into its
	// error path, so a write failure is handled exactly like an
	// abnormal close.
	defer conn.Close()

	var ticker *time.Ticker
	var ping <-chan time.Time
	if m.cfg.PingInterval > 0 {
		ticker = time.NewTicker(m.cfg.PingInterval)
		ping = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-done:
			return

		case message := <-m.send:
			conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				m.logger.Warn().Err(err).Msg("write failed")
				return
			}

		case <-ping:
			conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) handleReadError(conn *websocket.Conn, err error) {
	conn.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.conn != conn {
		return
	}
	m.conn = nil

	// A normal close frame from the server is a clean close: terminal,
	// never retried. Everything else schedules reconnection.
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		m.logger.Info().Msg("server closed connection")
		m.transitionLocked(StateClosed)
		return
	}

	cerr := &ConnectionError{Op: "read", Err: err}
	m.logger.Warn().Err(cerr).Str(log.FieldState, m.state.String()).Msg("connection lost")
	m.scheduleReconnectLocked()
}

func (m *Manager) scheduleReconnectLocked() {
	// Envelopes queued for the dead connection must not replay on the
	// next one; a stale typing_start or message is worse than a drop.
	m.drainSendLocked()

	m.attempt++
	policy := m.cfg.Reconnect

	if policy.MaxAttempts > 0 && m.attempt > policy.MaxAttempts {
		m.logger.Error().Int(log.FieldAttempt, m.attempt-1).Msg("reconnect attempts exhausted")
		m.transitionLocked(StateClosed)
		return
	}

	if !m.transitionLocked(StateReconnecting) {
		return
	}

	delay := backoffDelay(policy, m.attempt)
	m.logger.Info().Int(log.FieldAttempt, m.attempt).Dur("delay", delay).Msg("scheduling reconnect")

	m.retry = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.transitionLocked(StateConnecting)
		m.mu.Unlock()

		m.dial()
	})
}

func (m *Manager) drainSendLocked() {
	for {
		select {
		case <-m.send:
		default:
			return
		}
	}
}

// transitionLocked applies a state change if the transition table allows
// it. An illegal transition is refused and logged, never applied.
func (m *Manager) transitionLocked(to State) bool {
	from := m.state
	if from == to {
		return false
	}
	if !canTransition(from, to) {
		m.logger.Error().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("illegal state transition refused")
		return false
	}

	m.state = to
	change := StateChange{From: from, To: to}
	for {
		select {
		case m.states <- change:
			return true
		default:
		}
		// Buffer full: discard the oldest change to make room. A slow
		// subscriber loses stale intermediate transitions, never the
		// latest one. Emission is serialized under m.mu, so the retry
		// cannot spin.
		select {
		case old := <-m.states:
			m.logger.Debug().
				Str("from", old.From.String()).
				Str("to", old.To.String()).
				Msg("stale state change discarded, subscriber not draining")
		default:
		}
	}
}

func backoffDelay(policy ReconnectPolicy, attempt int) time.Duration {
	d := float64(policy.Delay) * math.Pow(policy.Multiplier, float64(attempt-1))
	if policy.Jitter > 0 {
		d += d * policy.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func buildURL(base, username, channel string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/chat"

	q := u.Query()
	q.Set("username", username)
	q.Set("channel", channel)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
