// Package session establishes, holds, and tears down the bidirectional
// WebSocket channel to the control plane (C5), and drives the
// exponential-backoff reconnect loop on top of it (C6) — see SPEC_FULL.md
// §4.4/§4.5.
package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/orra-dev/orra-sdk-go/pkg/orraerr"
	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
)

// State is one of the session's lifecycle states (spec.md §3).
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	maxReconnectAttempts = 10
	reconnectInitial     = 1 * time.Second
	reconnectMax         = 30 * time.Second
)

// FrameHandler is invoked with each inbound text frame; the dispatcher lives
// in pkg/dispatch and is wired in by the facade.
type FrameHandler func(raw []byte)

// WriterSetter receives the live connection so pkg/outbound can write to it,
// and nil when the connection drops.
type WriterSetter func(conn *websocket.Conn)

// Manager owns one logical session: it holds the current socket, runs the
// read loop, and reconnects with backoff on unexpected disconnects.
type Manager struct {
	baseURL   string
	apiKey    string
	serviceID string

	log     *orralog.Logger
	onFrame FrameHandler
	setConn WriterSetter

	state atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// Options configures a Manager.
type Options struct {
	BaseURL   string
	APIKey    string
	ServiceID string
	Log       *orralog.Logger
	OnFrame   FrameHandler
	SetConn   WriterSetter
}

// New builds a Manager in the Disconnected state. Call Start to dial.
func New(opts Options) *Manager {
	m := &Manager{
		baseURL:   opts.BaseURL,
		apiKey:    opts.APIKey,
		serviceID: opts.ServiceID,
		log:       opts.Log,
		onFrame:   opts.OnFrame,
		setConn:   opts.SetConn,
		closed:    make(chan struct{}),
	}
	m.state.Store(int32(Disconnected))
	return m
}

// State returns the session's current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Connected reports true only while State is Connected — the gate
// pkg/outbound polls before draining.
func (m *Manager) Connected() bool {
	return m.State() == Connected
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// wsURL rewrites the http(s) base URL to ws(s) and appends the session
// query string, per SPEC_FULL.md §4.4.
func (m *Manager) wsURL() (string, error) {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return "", fmt.Errorf("session: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("session: unsupported url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("serviceId", m.serviceID)
	q.Set("apiKey", m.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start dials once and, on an unexpected later disconnect, drives the
// reconnect controller in the background until Shutdown is called or the
// attempt cap is hit.
func (m *Manager) Start(ctx context.Context) error {
	if m.State() == Closed {
		return orraerr.NewConnectionError("session already shut down")
	}
	if err := m.dial(ctx); err != nil {
		return err
	}
	go m.reconnectLoop(ctx)
	return nil
}

func (m *Manager) dial(ctx context.Context) error {
	m.setState(Connecting)
	target, err := m.wsURL()
	if err != nil {
		m.setState(Disconnected)
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		m.setState(Disconnected)
		return orraerr.NewConnectionError(fmt.Sprintf("dial session: %v", err))
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.setState(Connected)
	if m.setConn != nil {
		m.setConn(conn)
	}
	m.log.Infof("session: connected")

	go m.readLoop(conn)
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}
		if m.onFrame != nil {
			m.onFrame(raw)
		}
	}
}

func (m *Manager) handleDisconnect(conn *websocket.Conn, err error) {
	m.mu.Lock()
	isCurrent := m.conn == conn
	if isCurrent {
		m.conn = nil
	}
	m.mu.Unlock()
	if !isCurrent {
		return // stale connection's reader noticed the close after a new dial already replaced it
	}

	if m.State() == Closing || m.State() == Closed {
		return
	}
	m.setState(Disconnected)
	if m.setConn != nil {
		m.setConn(nil)
	}
	m.log.Warnf("session: disconnected: %v", err)
}

// reconnectLoop is C6: it watches for a Disconnected state and redials with
// exponential backoff, capped at 10 consecutive attempts.
func (m *Manager) reconnectLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitial
	bo.Multiplier = 2
	bo.MaxInterval = reconnectMax
	bo.MaxElapsedTime = 0      // uncapped duration: the SDK caps attempts, not elapsed time
	bo.RandomizationFactor = 0 // delay sequence must land within the documented ±10%, not ±50%

	attempts := 0
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.closed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if m.State() != Disconnected {
			if m.State() == Connected {
				attempts = 0
				bo.Reset()
			}
			continue
		}
		if attempts >= maxReconnectAttempts {
			continue
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			continue
		}
		select {
		case <-m.closed:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		attempts++

		if err := m.dial(ctx); err != nil {
			m.log.Errorf("session: reconnect attempt %d/%d failed: %v", attempts, maxReconnectAttempts, err)
			if attempts >= maxReconnectAttempts {
				m.log.Errorf("session: giving up after %d reconnect attempts", maxReconnectAttempts)
			}
			continue
		}
		attempts = 0
		bo.Reset()
	}
}

// WriteJSON writes v as a text frame on the current connection, or returns
// an error if no connection is live — outbound.Pipeline uses this through
// the outbound.Writer interface.
func (m *Manager) WriteJSON(v any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return orraerr.NewConnectionError("write attempted with no live connection")
	}
	return conn.WriteJSON(v)
}

// Shutdown closes the session: Closing -> send a normal-closure control
// frame -> Closed. Idempotent.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() {
		m.setState(Closing)
		close(m.closed)

		m.mu.Lock()
		conn := m.conn
		m.conn = nil
		m.mu.Unlock()

		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
		if m.setConn != nil {
			m.setConn(nil)
		}
		m.setState(Closed)
	})
}
