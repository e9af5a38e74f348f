// Package channel owns the lifecycle of one auto-reconnecting WebSocket:
// dialing, the open handshake, exponential-backoff reconnects and teardown.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"pm-assistant/internal/logging"
	"pm-assistant/internal/metrics"
	"pm-assistant/internal/protocol"
)

const defaultHandshakeFallback = 3 * time.Second

var (
	// ErrNotOpen is returned by Send when no socket is open.
	ErrNotOpen = errors.New("channel: connection not open")
	// ErrConnectionExhausted means the reconnect attempts ran out. The
	// connection will not retry on its own again.
	ErrConnectionExhausted = errors.New("channel: reconnect attempts exhausted")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("channel: connection closed")
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Socket is one live WebSocket. ReadMessage returns text payloads only.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// Handlers are invoked without any connection lock held.
type Handlers struct {
	// OnOpen runs when a socket opens, when the server acknowledges the
	// handshake, and when the handshake fallback expires without an ack.
	// It must be idempotent.
	OnOpen func()
	// OnMessage receives every inbound frame except the handshake ack, in
	// arrival order.
	OnMessage func(frame []byte)
	// OnStateChange reports transitions. Read Status for current values.
	OnStateChange func(State)
	// OnExhausted runs once when the connection gives up reconnecting.
	OnExhausted func()
}

// Options configures a Connection.
type Options struct {
	Name              string // label for logs and metrics
	Endpoint          string
	Dialer            Dialer
	Policy            Policy
	HandshakeFallback time.Duration
	Clock             clockwork.Clock
	Logger            *zap.Logger
	Handlers          Handlers
}

// Status is a snapshot of the connection for display.
type Status struct {
	State       State
	Attempt     int
	MaxAttempts int
	Exhausted   bool
}

// Connection drives one socket through Idle → Connecting → Open → Closed
// and back to Connecting on unexpected closes, until Close is called or
// the policy's attempts run out.
type Connection struct {
	name     string
	endpoint string
	dialer   Dialer
	policy   Policy
	fallback time.Duration
	clock    clockwork.Clock
	log      *zap.Logger
	h        Handlers

	mu        sync.Mutex
	state     State
	attempt   int
	wanted    bool
	exhausted bool
	// gen identifies the current socket; callbacks from older sockets,
	// dials and timers compare against it and become inert.
	gen            uint64
	sock           Socket
	acked          bool
	cancelDial     context.CancelFunc
	reconnectTimer clockwork.Timer
	fallbackTimer  clockwork.Timer

	writeMu sync.Mutex
}

// New creates an idle connection. Nothing is dialed until Connect.
func New(opts Options) *Connection {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	fallback := opts.HandshakeFallback
	if fallback == 0 {
		fallback = defaultHandshakeFallback
	}
	name := opts.Name
	if name == "" {
		name = "channel"
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	return &Connection{
		name:     name,
		endpoint: opts.Endpoint,
		dialer:   opts.Dialer,
		policy:   opts.Policy.withDefaults(),
		fallback: fallback,
		clock:    clock,
		log:      logging.OrNop(opts.Logger).With(zap.String("channel", name), zap.String("endpoint", opts.Endpoint)),
		h:        opts.Handlers,
		state:    StateIdle,
		wanted:   true,
	}
}

// Endpoint returns the URL this connection dials.
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// Connect starts dialing unless a socket is already connecting or open.
// A pending reconnect timer is cancelled. It returns ErrClosed after Close
// and ErrConnectionExhausted once the attempts have run out.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if !c.wanted {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.exhausted {
		c.mu.Unlock()
		return ErrConnectionExhausted
	}
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}

	c.stopReconnectLocked()
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.setStateLocked(StateConnecting)
	attempt := c.attempt
	c.mu.Unlock()

	c.log.Debug("connecting", zap.Int("attempt", attempt))
	c.notifyState(StateConnecting)

	go c.run(ctx, cancel, gen)
	return nil
}

// run dials and then serves the socket's read loop until it fails.
func (c *Connection) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	sock, err := c.dialer.Dial(ctx, c.endpoint)
	cancel()
	if err != nil {
		if c.isCurrent(gen) {
			c.log.Warn("dial failed", zap.Error(err))
		}
		c.handleClose(gen)
		return
	}

	c.mu.Lock()
	if gen != c.gen || !c.wanted {
		c.mu.Unlock()
		sock.Close()
		return
	}
	c.sock = sock
	c.acked = false
	c.attempt = 0
	c.cancelDial = nil
	c.setStateLocked(StateOpen)
	c.fallbackTimer = c.clock.AfterFunc(c.fallback, func() {
		c.handshakeExpired(gen)
	})
	c.mu.Unlock()

	c.log.Info("connected")
	c.notifyState(StateOpen)
	c.fireOpen()

	c.readLoop(gen, sock)
}

func (c *Connection) readLoop(gen uint64, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			// Errors are only logged; the close path below decides whether
			// to reconnect.
			if c.isCurrent(gen) {
				c.log.Warn("socket read failed", zap.Error(err))
			}
			c.handleClose(gen)
			return
		}
		if !c.isCurrent(gen) {
			return
		}

		frameType := protocol.PeekType(data)
		label := frameType
		if label == "" {
			label = "unknown"
		}
		metrics.FramesReceived.WithLabelValues(c.name, label).Inc()

		if frameType == protocol.TypeConnectionEstablished {
			c.handleAck(gen)
			continue
		}
		if c.h.OnMessage != nil {
			c.h.OnMessage(data)
		}
	}
}

// handleClose reacts to the end of socket generation gen: either schedule
// a reconnect with backoff or give up.
func (c *Connection) handleClose(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.wanted {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	c.cancelDial = nil
	c.stopFallbackLocked()
	c.setStateLocked(StateClosed)

	if c.attempt >= c.policy.MaxAttempts {
		c.exhausted = true
		attempts := c.attempt
		c.mu.Unlock()

		c.log.Error("giving up reconnecting", zap.Int("attempts", attempts), zap.Error(ErrConnectionExhausted))
		metrics.ConnectionsExhausted.WithLabelValues(c.name).Inc()
		c.notifyState(StateClosed)
		if c.h.OnExhausted != nil {
			c.h.OnExhausted()
		}
		return
	}

	delay := c.policy.NextDelay(c.attempt)
	c.attempt++
	attempt := c.attempt
	c.reconnectTimer = c.clock.AfterFunc(delay, func() {
		c.reconnect(gen)
	})
	c.mu.Unlock()

	c.log.Info("reconnect scheduled",
		zap.Duration("delay", delay),
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", c.policy.MaxAttempts))
	metrics.ReconnectsScheduled.WithLabelValues(c.name).Inc()
	c.notifyState(StateClosed)
}

func (c *Connection) reconnect(gen uint64) {
	c.mu.Lock()
	stale := gen != c.gen || !c.wanted || c.state != StateClosed
	if !stale {
		c.reconnectTimer = nil
	}
	c.mu.Unlock()
	if stale {
		return
	}
	_ = c.Connect()
}

func (c *Connection) handleAck(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.acked = true
	c.stopFallbackLocked()
	c.mu.Unlock()

	c.log.Debug("handshake acknowledged")
	c.fireOpen()
}

// handshakeExpired treats a socket that stayed open without an explicit
// ack as ready; some deployments never send connection_established.
func (c *Connection) handshakeExpired(gen uint64) {
	c.mu.Lock()
	fire := gen == c.gen && c.state == StateOpen && !c.acked
	if fire {
		c.fallbackTimer = nil
	}
	c.mu.Unlock()

	if fire {
		c.log.Debug("no handshake ack, assuming open")
		c.fireOpen()
	}
}

// Send writes one text frame. It returns ErrNotOpen without writing when
// there is no open socket. Write failures are returned but not retried;
// the read loop notices the broken socket and reconnects.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	sock := c.sock
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || sock == nil {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	err := sock.WriteMessage(data)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn("socket write failed", zap.Error(err))
		return fmt.Errorf("write frame: %w", err)
	}
	metrics.FramesSent.WithLabelValues(c.name).Inc()
	return nil
}

// Close tears the connection down for good: pending timers and dials are
// cancelled, the socket is closed and late events are ignored.
func (c *Connection) Close() error {
	c.mu.Lock()
	if !c.wanted {
		c.mu.Unlock()
		return nil
	}
	c.wanted = false
	c.gen++
	c.stopReconnectLocked()
	c.stopFallbackLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	sock := c.sock
	c.sock = nil
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	var err error
	if sock != nil {
		err = sock.Close()
	}

	c.mu.Lock()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.log.Info("connection closed")
	c.notifyState(StateClosed)
	return err
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the number of reconnects since the last successful open.
func (c *Connection) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// MaxAttempts returns the reconnect budget of the policy in effect.
func (c *Connection) MaxAttempts() int {
	return c.policy.MaxAttempts
}

// Exhausted reports whether the connection gave up reconnecting.
func (c *Connection) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// ReconnectPending reports whether a backoff timer is waiting to redial.
// Callers that want a socket should leave a Closed connection alone while
// this is true.
func (c *Connection) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectTimer != nil
}

// Status returns a consistent snapshot of state and attempt counters.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.state,
		Attempt:     c.attempt,
		MaxAttempts: c.policy.MaxAttempts,
		Exhausted:   c.exhausted,
	}
}

func (c *Connection) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && c.wanted
}

func (c *Connection) fireOpen() {
	if c.h.OnOpen != nil {
		c.h.OnOpen()
	}
}

func (c *Connection) notifyState(s State) {
	if c.h.OnStateChange != nil {
		c.h.OnStateChange(s)
	}
}

func (c *Connection) setStateLocked(s State) {
	c.state = s
	metrics.ConnectionState.WithLabelValues(c.name).Set(float64(s))
}

func (c *Connection) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Connection) stopFallbackLocked() {
	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
		c.fallbackTimer = nil
	}
}
