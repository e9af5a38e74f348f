// Package assistant implements the assistant conversation channel: it
// keeps the conversation list, buffers queries while the socket is down
// and threads the server's session token through later queries.
package assistant

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"pm-assistant/internal/channel"
	"pm-assistant/internal/logging"
	"pm-assistant/internal/metrics"
	"pm-assistant/internal/protocol"
	"pm-assistant/internal/stream"
)

const channelName = "assistant"

// interruptedText replaces a reply whose socket closed before completion.
const interruptedText = "The connection dropped before this answer finished."

// ErrEmptyMessage is returned by Send for empty or whitespace-only text.
var ErrEmptyMessage = errors.New("assistant: message is empty")

// Options configures a Session.
type Options struct {
	BaseURL   string
	UserID    string
	CompanyID string
	IsAdmin   bool

	Dialer            channel.Dialer
	Policy            channel.Policy
	HandshakeFallback time.Duration
	Clock             clockwork.Clock
	Logger            *zap.Logger
}

// Status is what the UI needs for the "N queued, reconnecting (a/max)"
// indicator and the exhaustion notice.
type Status struct {
	State       channel.State
	Attempt     int
	MaxAttempts int
	Queued      int
	Exhausted   bool
}

// Reconnecting reports whether queued input is waiting on a reconnect.
func (s Status) Reconnecting() bool {
	return !s.Exhausted && s.State != channel.StateOpen
}

// Session is the assistant channel for one mounted assistant panel.
type Session struct {
	conn   *channel.Connection
	clock  clockwork.Clock
	log    *zap.Logger
	ctx    protocol.QueryContext
	queue  *channel.Queue
	stream *stream.Assembler

	mu    sync.Mutex
	convo conversation
	token string

	subMu         sync.Mutex
	onMessage     []func([]Entry)
	onStatus      []func(Status)
	lastDelivered uint64
}

// New creates a session targeting {BaseURL}/ai-assistant/{UserID}/. It
// does not connect until Start.
func New(opts Options) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Session{
		clock:  clock,
		log:    logging.OrNop(opts.Logger).With(zap.String("session", channelName)),
		queue:  channel.NewQueue(),
		stream: stream.New(),
		ctx: protocol.QueryContext{
			UserID:    opts.UserID,
			CompanyID: opts.CompanyID,
			IsAdmin:   opts.IsAdmin,
		},
	}
	s.conn = channel.New(channel.Options{
		Name:              channelName,
		Endpoint:          channel.JoinEndpoint(opts.BaseURL, "ai-assistant", opts.UserID),
		Dialer:            opts.Dialer,
		Policy:            opts.Policy,
		HandshakeFallback: opts.HandshakeFallback,
		Clock:             clock,
		Logger:            opts.Logger,
		Handlers: channel.Handlers{
			OnOpen:        s.drain,
			OnMessage:     s.handleFrame,
			OnStateChange: s.handleState,
			OnExhausted:   s.handleExhausted,
		},
	})
	return s
}

// Start opens the connection.
func (s *Session) Start() error {
	return s.conn.Connect()
}

// Close tears the session down. Queued messages are discarded.
func (s *Session) Close() error {
	err := s.conn.Close()
	metrics.QueuedMessages.WithLabelValues(channelName).Set(0)
	return err
}

// Send records a user entry and transmits the query, or queues it until
// the connection opens. Only empty input is reported as an error;
// transport trouble shows up in Status instead.
func (s *Session) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	now := s.clock.Now()
	msg := protocol.OutboundMessage{
		Type: protocol.TypeQuery,
		Payload: protocol.QueryFrame{
			Type:    protocol.TypeQuery,
			Message: text,
			Context: s.ctx,
		},
		EnqueuedAt: now,
	}

	s.mu.Lock()
	s.convo.appendUser(text, now)
	entries, version := s.convo.snapshot(), s.convo.version

	// Sending directly while older messages are still queued would let
	// this one overtake them; the pending drain sends it in order instead.
	state := s.conn.State()
	direct := state == channel.StateOpen && s.queue.Len() == 0
	if direct {
		if err := s.transmitLocked(msg); errors.Is(err, channel.ErrNotOpen) {
			s.queue.Enqueue(msg)
			direct = false
		}
	} else {
		s.queue.Enqueue(msg)
	}
	queued := s.queue.Len()
	s.mu.Unlock()

	metrics.QueuedMessages.WithLabelValues(channelName).Set(float64(queued))
	s.publishEntries(entries, version)

	if !direct {
		s.log.Debug("query queued", zap.Int("queued", queued), zap.Stringer("state", state))
		if state == channel.StateIdle || state == channel.StateClosed {
			if err := s.conn.Connect(); err != nil {
				s.log.Debug("connect not started", zap.Error(err))
			}
		}
	}
	s.publishStatus()
	return nil
}

// transmitLocked stamps the latest session token and writes the frame.
// Write failures other than ErrNotOpen are dropped: bytes that may have
// reached the socket are never resent.
func (s *Session) transmitLocked(msg protocol.OutboundMessage) error {
	if q, ok := msg.Payload.(protocol.QueryFrame); ok && q.SessionID == "" && s.token != "" {
		q.SessionID = s.token
		msg.Payload = q
	}
	data, err := msg.Encode()
	if err != nil {
		s.log.Error("dropping unencodable message", zap.Error(err))
		return nil
	}
	err = s.conn.Send(data)
	if err != nil && !errors.Is(err, channel.ErrNotOpen) {
		s.log.Warn("query lost in transmission", zap.Error(err))
		return nil
	}
	return err
}

// drain is the connection's OnOpen hook. It is safe to run repeatedly.
func (s *Session) drain() {
	s.mu.Lock()
	var requeue []protocol.OutboundMessage
	n := s.queue.DrainInto(func(msg protocol.OutboundMessage) {
		if len(requeue) > 0 {
			requeue = append(requeue, msg)
			return
		}
		if err := s.transmitLocked(msg); errors.Is(err, channel.ErrNotOpen) {
			requeue = append(requeue, msg)
		}
	})
	// The socket went away mid-drain. Send only enqueues under mu, so the
	// queue is still empty and the unsent tail keeps its order.
	for _, m := range requeue {
		s.queue.Enqueue(m)
	}
	queued := s.queue.Len()
	s.mu.Unlock()

	if n > 0 {
		s.log.Info("drained queued queries", zap.Int("sent", n-len(requeue)), zap.Int("remaining", queued))
	}
	metrics.QueuedMessages.WithLabelValues(channelName).Set(float64(queued))
	s.publishStatus()
}

func (s *Session) handleFrame(raw []byte) {
	frame, err := protocol.ValidateServerFrame(raw)
	if err != nil {
		s.log.Warn("ignoring invalid frame", zap.Error(err))
		return
	}

	now := s.clock.Now()
	s.mu.Lock()
	switch frame.Type {
	case protocol.TypeResponseChunk:
		ev := s.stream.Consume(frame.ChunkOf())
		s.convo.applyChunk(ev, now)

	case protocol.TypeResponseComplete:
		ev := s.stream.Complete(frame.SessionIDOf())
		if ev.Malformed() {
			metrics.MalformedResponses.Inc()
			s.log.Warn("response was not valid JSON, showing raw text", zap.Int("bytes", len(ev.Text)))
		}
		if ev.SessionToken != "" && ev.SessionToken != s.token {
			s.token = ev.SessionToken
			s.log.Debug("session token updated")
		}
		s.convo.applyComplete(ev, now)

	case protocol.TypeError:
		s.stream.Complete("")
		s.convo.failStreaming(frame.Message, now)

	default:
		s.mu.Unlock()
		return
	}
	entries, version := s.convo.snapshot(), s.convo.version
	s.mu.Unlock()

	s.publishEntries(entries, version)
}

// handleState ends a reply that was streaming when its socket closed. The
// next socket starts a fresh turn, so the assembler buffer is discarded.
func (s *Session) handleState(state channel.State) {
	if state == channel.StateClosed {
		s.mu.Lock()
		partial := s.stream.Buffered() != ""
		s.stream.Complete("")
		ended := s.convo.abandonStreaming(interruptedText)
		entries, version := s.convo.snapshot(), s.convo.version
		s.mu.Unlock()

		if partial || ended {
			s.log.Warn("reply interrupted by connection loss")
		}
		if ended {
			s.publishEntries(entries, version)
		}
	}
	s.publishStatus()
}

func (s *Session) handleExhausted() {
	s.log.Error("assistant connection exhausted; reopen the panel to retry",
		zap.Int("queued", s.QueuedCount()))
	s.publishStatus()
}

// OnMessage registers a callback that receives the conversation after
// every change. Snapshots are delivered in version order and never go
// backwards.
func (s *Session) OnMessage(cb func([]Entry)) {
	s.subMu.Lock()
	s.onMessage = append(s.onMessage, cb)
	s.subMu.Unlock()
}

// OnStatus registers a callback for connection and queue changes.
func (s *Session) OnStatus(cb func(Status)) {
	s.subMu.Lock()
	s.onStatus = append(s.onStatus, cb)
	s.subMu.Unlock()
}

func (s *Session) publishEntries(entries []Entry, version uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if version <= s.lastDelivered {
		return
	}
	s.lastDelivered = version
	for _, cb := range s.onMessage {
		cb(entries)
	}
}

func (s *Session) publishStatus() {
	st := s.Status()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, cb := range s.onStatus {
		cb(st)
	}
}

// Entries returns a copy of the conversation.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convo.snapshot()
}

// SessionToken returns the last token issued by the server, or "".
func (s *Session) SessionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// QueuedCount returns the number of queries waiting for a connection.
func (s *Session) QueuedCount() int {
	return s.queue.Len()
}

// Status returns the current connection and queue status.
func (s *Session) Status() Status {
	cs := s.conn.Status()
	return Status{
		State:       cs.State,
		Attempt:     cs.Attempt,
		MaxAttempts: cs.MaxAttempts,
		Queued:      s.queue.Len(),
		Exhausted:   cs.Exhausted,
	}
}

// Endpoint returns the URL of the assistant socket.
func (s *Session) Endpoint() string {
	return s.conn.Endpoint()
}
