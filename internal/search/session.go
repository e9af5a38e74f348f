// Package search implements search-as-you-type for @-mentions over its own
// socket. Searches are debounced and, while the socket is down, polled
// until it opens. Nothing is queued.
package search

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"pm-assistant/internal/channel"
	"pm-assistant/internal/logging"
	"pm-assistant/internal/metrics"
	"pm-assistant/internal/protocol"
)

const (
	channelName = "search"

	DefaultDebounce     = 300 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
)

// Options configures a Session.
type Options struct {
	BaseURL   string
	UserID    string
	CompanyID string

	Dialer            channel.Dialer
	Policy            channel.Policy
	HandshakeFallback time.Duration
	Debounce          time.Duration
	PollInterval      time.Duration
	Clock             clockwork.Clock
	Logger            *zap.Logger
}

// Session owns the search socket of one mention picker.
type Session struct {
	conn     *channel.Connection
	clock    clockwork.Clock
	log      *zap.Logger
	debounce time.Duration
	poll     time.Duration

	mu        sync.Mutex
	closed    bool
	seq       uint64
	timer     clockwork.Timer
	requestID string
	term      string
	results   []protocol.SearchResult

	subMu     sync.Mutex
	onResults []func([]protocol.SearchResult)
}

// New creates a session targeting {BaseURL}/search/{CompanyID}/{UserID}/.
func New(opts Options) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	s := &Session{
		clock:    clock,
		log:      logging.OrNop(opts.Logger).With(zap.String("session", channelName)),
		debounce: debounce,
		poll:     poll,
	}
	s.conn = channel.New(channel.Options{
		Name:              channelName,
		Endpoint:          channel.JoinEndpoint(opts.BaseURL, "search", opts.CompanyID, opts.UserID),
		Dialer:            opts.Dialer,
		Policy:            opts.Policy,
		HandshakeFallback: opts.HandshakeFallback,
		Clock:             clock,
		Logger:            opts.Logger,
		Handlers: channel.Handlers{
			OnMessage: s.handleFrame,
			OnExhausted: func() {
				s.log.Error("search connection exhausted")
				s.stopTimer()
			},
		},
	})
	return s
}

// Start opens the search socket ahead of the first keystroke.
func (s *Session) Start() error {
	return s.conn.Connect()
}

// Search schedules a search for term. Calls within the debounce window
// replace each other; only the last term is sent. A newer call also
// cancels a poll still waiting for the socket.
func (s *Session) Search(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopTimerLocked()
	s.seq++
	seq := s.seq
	s.timer = s.clock.AfterFunc(s.debounce, func() { s.fire(seq, term) })
}

// fire sends the search if the socket is open, and otherwise polls.
func (s *Session) fire(seq uint64, term string) {
	s.mu.Lock()
	if s.closed || seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.timer = nil

	if s.conn.Exhausted() {
		s.mu.Unlock()
		s.log.Debug("search dropped, connection exhausted", zap.String("term", term))
		return
	}

	state := s.conn.State()
	if state == channel.StateOpen {
		err := s.sendLocked(term)
		if err == nil || !errors.Is(err, channel.ErrNotOpen) {
			s.mu.Unlock()
			return
		}
	}
	s.timer = s.clock.AfterFunc(s.poll, func() { s.fire(seq, term) })
	// A Closed connection with a backoff timer armed is already on its way
	// back; dialing now would skip the backoff and burn an attempt.
	dial := state == channel.StateIdle ||
		(state == channel.StateClosed && !s.conn.ReconnectPending())
	s.mu.Unlock()

	if dial {
		if err := s.conn.Connect(); err != nil {
			s.log.Debug("connect not started", zap.Error(err))
		}
	}
}

func (s *Session) sendLocked(term string) error {
	id := uuid.NewString()
	msg := protocol.OutboundMessage{
		Type: protocol.TypeSearch,
		Payload: protocol.SearchFrame{
			Type:       protocol.TypeSearch,
			SearchTerm: term,
			RequestID:  id,
		},
		EnqueuedAt: s.clock.Now(),
	}
	data, err := msg.Encode()
	if err != nil {
		s.log.Error("dropping unencodable search", zap.Error(err))
		return err
	}
	if err := s.conn.Send(data); err != nil {
		return err
	}
	s.requestID = id
	s.term = term
	metrics.SearchesSent.Inc()
	s.log.Debug("search sent", zap.String("term", term), zap.String("request_id", id))
	return nil
}

func (s *Session) handleFrame(raw []byte) {
	frame, err := protocol.ValidateServerFrame(raw)
	if err != nil {
		s.log.Warn("ignoring invalid frame", zap.Error(err))
		return
	}
	if frame.Type != protocol.TypeSearchResults {
		return
	}

	s.mu.Lock()
	if frame.RequestID != "" && frame.RequestID != s.requestID {
		s.mu.Unlock()
		metrics.StaleSearchResults.Inc()
		s.log.Debug("dropping stale results", zap.String("request_id", frame.RequestID))
		return
	}
	s.results = append([]protocol.SearchResult(nil), frame.Results...)
	results := s.snapshotLocked()
	s.mu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, cb := range s.onResults {
		cb(results)
	}
}

// OnResults registers a callback for every accepted result list.
func (s *Session) OnResults(cb func([]protocol.SearchResult)) {
	s.subMu.Lock()
	s.onResults = append(s.onResults, cb)
	s.subMu.Unlock()
}

// Results returns the latest accepted results.
func (s *Session) Results() []protocol.SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// LastTerm returns the term of the most recently sent search.
func (s *Session) LastTerm() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// Status returns the connection status of the search socket.
func (s *Session) Status() channel.Status {
	return s.conn.Status()
}

// Endpoint returns the URL of the search socket.
func (s *Session) Endpoint() string {
	return s.conn.Endpoint()
}

// Close cancels pending searches and polls and closes the socket.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.stopTimerLocked()
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *Session) snapshotLocked() []protocol.SearchResult {
	return append([]protocol.SearchResult(nil), s.results...)
}

func (s *Session) stopTimer() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
