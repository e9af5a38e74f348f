// Package realtime is a stand-in for the project-management backend's
// assistant and search sockets. It streams canned assistant replies and
// answers mention searches from an in-memory directory.
package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pm-assistant/internal/logging"
	"pm-assistant/internal/protocol"
	"pm-assistant/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256

	defaultChunkSize   = 24
	defaultMaxSessions = 100
)

type endpointKind int

const (
	assistantEndpoint endpointKind = iota
	searchEndpoint
)

func (k endpointKind) String() string {
	if k == searchEndpoint {
		return "search"
	}
	return "assistant"
}

// Options configures a Server.
type Options struct {
	// ChunkSize is the maximum fragment size of streamed replies.
	ChunkSize int
	// Handshake controls whether connection_established is sent on
	// connect. Real deployments differ.
	Handshake bool
	// ChunkDelay spaces out fragments so streaming is visible.
	ChunkDelay  time.Duration
	MaxSessions int
	HistorySize int
	SearchLimit int
	Logger      *zap.Logger
}

// Server serves the assistant and search sockets plus a small REST API
// over its conversations.
type Server struct {
	sessionMgr *session.Manager
	directory  *Directory
	opts       Options
	log        *zap.Logger
	upgrader   websocket.Upgrader

	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	server    *Server
	kind      endpointKind
	userID    string
	companyID string
	log       *zap.Logger
}

// New creates a stub server answering searches from directory.
func New(directory *Directory, opts Options) *Server {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if directory == nil {
		directory = DefaultDirectory()
	}
	return &Server{
		sessionMgr: session.NewManager(opts.MaxSessions, opts.HistorySize),
		directory:  directory,
		opts:       opts,
		log:        logging.OrNop(opts.Logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow any origin for local development.
			},
		},
		clients: make(map[*client]bool),
	}
}

// Sessions exposes the conversation store.
func (s *Server) Sessions() *session.Manager {
	return s.sessionMgr
}

// Directory exposes the search directory.
func (s *Server) Directory() *Directory {
	return s.directory
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoints.
	mux.HandleFunc("GET /ai-assistant/{userId}/{$}", s.handleAssistant)
	mux.HandleFunc("GET /search/{companyId}/{userId}/{$}", s.handleSearch)

	// REST API endpoints.
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/turns", s.handleGetTurns)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	s.serveSocket(w, r, assistantEndpoint, r.PathValue("userId"), "")
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.serveSocket(w, r, searchEndpoint, r.PathValue("userId"), r.PathValue("companyId"))
}

// serveSocket upgrades an HTTP connection to WebSocket.
func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request, kind endpointKind, userID, companyID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		server:    s,
		kind:      kind,
		userID:    userID,
		companyID: companyID,
		log: s.log.With(
			zap.Stringer("endpoint", kind),
			zap.String("user_id", userID),
		),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	c.log.Info("client connected", zap.String("remote", r.RemoteAddr))

	if s.opts.Handshake {
		c.sendFrame(&protocol.Frame{Type: protocol.TypeConnectionEstablished})
	}

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection. Frames of one
// client are handled in order.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendFrame queues a frame for the write pump. It blocks while the buffer
// is full so streamed fragments are never dropped, and gives up once the
// client is gone.
func (c *client) sendFrame(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("marshal frame", zap.Error(err))
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.close()
	c.log.Info("client disconnected")
}

// ClientCount returns the number of connected sockets.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// DisconnectAll closes every socket, as a server restart would.
func (s *Server) DisconnectAll() {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientFrame(raw)
	if err != nil {
		c.sendFrame(protocol.NewErrorFrame(err.Error()))
		return
	}

	switch {
	case c.kind == assistantEndpoint && msg.Type == protocol.TypeQuery:
		s.handleQuery(c, msg)
	case c.kind == searchEndpoint && msg.Type == protocol.TypeSearch:
		s.handleSearchTerm(c, msg)
	default:
		c.sendFrame(protocol.NewErrorFrame("unexpected " + msg.Type + " frame on " + c.kind.String() + " socket"))
	}
}

// handleQuery streams the reply document as response_chunk fragments and
// finishes with response_complete carrying the session token.
func (s *Server) handleQuery(c *client, msg *protocol.ClientFrame) {
	sess, created, err := s.sessionMgr.Resolve(msg.SessionID, c.userID)
	if err != nil {
		c.log.Warn("cannot start conversation", zap.Error(err))
		c.sendFrame(protocol.NewErrorFrame(err.Error()))
		return
	}
	if created {
		c.log.Info("conversation started", zap.String("session_id", sess.ID))
	}

	reply := buildReply(msg.Message, sess.Turns+1)
	doc, err := json.Marshal(reply)
	if err != nil {
		c.sendFrame(protocol.NewErrorFrame("failed to encode reply"))
		return
	}

	chunks := splitChunks(string(doc), s.opts.ChunkSize)
	failing := strings.HasPrefix(strings.TrimSpace(msg.Message), failPrefix)
	if failing {
		chunks = chunks[:(len(chunks)+1)/2]
	}

	for _, chunk := range chunks {
		frame, err := protocol.NewFrame(protocol.TypeResponseChunk, protocol.ChunkData{Chunk: chunk})
		if err != nil || !c.sendFrame(frame) {
			return
		}
		if s.opts.ChunkDelay > 0 {
			time.Sleep(s.opts.ChunkDelay)
		}
	}

	if failing {
		c.sendFrame(protocol.NewErrorFrame("the assistant could not finish this answer"))
		return
	}

	if err := s.sessionMgr.RecordTurn(session.Turn{
		SessionID: sess.ID,
		Query:     msg.Message,
		ReplyType: reply.Type,
		Reply:     reply.Message,
	}); err != nil && !errors.Is(err, session.ErrNotFound) {
		c.log.Warn("record turn", zap.Error(err))
	}

	frame, _ := protocol.NewFrame(protocol.TypeResponseComplete, protocol.CompleteData{SessionID: sess.ID})
	c.sendFrame(frame)
}

// searchResultsFrame always carries a results array, even when empty.
type searchResultsFrame struct {
	Type      string                  `json:"type"`
	Results   []protocol.SearchResult `json:"results"`
	RequestID string                  `json:"request_id,omitempty"`
}

func (s *Server) handleSearchTerm(c *client, msg *protocol.ClientFrame) {
	term := ""
	if msg.SearchTerm != nil {
		term = *msg.SearchTerm
	}
	results := s.directory.Search(term, s.opts.SearchLimit)
	c.log.Debug("search", zap.String("term", term), zap.Int("results", len(results)))

	c.sendFrame(searchResultsFrame{
		Type:      protocol.TypeSearchResults,
		Results:   results,
		RequestID: msg.RequestID,
	})
}
