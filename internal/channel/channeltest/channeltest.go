// Package channeltest provides in-memory Dialer and Socket implementations
// for exercising channel.Connection without a network.
package channeltest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"pm-assistant/internal/channel"
)

// ErrDialRefused is returned by Dialer when a dial is configured to fail.
var ErrDialRefused = errors.New("channeltest: dial refused")

// ErrSocketClosed is returned by Socket operations after Close or Drop.
var ErrSocketClosed = errors.New("channeltest: socket closed")

// Dialer hands out a fresh Socket per successful dial.
type Dialer struct {
	mu      sync.Mutex
	fail    int
	hold    chan struct{}
	urls    []string
	sockets []*Socket
	dialed  chan *Socket
}

// NewDialer creates a Dialer that succeeds by default.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Socket, 64)}
}

// FailNext makes the next n dials fail with ErrDialRefused.
func (d *Dialer) FailNext(n int) {
	d.mu.Lock()
	d.fail = n
	d.mu.Unlock()
}

// Hold makes dials block until Release is called or the dial context ends.
func (d *Dialer) Hold() {
	d.mu.Lock()
	d.hold = make(chan struct{})
	d.mu.Unlock()
}

// Release unblocks held dials.
func (d *Dialer) Release() {
	d.mu.Lock()
	if d.hold != nil {
		close(d.hold)
		d.hold = nil
	}
	d.mu.Unlock()
}

// Dial implements channel.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string) (channel.Socket, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	hold := d.hold
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	if d.fail > 0 {
		d.fail--
		d.mu.Unlock()
		return nil, ErrDialRefused
	}
	s := NewSocket()
	d.sockets = append(d.sockets, s)
	d.mu.Unlock()

	d.dialed <- s
	return s, nil
}

// Dials returns how many dials were attempted.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URLs returns the dialed URLs in order.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Last returns the most recently opened socket, or nil.
func (d *Dialer) Last() *Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// Next waits for the next successful dial.
func (d *Dialer) Next(timeout time.Duration) (*Socket, bool) {
	select {
	case s := <-d.dialed:
		return s, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Socket is an in-memory channel.Socket. Frames pushed by the test are
// returned from ReadMessage; frames written by the code under test are
// recorded.
type Socket struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
	byPeer  bool
}

// NewSocket creates an open socket.
func NewSocket() *Socket {
	return &Socket{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// ReadMessage implements channel.Socket.
func (s *Socket) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.in:
		return data, nil
	case <-s.closed:
		return nil, ErrSocketClosed
	}
}

// WriteMessage implements channel.Socket.
func (s *Socket) WriteMessage(data []byte) error {
	select {
	case <-s.closed:
		return ErrSocketClosed
	default:
	}
	s.mu.Lock()
	s.written = append(s.written, append([]byte(nil), data...))
	s.mu.Unlock()
	return nil
}

// Close implements channel.Socket.
func (s *Socket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Push delivers a raw frame to the reader.
func (s *Socket) Push(frame string) {
	s.in <- []byte(frame)
}

// PushJSON marshals v and delivers it to the reader.
func (s *Socket) PushJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.in <- data
}

// Drop simulates the server closing the connection.
func (s *Socket) Drop() {
	s.mu.Lock()
	s.byPeer = true
	s.mu.Unlock()
	s.Close()
}

// IsClosed reports whether the socket was closed by either side.
func (s *Socket) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// ClosedByClient reports whether the code under test closed the socket.
func (s *Socket) ClosedByClient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.IsClosed() && !s.byPeer
}

// Written returns a copy of every frame written so far.
func (s *Socket) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	for i, w := range s.written {
		out[i] = string(w)
	}
	return out
}
