package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	sessionQueueSize = 64
	writeWait        = 10 * time.Second
)

// ErrSessionClosed is returned when sending on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Session manages the client side of one relay WebSocket.
type Session struct {
	url      string
	conn     *websocket.Conn
	messages chan []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession prepares a session for url.
func NewSession(url string) *Session {
	return &Session{
		url:      url,
		messages: make(chan []byte, sessionQueueSize),
		closed:   make(chan struct{}),
	}
}

// URL returns the address the session dials.
func (s *Session) URL() string {
	return s.url
}

// Connect dials the relay and starts the read loop.
func (s *Session) Connect(ctx context.Context) error {
	if s.url == "" {
		return errors.New("server url is empty")
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return errors.Wrapf(err, "dial %s", s.url)
	}
	s.conn = conn
	go s.readLoop()
	return nil
}

// Messages delivers raw inbound frames. It is closed when the connection ends.
func (s *Session) Messages() <-chan []byte {
	return s.messages
}

// Send writes one text frame.
func (s *Session) Send(ctx context.Context, frame []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	if s.conn == nil {
		return ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close terminates the session.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.conn == nil {
			return
		}
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Session) readLoop() {
	defer close(s.messages)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.messages <- data:
		case <-s.closed:
			return
		}
	}
}
