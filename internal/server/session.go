package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fenggwsx/BridgeRelay/internal/relay"
)

// clientSession owns one WebSocket and its outbound queue. It is the relay.Peer
// the registry delivers into.
type clientSession struct {
	id     string
	conn   *websocket.Conn
	router *relay.Router
	log    *zap.Logger

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	mu       sync.RWMutex
	sendCh   chan []byte
	closed   bool
	closeMux sync.Once
}

func newClientSession(a *App, conn *websocket.Conn) *clientSession {
	return &clientSession{
		conn:         conn,
		router:       a.router,
		log:          a.log,
		pingInterval: a.cfg.PingInterval,
		pongTimeout:  a.cfg.PongTimeout,
		writeTimeout: a.cfg.WriteTimeout,
		sendCh:       make(chan []byte, a.cfg.SendQueue),
	}
}

// Send queues frame without blocking.
func (s *clientSession) Send(frame []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.sendCh <- frame:
		return true
	default:
		return false
	}
}

// Connected reports whether the session still accepts frames.
func (s *clientSession) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// serve runs the session until the socket fails or ctx is canceled.
func (s *clientSession) serve(ctx context.Context) {
	s.id = s.router.Connect(s)
	s.log = s.log.With(zap.String("client_id", s.id), zap.String("remote_addr", s.conn.RemoteAddr().String()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.writeLoop(ctx); err != nil {
			s.log.Debug("write loop stopped", zap.Error(err))
		}
		_ = s.conn.Close()
	}()

	s.readLoop()

	s.router.Disconnect(s.id)
	s.close()
	cancel()
	<-done
}

func (s *clientSession) readLoop() {
	s.conn.SetPongHandler(func(string) error {
		s.router.Touch(s.id)
		return s.extendReadDeadline()
	})
	if err := s.extendReadDeadline(); err != nil {
		return
	}

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Warn("connection lost", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		s.router.Handle(s.id, data)
	}
}

func (s *clientSession) extendReadDeadline() error {
	if s.pongTimeout <= 0 {
		return nil
	}
	return s.conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pongTimeout))
}

func (s *clientSession) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.writeClose(websocket.CloseGoingAway, "server shutting down")
			return ctx.Err()
		case frame, ok := <-s.sendCh:
			if !ok {
				s.writeClose(websocket.CloseNormalClosure, "")
				return nil
			}
			if err := s.setWriteDeadline(); err != nil {
				return err
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.setWriteDeadline(); err != nil {
				return err
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (s *clientSession) writeClose(code int, text string) {
	_ = s.setWriteDeadline()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}

func (s *clientSession) setWriteDeadline() error {
	if s.writeTimeout <= 0 {
		return nil
	}
	return s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
}

func (s *clientSession) close() {
	s.closeMux.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		close(s.sendCh)
	})
}
