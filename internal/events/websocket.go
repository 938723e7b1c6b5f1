package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/italolelis/downloadhub/internal/logctx"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	defaultBuffer = 64
)

var (
	// ErrSubscriberClosed is returned by Send after Close.
	ErrSubscriberClosed = errors.New("subscriber closed")
	// ErrSubscriberSlow is returned by Send when the outbound buffer is full.
	ErrSubscriberSlow = errors.New("subscriber outbound buffer full")
)

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("subscriber panicked: %v", e.value)
}

// WSSubscriber writes events to one WebSocket connection from its own goroutine.
type WSSubscriber struct {
	conn *websocket.Conn
	out  chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWSSubscriber wraps conn. buffer <= 0 uses a default size.
func NewWSSubscriber(conn *websocket.Conn, buffer int) *WSSubscriber {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	return &WSSubscriber{
		conn: conn,
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

var _ Subscriber = (*WSSubscriber)(nil)

// Send enqueues msg without blocking.
func (s *WSSubscriber) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}

	select {
	case s.out <- msg:
		return nil
	default:
		return ErrSubscriberSlow
	}
}

// Close stops the writer and closes the connection. Safe to call more than once.
func (s *WSSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.done)
}

// Done is closed once Close has been called.
func (s *WSSubscriber) Done() <-chan struct{} {
	return s.done
}

// Run serves the connection until the peer goes away or the subscriber is closed.
// It blocks; the caller subscribes before and unsubscribes after.
func (s *WSSubscriber) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	go s.readLoop(ctx)

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
		s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			s.writeClose()

			return
		case <-s.done:
			s.writeClose()

			return
		case msg := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("websocket write failed", "err", err)

				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("websocket ping failed", "err", err)

				return
			}
		}
	}
}

// readLoop only handles control frames; client messages are discarded.
func (s *WSSubscriber) readLoop(ctx context.Context) {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logctx.LoggerFromContext(ctx).Debug("websocket closed unexpectedly", "err", err)
			}

			return
		}
	}
}

func (s *WSSubscriber) writeClose() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
