package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"miovo-bridge/internal/metrics"
	"miovo-bridge/pkg/api"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 20
	sendQueueSize  = 256
)

// Session is one client connection. Writes go through a buffered queue
// drained by a single writer goroutine; sending after Close is a no-op.
type Session struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	metrics *metrics.Metrics

	// ctx scopes work started on behalf of this client, such as training
	// ticks and upload notifications. It ends when the session closes.
	ctx    context.Context
	cancel context.CancelFunc

	done        chan struct{}
	writerDone  chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func NewSession(conn *websocket.Conn, m *metrics.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:       conn,
		send:       make(chan []byte, sendQueueSize),
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Send queues msg for delivery and reports whether it was accepted. A
// closed session or a full queue drops the message.
func (s *Session) Send(msg api.Message) bool {
	if s.Closed() {
		s.metrics.RecordDroppedDelivery()
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("error serializing message", "client_id", s.id, "type", msg.Type, "error", err)
		return false
	}

	select {
	case <-s.done:
		s.metrics.RecordDroppedDelivery()
		return false
	case s.send <- data:
		return true
	default:
		slog.Warn("send queue full, dropping message", "client_id", s.id, "type", msg.Type)
		s.metrics.RecordDroppedDelivery()
		return false
	}
}

// Close marks the session closed and cancels its context. The writer
// flushes anything already queued, sends a close frame with code and
// reason, and closes the connection. Only the first call has any effect.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeReason = reason
		close(s.done)
		s.cancel()
	})
}

// Wait blocks until the writer has closed the connection or ctx ends.
func (s *Session) Wait(ctx context.Context) {
	select {
	case <-s.writerDone:
	case <-ctx.Done():
	}
}

// readPump feeds inbound frames to handle until the connection fails.
func (s *Session) readPump(handle func(s *Session, data []byte)) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !s.Closed() {
				slog.Warn("websocket read error", "client_id", s.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(s, data)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				slog.Warn("websocket write error", "client_id", s.id, "error", err)
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-s.done:
			s.flush()
			if s.closeCode != websocket.CloseAbnormalClosure {
				_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(s.closeCode, s.closeReason))
			}
			return
		}
	}
}

// flush writes whatever was queued before the session closed.
func (s *Session) flush() {
	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}
