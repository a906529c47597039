package relay

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"miovo-bridge/internal/metrics"
	"miovo-bridge/pkg/api"

	"github.com/gorilla/websocket"
)

const shutdownMessage = "server is shutting down"

// Hub owns the session lifecycle: accepting connections, tearing them
// down, and closing all of them on shutdown.
type Hub struct {
	registry    *Registry
	router      *Router
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	metrics     *metrics.Metrics

	mu      sync.Mutex
	closing bool
}

func NewHub(registry *Registry, router *Router, broadcaster *Broadcaster, allowedOrigins []string, m *metrics.Metrics) *Hub {
	return &Hub{
		registry:    registry,
		router:      router,
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		metrics: m,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// ShuttingDown reports whether Shutdown has begun.
func (h *Hub) ShuttingDown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	h.Accept(conn)
}

// Accept registers conn, greets it and starts its pumps.
func (h *Hub) Accept(conn *websocket.Conn) *Session {
	session := NewSession(conn, h.metrics)

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		session.Close(websocket.CloseGoingAway, shutdownMessage)
		go session.writePump()
		return session
	}
	id := h.registry.Register(session)
	h.mu.Unlock()

	go session.writePump()

	session.Send(api.Message{
		Type: api.TypeConnected,
		Data: api.ConnectedEvent{ClientId: id, ServerTime: time.Now().UTC()},
	})
	if h.broadcaster != nil {
		h.broadcaster.Trigger()
	}

	go func() {
		session.readPump(h.router.Dispatch)
		h.disconnect(session)
	}()

	return session
}

func (h *Hub) disconnect(s *Session) {
	h.registry.Unregister(s.Id())
	s.Close(websocket.CloseNormalClosure, "")
}

// Shutdown stops the status schedule, tells every client the server is
// going away, then closes each session and waits for its close frame to be
// written or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	if h.broadcaster != nil {
		h.broadcaster.Stop()
	}

	h.registry.Broadcast(api.Message{
		Type: api.TypeServerShutdown,
		Data: api.ShutdownEvent{Message: shutdownMessage},
	})

	sessions := h.registry.Sessions()
	for _, s := range sessions {
		h.registry.Unregister(s.Id())
		s.Close(websocket.CloseGoingAway, shutdownMessage)
	}
	for _, s := range sessions {
		s.Wait(ctx)
	}

	slog.Info("closed client connections", "count", len(sessions))
}
