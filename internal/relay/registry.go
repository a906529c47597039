package relay

import (
	"log/slog"
	"sync"

	"miovo-bridge/internal/metrics"
	"miovo-bridge/pkg/api"

	"github.com/google/uuid"
)

// Registry tracks the open sessions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		metrics:  m,
	}
}

// Register assigns the session a fresh id and starts tracking it.
func (r *Registry) Register(s *Session) string {
	id := uuid.NewString()

	r.mu.Lock()
	s.id = id
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetConnections(count)
	slog.Info("client connected", "client_id", id, "connections", count)

	return id
}

// Unregister stops tracking the session with id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}

	r.metrics.SetConnections(count)
	slog.Info("client disconnected", "client_id", id, "connections", count)
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of the registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Broadcast queues msg on every open session and returns how many accepted
// it. Sessions closing concurrently are skipped.
func (r *Registry) Broadcast(msg api.Message) int {
	delivered := 0
	for _, s := range r.Sessions() {
		if s.Send(msg) {
			delivered++
		}
	}
	r.metrics.RecordBroadcast(msg.Type)
	return delivered
}
