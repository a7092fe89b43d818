package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
)

// Conn is the part of *websocket.Conn the registry writes through.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// WSSession represents a connected user session
type WSSession struct {
	conn Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds one session per user id and pushes lifecycle events to
// the driver and riders they concern.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[int64]*WSSession), logger: logger}
}

// Add registers conn for userID, closing any session it replaces.
func (r *WSRegistry) Add(userID int64, conn Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	prev, replaced := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()
	if replaced {
		_ = prev.conn.Close()
	} else {
		observability.WSSessions.Inc()
	}
	return s
}

// Remove drops the session if it is still the current one for userID.
func (r *WSRegistry) Remove(userID int64, s *WSSession) {
	r.mu.Lock()
	cur, ok := r.sessions[userID]
	if ok && cur == s {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
	if ok && cur == s {
		observability.WSSessions.Dec()
		_ = s.conn.Close()
	}
}

func (r *WSRegistry) Notify(userID int64, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(v)
}

func (r *WSRegistry) Publish(_ context.Context, ev models.Event) {
	seen := make(map[int64]bool)
	for _, id := range ev.Recipients() {
		if seen[id] {
			continue
		}
		seen[id] = true
		err := r.Notify(id, ev)
		switch {
		case err == nil:
			observability.EventsPublished.WithLabelValues("ws", "ok").Inc()
		case errors.Is(err, ErrNoSession):
		default:
			observability.EventsPublished.WithLabelValues("ws", "error").Inc()
			r.logger.Warn("ws send failed", "user_id", id, "event_id", ev.ID, "error", err)
		}
	}
}

var ErrNoSession = errors.New("no ws session")
