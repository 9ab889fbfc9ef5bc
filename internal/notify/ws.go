package notify

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession represents a connected passenger or driver app.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(n Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(n)
}

// WSRegistry holds live sessions keyed by user id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = &WSSession{conn: conn}
}

// Attach registers the connection and starts its read loop. The loop only
// drains control frames; when the peer goes away the session is dropped
// from the registry so Push stops targeting a dead socket.
func (r *WSRegistry) Attach(userID string, conn *websocket.Conn) {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	r.sessions[userID] = s
	r.mu.Unlock()
	go func() {
		defer func() {
			r.removeSession(userID, s)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (r *WSRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// removeSession drops the mapping only while it still points at this
// session, so a reconnect is not torn down by the old reader exiting.
func (r *WSRegistry) removeSession(userID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[userID] == s {
		delete(r.sessions, userID)
	}
}

func (r *WSRegistry) Push(userID string, n Notice) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(n); err != nil {
		log.Printf("ws send error: %v", err)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
