// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/wfunc/tetrisserver/network"
)

// Session is one connected client. Its lifetime is bound to the connection:
// the server closes it when the read loop ends, whatever the reason.
type Session struct {
	ID        string
	Conn      network.Connection
	CreatedAt time.Time

	mutex      sync.RWMutex
	name       string
	registered bool
	ready      bool
	lastActive time.Time

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
		closed:     make(chan struct{}),
	}
}

func (s *Session) Send(msgID uint16, data []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	return s.Conn.Send(msgID, data)
}

// SendJSON marshals v and sends it.
func (s *Session) SendJSON(msgID uint16, v any) error {
	return network.SendJSON(s, msgID, v)
}

func (s *Session) GetID() string {
	return s.ID
}

// GetName returns the registered display name.
func (s *Session) GetName() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.name
}

// Register records the player's display name.
func (s *Session) Register(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.name = name
	s.registered = true
}

func (s *Session) Registered() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.registered
}

func (s *Session) SetReady(ready bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.ready = ready
}

func (s *Session) Ready() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.ready
}

// Touch marks the session active at t.
func (s *Session) Touch(t time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if t.After(s.lastActive) {
		s.lastActive = t
	}
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

// Close closes the connection once. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.Conn.Close()
	})
	return s.closeErr
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}
