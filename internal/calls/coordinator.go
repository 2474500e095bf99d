// Package calls enforces the single-active-call invariant per workspace room.
package calls

import (
	"sync"
	"time"
)

// Session describes the active call in one room.
type Session struct {
	Room        string
	InitiatorID string
	StartedAt   time.Time
}

// Coordinator tracks at most one active call per room. The first caller wins;
// only the initiating connection can end the call.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]Session
	clock    func() time.Time
}

// NewCoordinator constructs a call coordinator. A nil clock means time.Now.
func NewCoordinator(clock func() time.Time) *Coordinator {
	if clock == nil {
		clock = time.Now
	}
	return &Coordinator{
		sessions: make(map[string]Session),
		clock:    clock,
	}
}

// Start transitions the room to Active if it is Idle and returns the session.
// When a call is already running the existing session is returned and started
// reports false.
func (c *Coordinator) Start(room, connectionID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sessions[room]; ok {
		return existing, false
	}
	session := Session{
		Room:        room,
		InitiatorID: connectionID,
		StartedAt:   c.clock(),
	}
	c.sessions[room] = session
	return session, true
}

// End transitions the room to Idle only when the given connection initiated
// the call. It reports whether the call was ended.
func (c *Coordinator) End(room, connectionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[room]
	if !ok || session.InitiatorID != connectionID {
		return false
	}
	delete(c.sessions, room)
	return true
}

// Active returns the room's current call session, if one is running.
func (c *Coordinator) Active(room string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[room]
	return session, ok
}
