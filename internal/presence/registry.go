package presence

import (
	"sync"

	"go.uber.org/zap"
)

const (
	// EventUserConnected announces a new room member to the existing members.
	EventUserConnected = "user-connected"
	// EventUserDisconnected announces a departure to the remaining members.
	EventUserDisconnected = "user-disconnected"
	// EventAllUsers carries the membership snapshot sent to a joiner.
	EventAllUsers = "all-users"
)

// Sender delivers a single named event to one live connection. Implementations
// must not block; a failed delivery is a transport concern, never an invariant.
type Sender interface {
	SendEvent(event string, data interface{}) error
}

// Conn identifies one live transport session.
type Conn interface {
	Sender
	ID() string
}

// Member describes one room participant as exposed to clients.
type Member struct {
	ConnectionID string `json:"connectionId"`
	UserName     string `json:"userName"`
}

type roomMember struct {
	conn Conn
	name string
}

// Registry tracks live connections and the rooms each has joined. It owns the
// room membership map; callers mutate it only through Join, Leave and
// LeaveAll.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*roomMember
	logger *zap.Logger
}

// NewRegistry constructs an empty connection registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:  make(map[string]map[string]*roomMember),
		logger: logger,
	}
}

// Join adds the connection to the room, announces it to the other members and
// returns the roster the joiner should render (everyone but itself).
func (r *Registry) Join(conn Conn, room, displayName string) []Member {
	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*roomMember)
		r.rooms[room] = members
	}
	others := make([]*roomMember, 0, len(members))
	roster := make([]Member, 0, len(members))
	for id, member := range members {
		if id == conn.ID() {
			continue
		}
		others = append(others, member)
		roster = append(roster, Member{ConnectionID: id, UserName: member.name})
	}
	members[conn.ID()] = &roomMember{conn: conn, name: displayName}
	r.mu.Unlock()

	announcement := Member{ConnectionID: conn.ID(), UserName: displayName}
	for _, member := range others {
		r.send(member.conn, EventUserConnected, announcement)
	}
	return roster
}

// Leave removes the connection from the room and announces the departure to
// the remaining members. It reports whether the connection was a member.
func (r *Registry) Leave(conn Conn, room string) bool {
	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, present := members[conn.ID()]; !present {
		r.mu.Unlock()
		return false
	}
	delete(members, conn.ID())
	remaining := collectConns(members)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	r.mu.Unlock()

	for _, member := range remaining {
		r.send(member, EventUserDisconnected, conn.ID())
	}
	return true
}

// LeaveAll removes the connection from every room it had joined and returns
// the identifiers of the rooms it left.
func (r *Registry) LeaveAll(conn Conn) []string {
	r.mu.Lock()
	left := make([]string, 0)
	notify := make(map[string][]Sender)
	for room, members := range r.rooms {
		if _, present := members[conn.ID()]; !present {
			continue
		}
		delete(members, conn.ID())
		notify[room] = collectConns(members)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
		left = append(left, room)
	}
	r.mu.Unlock()

	for _, members := range notify {
		for _, member := range members {
			r.send(member, EventUserDisconnected, conn.ID())
		}
	}
	return left
}

// Members returns the current roster of a room.
func (r *Registry) Members(room string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	roster := make([]Member, 0, len(members))
	for id, member := range members {
		roster = append(roster, Member{ConnectionID: id, UserName: member.name})
	}
	return roster
}

// Broadcast delivers an event to every member of a room, skipping the
// connection identified by exceptID when it is non-empty.
func (r *Registry) Broadcast(room, exceptID, event string, data interface{}) {
	r.mu.RLock()
	members := r.rooms[room]
	targets := make([]Sender, 0, len(members))
	for id, member := range members {
		if exceptID != "" && id == exceptID {
			continue
		}
		targets = append(targets, member.conn)
	}
	r.mu.RUnlock()

	for _, target := range targets {
		r.send(target, event, data)
	}
}

func collectConns(members map[string]*roomMember) []Sender {
	conns := make([]Sender, 0, len(members))
	for _, member := range members {
		conns = append(conns, member.conn)
	}
	return conns
}

// send pushes one event and swallows transport failures; the recipient may
// have disconnected mid-flight.
func (r *Registry) send(target Sender, event string, data interface{}) {
	if err := target.SendEvent(event, data); err != nil {
		r.logger.Warn("room event delivery failed",
			zap.String("event", event),
			zap.Error(err))
	}
}
