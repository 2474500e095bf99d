package presence

import (
	"errors"
	"sync"
	"testing"
)

type recordedEvent struct {
	Event string
	Data  interface{}
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []recordedEvent
	fail   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) SendEvent(event string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection gone")
	}
	c.events = append(c.events, recordedEvent{Event: event, Data: data})
	return nil
}

func (c *fakeConn) recorded() []recordedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recordedEvent, len(c.events))
	copy(out, c.events)
	return out
}

func TestRegistryJoinAnnouncesAndReturnsRoster(t *testing.T) {
	registry := NewRegistry(nil)
	alice := newFakeConn("conn-a")
	bob := newFakeConn("conn-b")

	roster := registry.Join(alice, "ws1", "Alice")
	if len(roster) != 0 {
		t.Fatalf("expected empty roster for first joiner, got %d entries", len(roster))
	}

	roster = registry.Join(bob, "ws1", "Bob")
	if len(roster) != 1 {
		t.Fatalf("expected roster with one member, got %d", len(roster))
	}
	if roster[0].ConnectionID != "conn-a" || roster[0].UserName != "Alice" {
		t.Fatalf("unexpected roster entry %#v", roster[0])
	}

	aliceEvents := alice.recorded()
	if len(aliceEvents) != 1 || aliceEvents[0].Event != EventUserConnected {
		t.Fatalf("expected one user-connected event for existing member, got %#v", aliceEvents)
	}
	announced, ok := aliceEvents[0].Data.(Member)
	if !ok {
		t.Fatalf("unexpected announcement payload type %T", aliceEvents[0].Data)
	}
	if announced.ConnectionID != "conn-b" || announced.UserName != "Bob" {
		t.Fatalf("unexpected announcement %#v", announced)
	}
	if len(bob.recorded()) != 0 {
		t.Fatalf("joiner should not receive its own announcement")
	}
}

func TestRegistryLeaveAnnouncesDepartureAndRemovesEmptyRoom(t *testing.T) {
	registry := NewRegistry(nil)
	alice := newFakeConn("conn-a")
	bob := newFakeConn("conn-b")
	registry.Join(alice, "ws1", "Alice")
	registry.Join(bob, "ws1", "Bob")

	if !registry.Leave(alice, "ws1") {
		t.Fatalf("expected leave to report membership")
	}
	bobEvents := bob.recorded()
	last := bobEvents[len(bobEvents)-1]
	if last.Event != EventUserDisconnected || last.Data != "conn-a" {
		t.Fatalf("expected departure event for conn-a, got %#v", last)
	}

	members := registry.Members("ws1")
	if len(members) != 1 || members[0].ConnectionID != "conn-b" {
		t.Fatalf("unexpected membership after leave: %#v", members)
	}

	if !registry.Leave(bob, "ws1") {
		t.Fatalf("expected leave to report membership")
	}
	if registry.Leave(bob, "ws1") {
		t.Fatalf("expected second leave to be a no-op")
	}
	if len(registry.Members("ws1")) != 0 {
		t.Fatalf("expected empty membership after room removal")
	}
}

func TestRegistryLeaveAllCoversEveryJoinedRoom(t *testing.T) {
	registry := NewRegistry(nil)
	conn := newFakeConn("conn-x")
	watcherOne := newFakeConn("conn-1")
	watcherTwo := newFakeConn("conn-2")
	registry.Join(watcherOne, "ws1", "One")
	registry.Join(watcherTwo, "ws2", "Two")
	registry.Join(conn, "ws1", "X")
	registry.Join(conn, "ws2", "X")

	left := registry.LeaveAll(conn)
	if len(left) != 2 {
		t.Fatalf("expected two rooms left, got %v", left)
	}
	for _, watcher := range []*fakeConn{watcherOne, watcherTwo} {
		events := watcher.recorded()
		last := events[len(events)-1]
		if last.Event != EventUserDisconnected || last.Data != "conn-x" {
			t.Fatalf("expected departure event, got %#v", last)
		}
	}
}

func TestRegistryMembershipMatchesJoinLeaveSequence(t *testing.T) {
	registry := NewRegistry(nil)
	conns := []*fakeConn{newFakeConn("c1"), newFakeConn("c2"), newFakeConn("c3")}
	for _, conn := range conns {
		registry.Join(conn, "room", "user-"+conn.id)
	}
	registry.Leave(conns[1], "room")

	joiner := newFakeConn("c4")
	roster := registry.Join(joiner, "room", "user-c4")
	seen := map[string]bool{}
	for _, member := range roster {
		seen[member.ConnectionID] = true
	}
	if len(seen) != 2 || !seen["c1"] || !seen["c3"] {
		t.Fatalf("roster should be exactly the still-joined connections, got %#v", roster)
	}
}

func TestRegistryBroadcastSkipsExceptedConnection(t *testing.T) {
	registry := NewRegistry(nil)
	alice := newFakeConn("conn-a")
	bob := newFakeConn("conn-b")
	registry.Join(alice, "ws1", "Alice")
	registry.Join(bob, "ws1", "Bob")

	registry.Broadcast("ws1", "conn-a", "taskboard-update", map[string]string{"k": "v"})
	for _, event := range alice.recorded() {
		if event.Event == "taskboard-update" {
			t.Fatalf("excepted connection received broadcast")
		}
	}
	events := bob.recorded()
	if events[len(events)-1].Event != "taskboard-update" {
		t.Fatalf("expected broadcast delivery, got %#v", events)
	}
}

func TestRegistrySwallowsDeliveryFailures(t *testing.T) {
	registry := NewRegistry(nil)
	dead := newFakeConn("conn-dead")
	dead.fail = true
	registry.Join(dead, "ws1", "Dead")

	joiner := newFakeConn("conn-live")
	roster := registry.Join(joiner, "ws1", "Live")
	if len(roster) != 1 {
		t.Fatalf("failed delivery must not affect membership, got roster %#v", roster)
	}
}
