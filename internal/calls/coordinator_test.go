package calls

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCoordinatorFirstCallerWins(t *testing.T) {
	startedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	coordinator := NewCoordinator(fixedClock(startedAt))

	session, started := coordinator.Start("ws1", "conn-a")
	if !started {
		t.Fatalf("expected first start to begin a call")
	}
	if session.InitiatorID != "conn-a" || !session.StartedAt.Equal(startedAt) {
		t.Fatalf("unexpected session %#v", session)
	}

	session, started = coordinator.Start("ws1", "conn-b")
	if started {
		t.Fatalf("expected second start to be ignored")
	}
	if session.InitiatorID != "conn-a" {
		t.Fatalf("session owner must stay the first caller, got %s", session.InitiatorID)
	}
}

func TestCoordinatorOnlyInitiatorEnds(t *testing.T) {
	coordinator := NewCoordinator(nil)
	coordinator.Start("ws1", "conn-a")

	if coordinator.End("ws1", "conn-b") {
		t.Fatalf("non-initiator must not end the call")
	}
	if _, active := coordinator.Active("ws1"); !active {
		t.Fatalf("call should still be active")
	}

	if !coordinator.End("ws1", "conn-a") {
		t.Fatalf("initiator should end the call")
	}
	if _, active := coordinator.Active("ws1"); active {
		t.Fatalf("call should be idle after initiator end")
	}
}

func TestCoordinatorEndOnIdleRoomIsNoOp(t *testing.T) {
	coordinator := NewCoordinator(nil)
	if coordinator.End("ws-empty", "conn-a") {
		t.Fatalf("ending an idle room must be a no-op")
	}
}

func TestCoordinatorRoomsAreIndependent(t *testing.T) {
	coordinator := NewCoordinator(nil)
	coordinator.Start("ws1", "conn-a")
	coordinator.Start("ws2", "conn-b")

	if !coordinator.End("ws1", "conn-a") {
		t.Fatalf("expected ws1 call to end")
	}
	if _, active := coordinator.Active("ws2"); !active {
		t.Fatalf("ws2 call must be unaffected")
	}
}
