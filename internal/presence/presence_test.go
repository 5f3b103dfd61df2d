package presence

import "testing"

func TestErrNotFoundHasMessage(t *testing.T) {
	if errNotFound.Error() == "" {
		t.Fatalf("expected a non-empty error message")
	}
}

// JoinDocument/LeaveDocument/UpdateCursor/RemoveEditor all call
// room.Registry.Join or room.Registry.Get, and unlike the sync engine
// (which only reaches Get/Broadcast on an already-open room) Join always
// creates the room and subscribes it to its Redis channel, which panics
// against a nil *redisbus.Bus. There is no in-pack fake Redis client to
// substitute, so this package has no in-process equivalent to
// syncengine's goroutine-raced Engine tests; its S4 roster behavior is
// exercised manually against a live Postgres+Redis stack instead.
