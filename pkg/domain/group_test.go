package domain

import "testing"

func TestRoomKey(t *testing.T) {
	if got := RoomKey("general"); got != "room:general" {
		t.Fatalf("expected room:general, got %q", got)
	}
}

func TestDMKey_OrderIndependent(t *testing.T) {
	ab := DMKey("alice", "bob")
	ba := DMKey("bob", "alice")

	if ab != ba {
		t.Fatalf("key should not depend on argument order: %q vs %q", ab, ba)
	}
	if ab != "dm:alice:bob" {
		t.Fatalf("expected dm:alice:bob, got %q", ab)
	}
}

func TestDMKey_DistinctPairsDistinctKeys(t *testing.T) {
	if DMKey("alice", "bob") == DMKey("alice", "carol") {
		t.Fatalf("different pairs must not collide")
	}
}

func TestDMKey_SelfConversation(t *testing.T) {
	if got := DMKey("alice", "alice"); got != "dm:alice:alice" {
		t.Fatalf("expected dm:alice:alice, got %q", got)
	}
}

func TestGroupKeyIsDM(t *testing.T) {
	if !DMKey("a", "b").IsDM() {
		t.Fatalf("dm key should report IsDM")
	}
	if RoomKey("a").IsDM() {
		t.Fatalf("room key should not report IsDM")
	}
}
