package domain

// GroupKey identifies a broadcast group. Keys are opaque to callers and
// stable for the lifetime of the group. Two variants exist: room keys and
// direct-message keys.
type GroupKey string

const (
	roomKeyPrefix = "room:"
	dmKeyPrefix   = "dm:"
)

// RoomKey returns the group key for a named room.
func RoomKey(name string) GroupKey {
	return GroupKey(roomKeyPrefix + name)
}

// DMKey returns the canonical group key for a two-party conversation. The
// usernames are ordered lexicographically, so both participants derive the
// same key regardless of who initiates. A self-DM yields a degenerate
// one-person group; it is not rejected here.
func DMKey(userA, userB string) GroupKey {
	if userB < userA {
		userA, userB = userB, userA
	}
	return GroupKey(dmKeyPrefix + userA + ":" + userB)
}

// IsDM reports whether the key addresses a direct-message group.
func (k GroupKey) IsDM() bool {
	return len(k) > len(dmKeyPrefix) && k[:len(dmKeyPrefix)] == dmKeyPrefix
}
