package domain

import (
	"context"
	"time"
)

// DefaultAvatarURL is the sentinel returned when a user has no usable
// profile image. Avatar resolution is total: it never fails.
const DefaultAvatarURL = "/media/profile_images/default.jpg"

// UserRef identifies a stored user.
type UserRef struct {
	ID       int64
	Username string
}

// RoomRef identifies a stored room.
type RoomRef struct {
	ID   int64
	Name string
}

// MessageRef identifies a durably stored message.
type MessageRef struct {
	ID        int64
	CreatedAt time.Time
}

// Gateway is the narrow persistence interface the hub depends on. The hub
// consumes it; it never owns storage itself. All write operations must
// complete before the corresponding broadcast is issued.
type Gateway interface {
	// CreateRoomIfAbsent ensures a room exists, recording the creator when
	// it is first created.
	CreateRoomIfAbsent(ctx context.Context, name, creatorUsername string) (RoomRef, error)

	// AddMember records room membership. Adding an existing member is a no-op.
	AddMember(ctx context.Context, room RoomRef, username string) error

	// AppendRoomMessage durably stores a room message.
	AppendRoomMessage(ctx context.Context, roomName, username, text string) (MessageRef, error)

	// AppendDirectMessage durably stores a two-party message.
	AppendDirectMessage(ctx context.Context, senderUsername, receiverUsername, text string) (MessageRef, error)

	// ResolveUser looks up a user by name, returning ErrUserNotFound when absent.
	ResolveUser(ctx context.Context, username string) (UserRef, error)

	// AvatarURLFor resolves a user's profile image URL. It never fails:
	// missing or broken avatars yield DefaultAvatarURL.
	AvatarURLFor(ctx context.Context, username string) string
}
