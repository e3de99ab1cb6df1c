package domain

import "encoding/json"

// Outbound event discriminants. Consumers key off the "type" field; the
// frame shape is otherwise identical across variants.
const (
	EventTypePresence = "presence_event"
	EventTypeTyping   = "typing_event"
	EventTypeChat     = "chat_message"
	EventTypeDM       = "dm_message"
)

// Presence statuses carried by PresenceEvent.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PresenceEvent announces a user-level online/offline transition in a group.
type PresenceEvent struct {
	Type         string `json:"type"`
	Username     string `json:"username"`
	Status       string `json:"status"`
	ProfileImage string `json:"profile_image"`
}

// NewPresenceEvent builds a presence frame ready for broadcast.
func NewPresenceEvent(username, status, profileImage string) PresenceEvent {
	return PresenceEvent{
		Type:         EventTypePresence,
		Username:     username,
		Status:       status,
		ProfileImage: profileImage,
	}
}

// TypingEvent relays a typing indicator to a group. Never persisted.
type TypingEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// NewTypingEvent builds a typing frame ready for broadcast.
func NewTypingEvent(username string, typing bool) TypingEvent {
	return TypingEvent{
		Type:     EventTypeTyping,
		Username: username,
		Typing:   typing,
	}
}

// MessageEvent carries a delivered chat message. The Type field is
// EventTypeChat for room traffic and EventTypeDM for direct messages.
type MessageEvent struct {
	Type         string `json:"type"`
	Username     string `json:"username"`
	Message      string `json:"message"`
	ProfileImage string `json:"profile_image"`
}

// NewChatEvent builds a room message frame.
func NewChatEvent(username, message, profileImage string) MessageEvent {
	return MessageEvent{
		Type:         EventTypeChat,
		Username:     username,
		Message:      message,
		ProfileImage: profileImage,
	}
}

// NewDMEvent builds a direct-message frame.
func NewDMEvent(username, message, profileImage string) MessageEvent {
	return MessageEvent{
		Type:         EventTypeDM,
		Username:     username,
		Message:      message,
		ProfileImage: profileImage,
	}
}

// InboundFrame is the wire shape of frames received from a connection.
// A "typing" discriminant selects the typing indicator; any other value,
// including an absent one, is treated as a chat message.
type InboundFrame struct {
	Type    string `json:"type"`
	Typing  *bool  `json:"typing"`
	Message string `json:"message"`
}

// DecodeInbound parses a raw frame. ok is false when the frame is not valid
// JSON; such frames are dropped by the dispatcher, never surfaced as errors.
func DecodeInbound(raw []byte) (InboundFrame, bool) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return InboundFrame{}, false
	}
	return frame, true
}

// IsTyping reports whether the frame is a typing indicator.
func (f InboundFrame) IsTyping() bool {
	return f.Type == "typing"
}

// TypingState returns the indicator value, defaulting to true when the
// field is absent.
func (f InboundFrame) TypingState() bool {
	if f.Typing == nil {
		return true
	}
	return *f.Typing
}
