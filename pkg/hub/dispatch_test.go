package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/emberchat/ember/pkg/domain"
)

func activeRoomSession(t *testing.T, h *Hub, gw domain.Gateway, client *fakeClient, username, room string) *Session {
	t.Helper()
	s := NewRoomSession(h, gw, testLogger(), client, username, room)
	if err := s.Activate(context.Background()); err != nil {
		t.Fatalf("activate %s: %v", username, err)
	}
	return s
}

func messageFrames(c *fakeClient, eventType string) []domain.MessageEvent {
	var out []domain.MessageEvent
	for _, raw := range c.messages() {
		var ev domain.MessageEvent
		if json.Unmarshal(raw, &ev) == nil && ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestDispatch_RoomMessageRoundtrip(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	gw := newFakeGateway("alice", "bob")
	d := NewDispatcher(h, gw, testLogger(), nil)

	ca := newFakeClient("ca")
	activeRoomSession(t, h, gw, ca, "alice", "general")
	cb := newFakeClient("cb")
	sb := activeRoomSession(t, h, gw, cb, "bob", "general")

	d.Dispatch(context.Background(), sb, []byte(`{"message":"  hello there  "}`))

	for _, c := range []*fakeClient{ca, cb} {
		frames := messageFrames(c, domain.EventTypeChat)
		if len(frames) != 1 {
			t.Fatalf("client %s: expected 1 chat frame, got %d", c.id, len(frames))
		}
		if frames[0].Username != "bob" || frames[0].Message != "hello there" {
			t.Fatalf("client %s: unexpected frame %+v", c.id, frames[0])
		}
	}

	if len(gw.roomMessages) != 1 || gw.roomMessages[0] != "bob: hello there" {
		t.Fatalf("expected exactly one persisted message, got %v", gw.roomMessages)
	}
}

func TestDispatch_WhitespaceOnlyMessageDropped(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	gw := newFakeGateway("alice")
	d := NewDispatcher(h, gw, testLogger(), nil)

	c := newFakeClient("c1")
	s := activeRoomSession(t, h, gw, c, "alice", "general")

	d.Dispatch(context.Background(), s, []byte(`{"message":"   \n\t  "}`))

	if len(gw.roomMessages) != 0 {
		t.Fatalf("whitespace-only message must not be persisted: %v", gw.roomMessages)
	}
	if frames := messageFrames(c, domain.EventTypeChat); len(frames) != 0 {
		t.Fatalf("whitespace-only message must not be broadcast: %v", frames)
	}
}

func TestDispatch_MalformedFrameDropped(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	gw := newFakeGateway("alice")
	d := NewDispatcher(h, gw, testLogger(), nil)

	c := newFakeClient("c1")
	s := activeRoomSession(t, h, gw, c, "alice", "general")

	d.Dispatch(context.Background(), s, []byte(`{{{`))

	if len(gw.roomMessages) != 0 {
		t.Fatalf("malformed frame must not be persisted")
	}
	if frames := messageFrames(c, domain.EventTypeChat); len(frames) != 0 {
		t.Fatalf("malformed frame must not be broadcast")
	}
}

func TestDispatch_TypingNotPersisted(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	gw := newFakeGateway("alice", "bob")
	d := NewDispatcher(h, gw, testLogger(), nil)

	ca := newFakeClient("ca")
	sa := activeRoomSession(t, h, gw, ca, "alice", "general")
	cb := newFakeClient("cb")
	activeRoomSession(t, h, gw, cb, "bob", "general")

	d.Dispatch(context.Background(), sa, []byte(`{"type":"typing","typing":true}`))

	if len(gw.roomMessages) != 0 {
		t.Fatalf("typing must never be persisted: %v", gw.roomMessages)
	}

	var typingFrames int
	for _, raw := range cb.messages() {
		var ev domain.TypingEvent
		if json.Unmarshal(raw, &ev) == nil && ev.Type == domain.EventTypeTyping {
			typingFrames++
			if ev.Username != "alice" || !ev.Typing {
				t.Fatalf("unexpected typing frame %+v", ev)
			}
		}
	}
	if typingFrames != 1 {
		t.Fatalf("expected exactly 1 typing frame, got %d", typingFrames)
	}
}

func TestDispatch_PersistFailureSuppressesBroadcast(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	gw := newFakeGateway("alice")
	gw.appendErr = errors.New("database locked")
	d := NewDispatcher(h, gw, testLogger(), nil)

	c := newFakeClient("c1")
	s := activeRoomSession(t, h, gw, c, "alice", "general")

	d.Dispatch(context.Background(), s, []byte(`{"message":"hello"}`))

	if frames := messageFrames(c, domain.EventTypeChat); len(frames) != 0 {
		t.Fatalf("unpersisted message must not be broadcast: %v", frames)
	}
}

func TestDispatch_DirectMessage(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	gw := newFakeGateway("alice", "bob")
	d := NewDispatcher(h, gw, testLogger(), nil)

	ca := newFakeClient("ca")
	sa := NewDMSession(h, gw, testLogger(), ca, "alice", "bob")
	if err := sa.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	cb := newFakeClient("cb")
	sb := NewDMSession(h, gw, testLogger(), cb, "bob", "alice")
	if err := sb.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}

	d.Dispatch(context.Background(), sa, []byte(`{"message":"hey bob"}`))

	frames := messageFrames(cb, domain.EventTypeDM)
	if len(frames) != 1 {
		t.Fatalf("expected 1 dm frame, got %d", len(frames))
	}
	if frames[0].Username != "alice" || frames[0].Message != "hey bob" {
		t.Fatalf("unexpected dm frame %+v", frames[0])
	}
	if len(gw.dms) != 1 || gw.dms[0] != "alice->bob: hey bob" {
		t.Fatalf("expected exactly one persisted dm, got %v", gw.dms)
	}
}

func TestDispatch_DMToUnknownUserDropped(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	gw := newFakeGateway("alice")
	d := NewDispatcher(h, gw, testLogger(), nil)

	c := newFakeClient("c1")
	s := NewDMSession(h, gw, testLogger(), c, "alice", "nobody")
	if err := s.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}

	d.Dispatch(context.Background(), s, []byte(`{"message":"hello?"}`))

	if len(gw.dms) != 0 {
		t.Fatalf("message to unknown user must not be persisted: %v", gw.dms)
	}
	if frames := messageFrames(c, domain.EventTypeDM); len(frames) != 0 {
		t.Fatalf("message to unknown user must not be broadcast")
	}
}

func TestDispatch_IgnoredWhenSessionNotActive(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	gw := newFakeGateway("alice")
	d := NewDispatcher(h, gw, testLogger(), nil)

	c := newFakeClient("c1")
	s := NewRoomSession(h, gw, testLogger(), c, "alice", "general")

	d.Dispatch(context.Background(), s, []byte(`{"message":"too early"}`))

	if len(gw.roomMessages) != 0 {
		t.Fatalf("frames before activation must be dropped: %v", gw.roomMessages)
	}
}
