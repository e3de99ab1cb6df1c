package domain

import (
	"encoding/json"
	"testing"
)

func TestDecodeInbound_Malformed(t *testing.T) {
	if _, ok := DecodeInbound([]byte("{not json")); ok {
		t.Fatalf("malformed frame should not decode")
	}
}

func TestDecodeInbound_TypingFrame(t *testing.T) {
	frame, ok := DecodeInbound([]byte(`{"type":"typing","typing":false}`))
	if !ok {
		t.Fatalf("frame should decode")
	}
	if !frame.IsTyping() {
		t.Fatalf("frame should be a typing indicator")
	}
	if frame.TypingState() {
		t.Fatalf("explicit typing:false should be preserved")
	}
}

func TestDecodeInbound_TypingDefaultsTrue(t *testing.T) {
	frame, _ := DecodeInbound([]byte(`{"type":"typing"}`))
	if !frame.TypingState() {
		t.Fatalf("absent typing field should default to true")
	}
}

func TestDecodeInbound_UnknownTypeIsChat(t *testing.T) {
	frame, ok := DecodeInbound([]byte(`{"type":"shout","message":"hi"}`))
	if !ok {
		t.Fatalf("frame should decode")
	}
	if frame.IsTyping() {
		t.Fatalf("unknown discriminant must not be a typing indicator")
	}
	if frame.Message != "hi" {
		t.Fatalf("expected message hi, got %q", frame.Message)
	}
}

func TestEventFramesCarryDiscriminant(t *testing.T) {
	cases := []struct {
		payload any
		want    string
	}{
		{NewPresenceEvent("alice", StatusOnline, "/img.jpg"), EventTypePresence},
		{NewTypingEvent("alice", true), EventTypeTyping},
		{NewChatEvent("alice", "hi", "/img.jpg"), EventTypeChat},
		{NewDMEvent("alice", "hi", "/img.jpg"), EventTypeDM},
	}

	for _, tc := range cases {
		raw, err := json.Marshal(tc.payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded["type"] != tc.want {
			t.Fatalf("expected type %q, got %v", tc.want, decoded["type"])
		}
	}
}
