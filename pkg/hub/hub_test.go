package hub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/emberchat/ember/internal/logging"
	"github.com/emberchat/ember/pkg/domain"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Format: "text"})
}

// fakeClient is an in-memory domain.Client that records delivered payloads.
type fakeClient struct {
	id string

	mu       sync.Mutex
	received [][]byte
	sendErr  error
	closed   bool
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: id}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.received = append(c.received, buf)
	return nil
}

func (c *fakeClient) Receive(handler domain.MessageHandler) error { return nil }

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) Context() context.Context { return context.Background() }

func (c *fakeClient) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.received))
	copy(out, c.received)
	return out
}

func TestJoinIsIdempotent(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("general")
	client := newFakeClient("c1")

	h.Join(key, client)
	h.Join(key, client)

	if got := h.MemberCount(key); got != 1 {
		t.Fatalf("expected 1 member after duplicate join, got %d", got)
	}
}

func TestLeaveAbsentConnectionIsNoop(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("general")

	h.Leave(key, "never-joined")

	if got := h.MemberCount(key); got != 0 {
		t.Fatalf("expected 0 members, got %d", got)
	}
}

func TestPresenceTransitions(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("general")

	if !h.MarkOnline(key, "alice") {
		t.Fatalf("first connection should transition to online")
	}
	if h.MarkOnline(key, "alice") {
		t.Fatalf("second connection must not re-announce online")
	}

	if h.MarkOffline(key, "alice") {
		t.Fatalf("first disconnect should not transition to offline")
	}
	if !h.MarkOffline(key, "alice") {
		t.Fatalf("last disconnect should transition to offline")
	}
}

func TestMarkOfflineAbsentUserIsNoop(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("general")

	if h.MarkOffline(key, "ghost") {
		t.Fatalf("absent user must not report an offline transition")
	}

	// The count must not have gone negative: a subsequent connect still
	// transitions to online.
	if !h.MarkOnline(key, "ghost") {
		t.Fatalf("connect after spurious disconnect should transition to online")
	}
}

func TestListOnline(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("general")

	h.MarkOnline(key, "alice")
	h.MarkOnline(key, "bob")
	h.MarkOnline(key, "alice")

	online := h.ListOnline(key)
	if len(online) != 2 {
		t.Fatalf("expected 2 online users, got %d: %v", len(online), online)
	}
}

func TestBroadcastDeliversToAllMembers(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("general")

	clients := []*fakeClient{newFakeClient("c1"), newFakeClient("c2"), newFakeClient("c3")}
	for _, c := range clients {
		h.Join(key, c)
	}

	h.Broadcast(context.Background(), key, []byte(`{"type":"chat_message"}`))

	for _, c := range clients {
		msgs := c.messages()
		if len(msgs) != 1 {
			t.Fatalf("client %s: expected 1 message, got %d", c.id, len(msgs))
		}
		if string(msgs[0]) != `{"type":"chat_message"}` {
			t.Fatalf("client %s: payload altered: %s", c.id, msgs[0])
		}
	}
}

func TestBroadcastSkipsFailingRecipient(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("general")

	healthy := newFakeClient("ok")
	broken := newFakeClient("broken")
	broken.sendErr = errors.New("connection reset")

	h.Join(key, broken)
	h.Join(key, healthy)

	h.Broadcast(context.Background(), key, []byte("hello"))

	if len(healthy.messages()) != 1 {
		t.Fatalf("healthy recipient should still receive the payload")
	}
	if h.GetStats().DeliveryErrors != 1 {
		t.Fatalf("expected 1 delivery error, got %d", h.GetStats().DeliveryErrors)
	}
}

func TestBroadcastToUnknownGroupIsNoop(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	h.Broadcast(context.Background(), domain.RoomKey("nowhere"), []byte("hello"))
}

func TestEmptyGroupIsReaped(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("general")
	client := newFakeClient("c1")

	h.Join(key, client)
	h.MarkOnline(key, "alice")

	h.Leave(key, client.ID())
	h.MarkOffline(key, "alice")

	if got := h.GetStats().Groups; got != 0 {
		t.Fatalf("expected empty group to be reaped, got %d groups", got)
	}
}

func TestReapedGroupIsNotResurrected(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("general")
	c1 := newFakeClient("c1")

	h.Join(key, c1)
	stale := h.get(key)

	h.Leave(key, c1.ID())

	if !stale.dead {
		t.Fatalf("reaped group should be marked dead")
	}

	// A join after the reap must land in a fresh group, not the stale one.
	c2 := newFakeClient("c2")
	h.Join(key, c2)

	if h.get(key) == stale {
		t.Fatalf("join must not reuse a reaped group")
	}

	h.Broadcast(context.Background(), key, []byte("reachable"))
	if len(c2.messages()) != 1 {
		t.Fatalf("member joined after a reap must be reachable by broadcast")
	}
}

func TestJoinDuringReapChurnStaysReachable(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("churn")

	// Churner repeatedly empties the group to force reaps while the joiner
	// races its insert against them.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c := newFakeClient("churner")
		for {
			select {
			case <-stop:
				return
			default:
				h.Join(key, c)
				h.MarkOnline(key, "churner")
				h.MarkOffline(key, "churner")
				h.Leave(key, c.ID())
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		c := newFakeClient("joiner")
		h.Join(key, c)
		h.MarkOnline(key, "joiner")

		h.Broadcast(context.Background(), key, []byte("ping"))
		if len(c.messages()) != 1 {
			t.Fatalf("iteration %d: joined member unreachable by broadcast", i)
		}

		h.MarkOffline(key, "joiner")
		h.Leave(key, c.ID())
	}

	close(stop)
	wg.Wait()

	if got := h.MemberCount(key); got != 0 {
		t.Fatalf("expected 0 members after churn, got %d", got)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	h := New(testLogger(), nil, DefaultOptions())
	key := domain.RoomKey("storm")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := newFakeClient(string(rune('a'+n%26)) + "-" + string(rune('0'+n%10)))
			h.Join(key, c)
			h.MarkOnline(key, c.ID())
			h.Broadcast(context.Background(), key, []byte("x"))
			h.MarkOffline(key, c.ID())
			h.Leave(key, c.ID())
		}(i)
	}
	wg.Wait()

	if got := h.MemberCount(key); got != 0 {
		t.Fatalf("expected 0 members after storm, got %d", got)
	}
	if online := h.ListOnline(key); len(online) != 0 {
		t.Fatalf("expected no online users after storm, got %v", online)
	}
}
