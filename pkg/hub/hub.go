// Package hub implements the connection and broadcast core: per-group
// membership and presence state, session lifecycle, and best-effort fan-out
// of events to every live connection in a group.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emberchat/ember/internal/eventbus"
	"github.com/emberchat/ember/internal/logging"
	"github.com/emberchat/ember/pkg/domain"
)

// Options represents hub configuration options
type Options struct {
	// SendTimeout bounds delivery to a single recipient during broadcast.
	SendTimeout time.Duration
}

// DefaultOptions returns default hub options
func DefaultOptions() Options {
	return Options{
		SendTimeout: 5 * time.Second,
	}
}

// group holds the shared state for one broadcast group. Its lock serializes
// all membership and presence mutation for that group; groups never contend
// with each other.
type group struct {
	mu sync.RWMutex

	// dead is set by reap, under mu, when the group's map entry is removed.
	// Writers that fetched the pointer before the removal must re-fetch.
	dead bool

	// members maps connection ID to the live connection. Connection-level,
	// used for delivery.
	members map[string]domain.Client

	// presence maps username to its active connection count for this group.
	// User-level, used for display. A username is "online" while its count
	// is above zero.
	presence map[string]int
}

func newGroup() *group {
	return &group{
		members:  make(map[string]domain.Client),
		presence: make(map[string]int),
	}
}

func (g *group) empty() bool {
	return len(g.members) == 0 && len(g.presence) == 0
}

// Hub is the single-process connection and broadcast hub. All methods are
// safe for concurrent use from any number of connection goroutines.
type Hub struct {
	mu     sync.RWMutex
	groups map[domain.GroupKey]*group

	logger   *logging.Logger
	eventBus eventbus.Bus
	options  Options

	// Statistics
	messagesSent   int64
	deliveryErrors int64
	startTime      time.Time
}

// New creates a new hub
func New(logger *logging.Logger, eventBus eventbus.Bus, options Options) *Hub {
	if options.SendTimeout <= 0 {
		options.SendTimeout = DefaultOptions().SendTimeout
	}
	return &Hub{
		groups:    make(map[domain.GroupKey]*group),
		logger:    logger,
		eventBus:  eventBus,
		options:   options,
		startTime: time.Now(),
	}
}

// Join subscribes a connection to a group. Joining a group the connection is
// already in is a no-op.
func (h *Hub) Join(key domain.GroupKey, client domain.Client) {
	var (
		exists bool
		total  int
	)
	for {
		g := h.getOrCreate(key)

		g.mu.Lock()
		if g.dead {
			// Reaped between the map lookup and taking the group lock.
			g.mu.Unlock()
			continue
		}
		_, exists = g.members[client.ID()]
		if !exists {
			g.members[client.ID()] = client
		}
		total = len(g.members)
		g.mu.Unlock()
		break
	}

	if exists {
		return
	}

	h.logger.Debug("connection joined group",
		"group", string(key),
		"connection_id", client.ID(),
		"group_size", total,
	)
}

// Leave removes a connection from a group. Removing an absent connection is
// a no-op.
func (h *Hub) Leave(key domain.GroupKey, connectionID string) {
	g := h.get(key)
	if g == nil {
		return
	}

	g.mu.Lock()
	_, exists := g.members[connectionID]
	if exists {
		delete(g.members, connectionID)
	}
	total := len(g.members)
	g.mu.Unlock()

	if !exists {
		return
	}

	h.logger.Debug("connection left group",
		"group", string(key),
		"connection_id", connectionID,
		"group_size", total,
	)
	h.reap(key)
}

// MarkOnline records one active connection for a user in a group and reports
// whether the user transitioned to online (first connection).
func (h *Hub) MarkOnline(key domain.GroupKey, username string) bool {
	for {
		g := h.getOrCreate(key)

		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			continue
		}
		g.presence[username]++
		first := g.presence[username] == 1
		g.mu.Unlock()

		return first
	}
}

// MarkOffline removes one active connection for a user in a group and reports
// whether the user transitioned to offline (last connection). Removing an
// absent user is a no-op; the count never goes negative.
func (h *Hub) MarkOffline(key domain.GroupKey, username string) bool {
	g := h.get(key)
	if g == nil {
		return false
	}

	g.mu.Lock()
	count, ok := g.presence[username]
	last := false
	if ok {
		count--
		if count <= 0 {
			delete(g.presence, username)
			last = true
		} else {
			g.presence[username] = count
		}
	}
	g.mu.Unlock()

	if last {
		h.reap(key)
	}
	return last
}

// ListOnline returns the usernames currently present in a group.
func (h *Hub) ListOnline(key domain.GroupKey) []string {
	g := h.get(key)
	if g == nil {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	online := make([]string, 0, len(g.presence))
	for username := range g.presence {
		online = append(online, username)
	}
	return online
}

// Broadcast delivers a payload to every connection currently in the group.
// Delivery iterates a snapshot taken at call time, so concurrent joins and
// leaves neither block nor break the fan-out. A failing recipient is logged
// and skipped; broadcast always succeeds from the caller's perspective.
func (h *Hub) Broadcast(ctx context.Context, key domain.GroupKey, payload []byte) {
	g := h.get(key)
	if g == nil {
		return
	}

	g.mu.RLock()
	recipients := make([]domain.Client, 0, len(g.members))
	for _, client := range g.members {
		recipients = append(recipients, client)
	}
	g.mu.RUnlock()

	var successCount, errorCount int

	for _, client := range recipients {
		sendCtx, cancel := context.WithTimeout(ctx, h.options.SendTimeout)
		err := client.Send(sendCtx, payload)
		cancel()

		if err != nil {
			errorCount++
			atomic.AddInt64(&h.deliveryErrors, 1)
			h.logger.Error("failed to deliver to connection",
				"group", string(key),
				"connection_id", client.ID(),
				"error", err,
			)
			if h.eventBus != nil {
				event := eventbus.NewEvent(
					eventbus.EventBroadcastDropped,
					"hub",
					nil,
				).WithMetadata("group", string(key)).
					WithMetadata("connection_id", client.ID())
				h.eventBus.PublishAsync(event)
			}
			continue
		}

		successCount++
		atomic.AddInt64(&h.messagesSent, 1)
	}

	h.logger.Debug("broadcast complete",
		"group", string(key),
		"success_count", successCount,
		"error_count", errorCount,
	)
}

// MemberCount returns the number of connections subscribed to a group.
func (h *Hub) MemberCount(key domain.GroupKey) int {
	g := h.get(key)
	if g == nil {
		return 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Stats provides statistics about the hub
type Stats struct {
	Groups         int     `json:"groups"`
	MessagesSent   int64   `json:"messages_sent"`
	DeliveryErrors int64   `json:"delivery_errors"`
	Uptime         float64 `json:"uptime_seconds"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	groups := len(h.groups)
	h.mu.RUnlock()

	return Stats{
		Groups:         groups,
		MessagesSent:   atomic.LoadInt64(&h.messagesSent),
		DeliveryErrors: atomic.LoadInt64(&h.deliveryErrors),
		Uptime:         time.Since(h.startTime).Seconds(),
	}
}

func (h *Hub) get(key domain.GroupKey) *group {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.groups[key]
}

func (h *Hub) getOrCreate(key domain.GroupKey) *group {
	h.mu.RLock()
	g := h.groups[key]
	h.mu.RUnlock()
	if g != nil {
		return g
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if g = h.groups[key]; g == nil {
		g = newGroup()
		h.groups[key] = g
	}
	return g
}

// reap drops a group's entry once it has no members and no presence. The
// dead flag is written under the group's write lock, so a joiner holding a
// stale pointer observes it and re-fetches instead of inserting into a
// group no broadcast can reach.
func (h *Hub) reap(key domain.GroupKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g := h.groups[key]
	if g == nil {
		return
	}

	g.mu.Lock()
	if g.empty() {
		g.dead = true
		delete(h.groups, key)
	}
	g.mu.Unlock()
}
