package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/emberchat/ember/internal/logging"
	"github.com/emberchat/ember/pkg/domain"
	"github.com/emberchat/ember/pkg/errors"
)

// State is the lifecycle phase of a session.
type State int32

const (
	// StateConnecting is the initial phase, before registration completes.
	StateConnecting State = iota
	// StateActive means the session is registered and processing frames.
	StateActive
	// StateClosed is terminal. Sessions are never reused.
	StateClosed
)

// Kind distinguishes room sessions from direct-message sessions.
type Kind int

const (
	// KindRoom is a session attached to a named room.
	KindRoom Kind = iota
	// KindDM is a session attached to a two-party conversation.
	KindDM
)

// Session holds the hub-side state for one live authenticated connection.
// A session is bound to exactly one group for its entire lifetime.
type Session struct {
	id       string
	username string
	kind     Kind
	target   string // room name, or DM peer username
	key      domain.GroupKey

	client domain.Client
	hub    *Hub
	gw     domain.Gateway
	logger *logging.Logger

	avatarURL string
	state     atomic.Int32
	closeOnce sync.Once
}

// NewRoomSession creates a session bound to a named room.
func NewRoomSession(h *Hub, gw domain.Gateway, logger *logging.Logger, client domain.Client, username, roomName string) *Session {
	return newSession(h, gw, logger, client, username, KindRoom, roomName, domain.RoomKey(roomName))
}

// NewDMSession creates a session bound to the canonical conversation between
// the authenticated user and peer.
func NewDMSession(h *Hub, gw domain.Gateway, logger *logging.Logger, client domain.Client, username, peer string) *Session {
	return newSession(h, gw, logger, client, username, KindDM, peer, domain.DMKey(username, peer))
}

func newSession(h *Hub, gw domain.Gateway, logger *logging.Logger, client domain.Client, username string, kind Kind, target string, key domain.GroupKey) *Session {
	return &Session{
		id:       client.ID(),
		username: username,
		kind:     kind,
		target:   target,
		key:      key,
		client:   client,
		hub:      h,
		gw:       gw,
		logger: logger.WithFields(map[string]any{
			"connection_id": client.ID(),
			"username":      username,
			"group":         string(key),
		}),
	}
}

// ID returns the connection identifier.
func (s *Session) ID() string { return s.id }

// Username returns the authenticated username.
func (s *Session) Username() string { return s.username }

// Kind returns the session kind.
func (s *Session) Kind() Kind { return s.kind }

// Group returns the group key the session is bound to.
func (s *Session) Group() domain.GroupKey { return s.key }

// Target returns the room name for room sessions, or the peer username for
// DM sessions.
func (s *Session) Target() string { return s.target }

// AvatarURL returns the sender's resolved profile image URL. Valid after
// Activate.
func (s *Session) AvatarURL() string { return s.avatarURL }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Activate moves the session from connecting to active: it resolves the
// group, registers with the group directory and the presence registry, and
// announces the user online. On any failure the session ends up closed with
// no partial registration left behind.
func (s *Session) Activate(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return errors.New(errors.ErrorTypeInternal, "SESSION_NOT_CONNECTING", "session already activated or closed")
	}

	s.avatarURL = s.gw.AvatarURLFor(ctx, s.username)

	if s.kind == KindRoom {
		room, err := s.gw.CreateRoomIfAbsent(ctx, s.target, s.username)
		if err != nil {
			s.abortActivation()
			return errors.Wrap(err, errors.ErrorTypePersistence, "ROOM_RESOLVE_FAILED", "failed to resolve room")
		}
		if err := s.gw.AddMember(ctx, room, s.username); err != nil {
			s.abortActivation()
			return errors.Wrap(err, errors.ErrorTypePersistence, "MEMBERSHIP_WRITE_FAILED", "failed to record room membership")
		}
	}

	s.hub.Join(s.key, s.client)
	first := s.hub.MarkOnline(s.key, s.username)

	s.logger.Info("session active")

	if first {
		s.announcePresence(ctx, domain.StatusOnline)
	}

	return nil
}

// Close runs the teardown sequence exactly once, regardless of how many
// times it is called or which path triggered it: deregister from the group
// directory, deregister from presence, announce offline, close the
// connection. Each step runs even if an earlier one had nothing to do.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		wasActive := s.state.Swap(int32(StateClosed)) == int32(StateActive)
		if !wasActive {
			// Never registered; nothing to deregister or announce.
			if err := s.client.Close(); err != nil {
				s.logger.Debug("connection close", "error", err)
			}
			return
		}

		s.hub.Leave(s.key, s.id)
		last := s.hub.MarkOffline(s.key, s.username)

		if last {
			s.announcePresence(ctx, domain.StatusOffline)
		}

		if err := s.client.Close(); err != nil {
			s.logger.Debug("connection close", "error", err)
		}

		s.logger.Info("session closed")
	})
}

// abortActivation rolls the session straight to closed after a fatal
// activation error, before any registration happened.
func (s *Session) abortActivation() {
	s.state.Store(int32(StateClosed))
	s.closeOnce.Do(func() {})
	if err := s.client.Close(); err != nil {
		s.logger.Debug("connection close", "error", err)
	}
}

func (s *Session) announcePresence(ctx context.Context, status string) {
	payload, err := json.Marshal(domain.NewPresenceEvent(s.username, status, s.avatarURL))
	if err != nil {
		s.logger.Error("failed to encode presence event", "error", err)
		return
	}
	s.hub.Broadcast(ctx, s.key, payload)
}
