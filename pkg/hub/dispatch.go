package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/emberchat/ember/internal/eventbus"
	"github.com/emberchat/ember/internal/logging"
	"github.com/emberchat/ember/pkg/domain"
	emberrors "github.com/emberchat/ember/pkg/errors"
)

// Dispatcher validates inbound frames and routes them to the typing or chat
// handler. Nothing it does ever surfaces an error to the remote peer:
// malformed frames are dropped, persistence failures are logged and the
// connection stays open.
type Dispatcher struct {
	hub        *Hub
	gw         domain.Gateway
	logger     *logging.Logger
	eventBus   eventbus.Bus
	errHandler emberrors.Handler
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(h *Hub, gw domain.Gateway, logger *logging.Logger, eventBus eventbus.Bus) *Dispatcher {
	return &Dispatcher{
		hub:        h,
		gw:         gw,
		logger:     logger,
		eventBus:   eventBus,
		errHandler: emberrors.NewDefaultHandler(logger.Logger),
	}
}

// Dispatch processes one raw inbound frame for a session. Frames from a
// single connection arrive here sequentially, so ordering within a
// connection is preserved.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, raw []byte) {
	if s.State() != StateActive {
		return
	}

	frame, ok := domain.DecodeInbound(raw)
	if !ok {
		d.logger.Debug("dropping malformed frame",
			"connection_id", s.ID(),
			"size", len(raw),
		)
		return
	}

	if frame.IsTyping() {
		d.handleTyping(ctx, s, frame.TypingState())
		return
	}

	d.handleChat(ctx, s, frame.Message)
}

// handleTyping relays the indicator to the session's group. No persistence,
// no debouncing; one broadcast per frame received.
func (d *Dispatcher) handleTyping(ctx context.Context, s *Session, typing bool) {
	payload, err := json.Marshal(domain.NewTypingEvent(s.Username(), typing))
	if err != nil {
		d.logger.Error("failed to encode typing event", "error", err)
		return
	}
	d.hub.Broadcast(ctx, s.Group(), payload)
}

// handleChat persists the message, then broadcasts it. Persistence failure
// aborts the broadcast: a message nobody could reload from history is shown
// to nobody.
func (d *Dispatcher) handleChat(ctx context.Context, s *Session, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	var (
		ref domain.MessageRef
		err error
	)

	switch s.Kind() {
	case KindDM:
		if _, err = d.gw.ResolveUser(ctx, s.Target()); err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				d.logger.Warn("dropping message to unknown user",
					"connection_id", s.ID(),
					"peer", s.Target(),
				)
				return
			}
			d.logPersistenceFailure(ctx, s, err)
			return
		}
		ref, err = d.gw.AppendDirectMessage(ctx, s.Username(), s.Target(), text)
	default:
		ref, err = d.gw.AppendRoomMessage(ctx, s.Target(), s.Username(), text)
	}

	if err != nil {
		d.logPersistenceFailure(ctx, s, err)
		return
	}

	if d.eventBus != nil {
		event := eventbus.NewEvent(
			eventbus.EventMessagePersisted,
			"dispatcher",
			nil,
		).WithMetadata("group", string(s.Group())).
			WithMetadata("username", s.Username()).
			WithMetadata("message_id", strconv.FormatInt(ref.ID, 10))
		d.eventBus.PublishAsync(event)
	}

	var out domain.MessageEvent
	if s.Kind() == KindDM {
		out = domain.NewDMEvent(s.Username(), text, s.AvatarURL())
	} else {
		out = domain.NewChatEvent(s.Username(), text, s.AvatarURL())
	}

	payload, err := json.Marshal(out)
	if err != nil {
		d.logger.Error("failed to encode message event", "error", err)
		return
	}
	d.hub.Broadcast(ctx, s.Group(), payload)
}

func (d *Dispatcher) logPersistenceFailure(ctx context.Context, s *Session, err error) {
	wrapped := emberrors.Wrap(err, emberrors.ErrorTypePersistence, "MESSAGE_PERSIST_FAILED", "failed to persist message").
		WithDetails("group " + string(s.Group()) + " from " + s.Username())
	d.errHandler.Handle(ctx, wrapped)
}
