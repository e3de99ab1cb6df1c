package websocket

import (
	"context"
	"net/http"

	"github.com/emberchat/ember/internal/eventbus"
	"github.com/emberchat/ember/internal/logging"
	"github.com/emberchat/ember/pkg/domain"
	"github.com/emberchat/ember/pkg/hub"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// Authenticator resolves the authenticated username for an upgrade request.
// It is consumed here, implemented by the session/auth layer.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// ServerOptions represents websocket server options
type ServerOptions struct {
	Client      ClientOptions
	CheckOrigin func(r *http.Request) bool
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithClientOptions sets the per-connection options
func WithClientOptions(opts ClientOptions) ServerOption {
	return func(o *ServerOptions) {
		o.Client = opts
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) {
		o.CheckOrigin = checkOrigin
	}
}

// Server upgrades HTTP requests into hub sessions. Room connections arrive
// on /ws/chat/{room}, direct-message connections on /ws/dm/{username}.
type Server struct {
	upgrader   websocket.Upgrader
	hub        *hub.Hub
	dispatcher *hub.Dispatcher
	gateway    domain.Gateway
	auth       Authenticator
	logger     *logging.Logger
	eventBus   eventbus.Bus
	options    ServerOptions
}

// NewServer creates a new WebSocket server
func NewServer(h *hub.Hub, dispatcher *hub.Dispatcher, gateway domain.Gateway, auth Authenticator, logger *logging.Logger, eventBus eventbus.Bus, opts ...ServerOption) *Server {
	options := ServerOptions{
		Client: DefaultClientOptions(),
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins by default (configure for production)
		},
	}

	for _, opt := range opts {
		opt(&options)
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.Client.ReadBufferSize,
			WriteBufferSize: options.Client.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		hub:        h,
		dispatcher: dispatcher,
		gateway:    gateway,
		auth:       auth,
		logger:     logger,
		eventBus:   eventBus,
		options:    options,
	}
}

// ChatHandler serves room connections. The room name comes from the route.
func (s *Server) ChatHandler(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if room == "" {
		http.Error(w, "room name required", http.StatusBadRequest)
		return
	}
	s.serve(w, r, func(client domain.Client, username string) *hub.Session {
		return hub.NewRoomSession(s.hub, s.gateway, s.logger, client, username, room)
	})
}

// DMHandler serves direct-message connections. The peer username comes from
// the route; the canonical group key is derived from both participants.
func (s *Server) DMHandler(w http.ResponseWriter, r *http.Request) {
	peer := chi.URLParam(r, "username")
	if peer == "" {
		http.Error(w, "peer username required", http.StatusBadRequest)
		return
	}
	s.serve(w, r, func(client domain.Client, username string) *hub.Session {
		return hub.NewDMSession(s.hub, s.gateway, s.logger, client, username, peer)
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, newSession func(domain.Client, string) *hub.Session) {
	// Unauthenticated callers are refused before any state is touched.
	username, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Warn("refusing unauthenticated connection",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	connectionID := xid.New().String()
	client := NewClient(connectionID, conn, s.logger, s.options.Client)
	session := newSession(client, username)

	ctx := r.Context()

	// Frames are not read until the pumps start, so registration is
	// complete before the first inbound frame is processed.
	client.Receive(func(message []byte) error {
		s.dispatcher.Dispatch(context.Background(), session, message)
		return nil
	})

	if err := session.Activate(ctx); err != nil {
		s.logger.Error("session activation failed",
			"connection_id", connectionID,
			"username", username,
			"error", err,
		)
		return
	}

	if s.eventBus != nil {
		event := eventbus.NewEvent(
			eventbus.EventClientConnected,
			"websocket-server",
			nil,
		).WithMetadata("connection_id", connectionID).
			WithMetadata("username", username).
			WithMetadata("group", string(session.Group())).
			WithMetadata("remote_addr", r.RemoteAddr)
		s.eventBus.PublishAsync(event)
	}

	client.Start()

	s.logger.Info("client connected",
		"connection_id", connectionID,
		"username", username,
		"group", string(session.Group()),
	)

	// Wait for the connection to close, then run the teardown sequence.
	// Teardown uses a fresh context: the request context is already done.
	<-client.Context().Done()
	session.Close(context.Background())

	if s.eventBus != nil {
		event := eventbus.NewEvent(
			eventbus.EventClientDisconnected,
			"websocket-server",
			nil,
		).WithMetadata("connection_id", connectionID).
			WithMetadata("username", username).
			WithMetadata("group", string(session.Group()))
		s.eventBus.PublishAsync(event)
	}

	s.logger.Info("client disconnected",
		"connection_id", connectionID,
		"username", username,
	)
}
