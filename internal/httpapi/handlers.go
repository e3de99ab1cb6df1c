// Package httpapi exposes the REST surface: account endpoints, the room
// and user directories, and message history.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emberchat/ember/internal/auth"
	"github.com/emberchat/ember/internal/logging"
	"github.com/emberchat/ember/internal/store"
	"github.com/emberchat/ember/pkg/domain"
)

// Presence reports which users are currently online in a group. The hub
// satisfies this.
type Presence interface {
	ListOnline(key domain.GroupKey) []string
}

// Handler serves the REST API.
type Handler struct {
	store    *store.Store
	auth     *auth.Manager
	presence Presence
	logger   *logging.Logger
}

// NewHandler wires the REST API against the store, auth manager, and hub.
func NewHandler(s *store.Store, a *auth.Manager, p Presence, logger *logging.Logger) *Handler {
	return &Handler{
		store:    s,
		auth:     a,
		presence: p,
		logger:   logger.WithFields(map[string]any{"component": "httpapi"}),
	}
}

// Routes mounts every API endpoint on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requestLogger)

	r.Post("/register", h.Register)
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Post("/logout", h.Logout)
		r.Get("/users", h.ListUsers)
		r.Get("/rooms", h.ListRooms)
		r.Post("/rooms/create", h.CreateRoom)
		r.Post("/rooms/join/{room}", h.JoinRoom)
		r.Get("/rooms/info/{room}", h.RoomInfo)
		r.Get("/history/{room}", h.RoomHistory)
		r.Get("/dm/history/{username}", h.DMHistory)
	})

	return r
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Register creates an account and returns a session token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.auth.Register(r, req.Username, req.Password)
	if err != nil {
		h.logger.Warn("registration rejected", "username", req.Username, "error", err)
		h.writeError(w, http.StatusBadRequest, "registration failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, tokenResponse{Token: token, Username: req.Username})
}

// Login verifies credentials and returns a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.auth.Login(r, req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		h.logger.Error("login failed", "username", req.Username, "error", err)
		h.writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	h.writeJSON(w, http.StatusOK, tokenResponse{Token: token, Username: req.Username})
}

// Logout revokes the caller's token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(tokenFrom(r))
	w.WriteHeader(http.StatusNoContent)
}

// ListUsers returns the user directory, excluding the caller.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context(), usernameFrom(r))
	if err != nil {
		h.logger.Error("failed to list users", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

// ListRooms returns every room flagged with the caller's membership.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListRooms(r.Context(), usernameFrom(r))
	if err != nil {
		h.logger.Error("failed to list rooms", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	h.writeJSON(w, http.StatusOK, rooms)
}

type createRoomRequest struct {
	Name string `json:"name"`
}

// CreateRoom creates a room (idempotently) and makes the caller a member.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "room name is required")
		return
	}

	username := usernameFrom(r)
	room, err := h.store.CreateRoomIfAbsent(r.Context(), req.Name, username)
	if err != nil {
		h.logger.Error("failed to create room", "room", req.Name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	if err := h.store.AddMember(r.Context(), room, username); err != nil {
		h.logger.Error("failed to join room", "room", req.Name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to join room")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"name": room.Name})
}

// JoinRoom adds the caller to an existing room.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")

	info, err := h.store.RoomInfo(r.Context(), roomName)
	if errors.Is(err, domain.ErrRoomNotFound) {
		h.writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to look up room", "room", roomName, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to join room")
		return
	}

	// The room exists, so this only resolves its ref.
	room, err := h.store.CreateRoomIfAbsent(r.Context(), info.Name, usernameFrom(r))
	if err == nil {
		err = h.store.AddMember(r.Context(), room, usernameFrom(r))
	}
	if err != nil {
		h.logger.Error("failed to join room", "room", roomName, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to join room")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type roomInfoResponse struct {
	store.RoomInfo
	Online []string `json:"online"`
}

// RoomInfo returns a room's creator, members, and currently online users.
func (h *Handler) RoomInfo(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")

	info, err := h.store.RoomInfo(r.Context(), roomName)
	if errors.Is(err, domain.ErrRoomNotFound) {
		h.writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load room info", "room", roomName, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load room info")
		return
	}

	resp := roomInfoResponse{
		RoomInfo: info,
		Online:   h.presence.ListOnline(domain.RoomKey(roomName)),
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// RoomHistory returns a room's recent messages oldest first.
func (h *Handler) RoomHistory(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")

	history, err := h.store.RoomHistory(r.Context(), roomName, 0)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to load history", "room", roomName, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

// DMHistory returns the caller's conversation with another user.
func (h *Handler) DMHistory(w http.ResponseWriter, r *http.Request) {
	other := chi.URLParam(r, "username")

	history, err := h.store.DMHistory(r.Context(), usernameFrom(r), other, 0)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to load dm history", "peer", other, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
