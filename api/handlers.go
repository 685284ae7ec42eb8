package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pingme/pingme/auth"
	"github.com/pingme/pingme/config"
	"github.com/pingme/pingme/member"
	"github.com/pingme/pingme/persistence"
	"github.com/pingme/pingme/types"
)

var validate = validator.New()

// Server carries the collaborators of the REST surface. The real-time core
// is not reached from here; both sides only share the gate and the store.
type Server struct {
	cfg       *config.Config
	gateway   *auth.Gateway
	gate      *member.Gate
	persister persistence.Persister
}

func NewServer(cfg *config.Config, gateway *auth.Gateway, gate *member.Gate, persister persistence.Persister) *Server {
	return &Server{cfg: cfg, gateway: gateway, gate: gate, persister: persister}
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "email and password required")
		return
	}
	token, user, err := s.gateway.Login(req.Email, req.Password)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		s.gateway.Logout(token)
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "logged out"})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	rooms, err := s.persister.GetRoomsForUser(user.Id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	type roomEntry struct {
		Id   string `json:"id"`
		Name string `json:"name"`
	}
	entries := make([]roomEntry, 0, len(rooms))
	for _, room := range rooms {
		entries = append(entries, roomEntry{Id: room.Id, Name: room.Name})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": entries})
}

type createRoomRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	req := createRoomRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "room name required")
		return
	}
	room := &types.Room{
		Id:        uuid.NewString(),
		Name:      req.Name,
		OwnerId:   &user.Id,
		CreatedAt: time.Now(),
	}
	if err := s.persister.StoreRoom(room); err != nil {
		writeFailure(w, err)
		return
	}
	// the creator is owner and an admin member
	_, err := s.persister.CreateMembership(&types.Membership{
		RoomId:   room.Id,
		UserId:   user.Id,
		IsAdmin:  true,
		JoinedAt: time.Now(),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": room.Id, "name": room.Name})
}

func (s *Server) loadRoom(r *http.Request) (*types.Room, error) {
	room := &types.Room{Id: mux.Vars(r)["room"]}
	if err := s.persister.GetRoom(room); err != nil {
		return nil, err
	}
	return room, nil
}

// handleRoomMessages returns up to limit messages (default from config,
// newest first in the store) reversed into chronological order for display.
func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	room, err := s.loadRoom(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	limit := s.cfg.HistoryPageSize()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	messages, err := s.persister.GetMessageHistory(room.Id, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	type messageEntry struct {
		Id      string `json:"id"`
		User    string `json:"user"`
		Content string `json:"content"`
		Created string `json:"created"`
	}
	entries := make([]messageEntry, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		entries = append(entries, messageEntry{
			Id:      m.Id,
			User:    m.UserName,
			Content: m.Content,
			Created: m.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRoomMembers(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	room, err := s.loadRoom(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	memberships, err := s.persister.GetMemberships(room.Id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	type memberEntry struct {
		Id      string `json:"id"`
		Name    string `json:"username"`
		Email   string `json:"email"`
		IsAdmin bool   `json:"is_admin"`
		IsOwner bool   `json:"is_owner"`
	}
	entries := make([]memberEntry, 0, len(memberships))
	for _, m := range memberships {
		u := &types.User{Id: m.UserId}
		if err := s.persister.GetUser(u); err != nil {
			continue
		}
		entries = append(entries, memberEntry{
			Id:      u.Id,
			Name:    u.Name,
			Email:   u.Email,
			IsAdmin: m.IsAdmin,
			IsOwner: room.IsOwner(u.Id),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"members":               entries,
		"current_user_id":       user.Id,
		"current_user_is_owner": room.IsOwner(user.Id),
	})
}

type addUserRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	actor := requestUser(r)
	req := addUserRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "email required")
		return
	}
	room, err := s.loadRoom(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	target, err := s.gate.AddMember(actor, room, req.Email)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": target.Name + " added"})
}

type targetUserRequest struct {
	UserId string `json:"user_id" validate:"required"`
}

func (s *Server) handleKickUser(w http.ResponseWriter, r *http.Request) {
	actor := requestUser(r)
	req := targetUserRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	room, err := s.loadRoom(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.gate.Kick(actor, room, req.UserId); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "user removed"})
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	actor := requestUser(r)
	room, err := s.loadRoom(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.gate.Leave(actor, room); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not in room")
			return
		}
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "left room"})
}

func (s *Server) handleMakeAdmin(w http.ResponseWriter, r *http.Request) {
	actor := requestUser(r)
	req := targetUserRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	room, err := s.loadRoom(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.gate.TransferOwnership(actor, room, req.UserId); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "ownership transferred"})
}
