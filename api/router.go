package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingme/pingme/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// NewRouter wires the REST surface, the metrics endpoint and the websocket
// endpoint into one router. wsHandler is the real-time entry point; it is
// registered here so room paths share one URL scheme.
func NewRouter(s *Server, wsHandler http.HandlerFunc, promRegistry *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/api/logout", s.handleLogout).Methods(http.MethodPost)

	authed := router.PathPrefix("/api").Subrouter()
	authed.Use(authMiddleware(s.gateway))
	authed.HandleFunc("/rooms/", s.handleListRooms).Methods(http.MethodGet)
	authed.HandleFunc("/rooms/create", s.handleCreateRoom).Methods(http.MethodPost)
	authed.HandleFunc("/rooms/{room}/messages", s.handleRoomMessages).Methods(http.MethodGet)
	authed.HandleFunc("/rooms/{room}/members", s.handleRoomMembers).Methods(http.MethodGet)
	authed.HandleFunc("/rooms/{room}/add-user", s.handleAddUser).Methods(http.MethodPost)
	authed.HandleFunc("/rooms/{room}/kick", s.handleKickUser).Methods(http.MethodPost)
	authed.HandleFunc("/rooms/{room}/leave", s.handleLeaveRoom).Methods(http.MethodPost)
	authed.HandleFunc("/rooms/{room}/make-admin", s.handleMakeAdmin).Methods(http.MethodPost)

	if promRegistry != nil {
		router.Handle("/metrics", metrics.Handler(promRegistry)).Methods(http.MethodGet)
	}
	if wsHandler != nil {
		router.HandleFunc("/chat/{room}", wsHandler).Methods(http.MethodGet)
	}
	return router
}
