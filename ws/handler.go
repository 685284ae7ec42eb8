package ws

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pingme/pingme/auth"
	"github.com/pingme/pingme/config"
	"github.com/pingme/pingme/globals"
	"github.com/pingme/pingme/member"
	"github.com/pingme/pingme/metrics"
	"github.com/pingme/pingme/persistence"
	"github.com/pingme/pingme/types"
	"golang.org/x/time/rate"
)

// Handler accepts the real-time connections. One instance per server
// process, sharing the registry and dispatcher with every connection.
type Handler struct {
	cfg        *config.Config
	registry   *Registry
	dispatcher *Dispatcher
	gateway    *auth.Gateway
	gate       *member.Gate
	persister  persistence.Persister
	metrics    *metrics.Collector

	upgrader websocket.Upgrader
}

func NewHandler(cfg *config.Config, registry *Registry, dispatcher *Dispatcher, gateway *auth.Gateway, gate *member.Gate, persister persistence.Persister, collector *metrics.Collector) *Handler {
	return &Handler{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		gateway:    gateway,
		gate:       gate,
		persister:  persister,
		metrics:    collector,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS handles an incoming websocket connection scoped to one room. The
// identity is resolved from the connection's credentials before anything is
// registered; an unresolvable identity fails closed.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	if roomId == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	vals := r.URL.Query()
	creds := auth.Credentials{
		Token:    vals.Get("token"),
		IdToken:  vals.Get("id_token"),
		Provider: vals.Get("provider"),
	}
	if creds.Token == "" {
		if bearer := r.Header.Get("Authorization"); len(bearer) > 7 && bearer[:7] == "Bearer " {
			creds.Token = bearer[7:]
		}
	}
	user, err := h.gateway.ResolveIdentity(r.Context(), creds)
	if err != nil {
		globals.AppLogger.Error("could not resolve identity", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if user == nil {
		user = h.gateway.GuestUser()
	}
	if user == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	room := &types.Room{Id: roomId}
	err = h.persister.GetRoom(room)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			globals.AppLogger.Error("could not load room", "room", roomId, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}

	msgRate, burst := h.cfg.MessageRate()
	session := NewSession(h.registry, h.dispatcher, conn, rate.Limit(msgRate), burst)
	defer session.Close()

	// first contact joins the room durably; guests hold no membership rows
	if !isGuest(user) {
		invited := vals.Get("invite") == "1"
		if err := h.gate.Join(room, user, invited); err != nil {
			globals.AppLogger.Error("could not join room", "room", room.Id, "user", user.Id, "error", err)
			conn.Close()
			return
		}
	}

	if !session.Activate(user, room) {
		return
	}
	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()
	globals.AppLogger.Info("session active", "room", room.Id, "user", user.Id)

	go session.WriteLoop()
	session.ReadLoop() // returns on disconnect, error or forced close
	globals.AppLogger.Info("session closed", "room", room.Id, "user", user.Id)
}

func isGuest(user *types.User) bool {
	return len(user.Id) > 6 && user.Id[:6] == "guest:"
}
