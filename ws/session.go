package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/pingme/pingme/globals"
	"github.com/pingme/pingme/types"
	"golang.org/x/time/rate"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

// Session states. A session only ever moves forward: CONNECTING -> ACTIVE ->
// CLOSED, with CLOSED terminal.
const (
	StateConnecting int32 = iota
	StateActive
	StateClosed
)

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Session owns one accepted websocket connection, the authenticated user
// behind it and the single room it is subscribed to. The room is fixed at
// connect time; switching rooms takes a new connection.
type Session struct {
	registry   *Registry
	dispatcher *Dispatcher

	conn *websocket.Conn
	user *types.User
	room *types.Room

	// Buffered channel of outbound payloads, drained by WriteLoop.
	send    chan []byte
	state   atomic.Int32
	done    chan struct{}
	closing sync.Once

	limiter *rate.Limiter
}

func NewSession(registry *Registry, dispatcher *Dispatcher, conn *websocket.Conn, limit rate.Limit, burst int) *Session {
	return &Session{
		registry:   registry,
		dispatcher: dispatcher,
		conn:       conn,
		send:       make(chan []byte, sendChannelSize),
		done:       make(chan struct{}),
		limiter:    rate.NewLimiter(limit, burst),
	}
}

func (s *Session) State() int32 { return s.state.Load() }

func (s *Session) SubscriberId() string {
	if s.user == nil {
		return "(connecting)"
	}
	return s.user.Id
}

func (s *Session) UserId() string {
	if s.user == nil {
		return ""
	}
	return s.user.Id
}

// Activate transitions CONNECTING -> ACTIVE: the identity is resolved, the
// session is bound to its room and registered for fan-out. It fails closed
// if the session is not in CONNECTING.
func (s *Session) Activate(user *types.User, room *types.Room) bool {
	if !s.state.CompareAndSwap(StateConnecting, StateActive) {
		return false
	}
	s.user = user
	s.room = room
	s.registry.Subscribe(room.Id, s)
	return true
}

// Close transitions to CLOSED and unsubscribes from the registry. This is
// the guaranteed cleanup step: it is safe to call from any state, any number
// of times, and it runs even when the read path fails.
func (s *Session) Close() {
	s.closing.Do(func() {
		prev := s.state.Swap(StateClosed)
		if prev == StateActive {
			s.registry.Unsubscribe(s.room.Id, s)
		}
		close(s.done)
		s.conn.Close()
		// the send channel stays open for the gc: closing it here would race
		// against a concurrent Deliver
	})
}

// Deliver queues a payload for the write pump without blocking. It fails
// when the session is closed or its buffer is full; the registry removes
// the subscriber on failure.
func (s *Session) Deliver(payload []byte) error {
	if s.state.Load() == StateClosed {
		return errSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		return errSendBufferFull
	}
}

// ReadLoop pumps inbound frames from the websocket connection into the
// dispatcher. The application runs ReadLoop in a per-connection goroutine;
// there is at most one reader per connection.
//
// Each frame is decoded leniently: anything that is not a non-empty message
// is silently ignored. A failed persist drops the single frame and keeps the
// connection open.
func (s *Session) ReadLoop() {
	defer s.Close()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				globals.AppLogger.Debug("ws closed unexpectedly", "user", s.SubscriberId(), "error", err)
			}
			return
		}

		frameMap := make(map[string]interface{})
		if err := json.Unmarshal(raw, &frameMap); err != nil {
			continue // unrecognized payload, not an error
		}
		frame := types.InboundFrame{}
		if err := mapstructure.WeakDecode(frameMap, &frame); err != nil {
			continue
		}
		if frame.Message == "" {
			continue
		}

		if !s.limiter.Allow() {
			globals.AppLogger.Warn("rate limit exceeded, dropping frame", "user", s.SubscriberId())
			s.dispatcher.metrics.FrameDropped("rate_limited")
			continue
		}

		_, _, err = s.dispatcher.Dispatch(s.room, s.user, frame.Message)
		if err != nil {
			// the frame is dropped, not broadcast, and the connection stays up
			globals.AppLogger.Error("could not persist message, dropping frame",
				"room", s.room.Id, "user", s.user.Id, "error", err)
			s.dispatcher.metrics.FrameDropped("persistence_failure")
		}
	}
}

// WriteLoop pumps payloads from the send channel to the websocket
// connection. A goroutine running WriteLoop is started for each connection;
// there is at most one writer per connection.
func (s *Session) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				globals.AppLogger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				globals.AppLogger.Debug("could not send ping message, exiting write loop", "error", err)
				return
			}

		case <-s.done:
			return
		}
	}
}
