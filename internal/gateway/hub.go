package gateway

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/game/engine"
	"github.com/cory-johannsen/duel/internal/game/room"
)

var errUnknownSession = errors.New("unknown session")

// Rooms is the room-layer surface the gateway drives.
type Rooms interface {
	Join(connID, key string) error
	Move(connID, key string, mv engine.Move) error
	Leave(connID string) bool
	Disconnect(connID string)
}

// Hub tracks live sessions and delivers room events to them. It implements
// room.Notifier.
type Hub struct {
	logger   *zap.Logger
	count    atomic.Int32
	sessions sync.Map // id → *Session
	rooms    Rooms
}

// NewHub creates an empty Hub. Attach must be called before the first
// session opens.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{logger: logger}
}

// Attach sets the room layer inbound events are dispatched to. The room
// layer in turn uses the Hub as its Notifier, so the two are wired after
// construction.
func (h *Hub) Attach(rooms Rooms) { h.rooms = rooms }

// Len returns the number of open sessions.
func (h *Hub) Len() int { return int(h.count.Load()) }

// Get returns the session with the given id.
func (h *Hub) Get(id string) (*Session, bool) {
	v, ok := h.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Send implements room.Notifier.
func (h *Hub) Send(connID string, ev room.Event) error {
	s, ok := h.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownSession, connID)
	}
	frame, err := Encode(ev)
	if err != nil {
		return err
	}
	return s.Send(frame)
}

// CloseAll closes every open session.
func (h *Hub) CloseAll() {
	h.sessions.Range(func(_, v any) bool {
		v.(*Session).Close()
		return true
	})
}

// OnSessionOpen registers s.
func (h *Hub) OnSessionOpen(s *Session) {
	if _, loaded := h.sessions.LoadOrStore(s.ID(), s); !loaded {
		n := h.count.Add(1)
		s.logger.Info("connection opened",
			zap.String("remote", s.RemoteAddr()),
			zap.Int32("sessions", n),
		)
	}
}

// OnSessionClose unregisters s and releases its seat.
//
// Precondition: s has stopped reading; no Dispatch for s follows.
func (h *Hub) OnSessionClose(s *Session) {
	if _, loaded := h.sessions.LoadAndDelete(s.ID()); loaded {
		n := h.count.Add(-1)
		s.logger.Info("connection closed", zap.Int32("sessions", n))
	}
	h.rooms.Disconnect(s.ID())
}

// Dispatch routes one inbound frame from s. Frames from a closed session
// are dropped: its seat is being released and must not be re-taken.
func (h *Hub) Dispatch(s *Session, frame []byte) {
	if s.Closed() {
		s.logger.Debug("dropping frame from closed session")
		return
	}
	in, err := decode(frame)
	if err != nil {
		s.logger.Debug("rejecting frame", zap.Error(err))
		h.reply(s, badRequestEvent(err))
		return
	}
	switch in.event {
	case InJoin:
		_ = h.rooms.Join(s.ID(), in.join.RoomKey)
	case InMove:
		_ = h.rooms.Move(s.ID(), in.move.RoomKey, in.move.Move())
	case InLeave:
		h.rooms.Leave(s.ID())
	}
}

func (h *Hub) reply(s *Session, ev room.Event) {
	frame, err := Encode(ev)
	if err != nil {
		h.logger.Error("encoding reply", zap.Error(err))
		return
	}
	if err := s.Send(frame); err != nil {
		s.logger.Debug("reply dropped", zap.Error(err))
	}
}
