package room

import (
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/game/engine"
)

// Notifier delivers outbound events to connections. Send must not block;
// it is called while a room lock is held so that a room's events reach
// each connection in the order the room produced them.
type Notifier interface {
	Send(connID string, ev Event) error
}

// Service maps inbound connection events onto the registry and the room
// state machine. All methods are safe for concurrent use; operations on the
// same room are serialised by the room lock, different rooms run in
// parallel.
type Service struct {
	registry *Registry
	notifier Notifier
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a Service.
//
// Precondition: registry, notifier and logger must be non-nil. A nil
// recorder discards concluded games.
func NewService(registry *Registry, notifier Notifier, recorder Recorder, logger *zap.Logger) *Service {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Service{
		registry: registry,
		notifier: notifier,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Registry returns the underlying room registry.
func (s *Service) Registry() *Registry { return s.registry }

// Join seats connID in the room for key, creating the room on first join.
//
// Precondition: key must be non-empty.
// Postcondition: Either the joiner received init (and the room was updated
// and announced), or the joiner alone received an error event and the
// returned error is ErrRoomFull or ErrAlreadySeated.
func (s *Service) Join(connID, key string) error {
	if cur, seated := s.registry.FindByConnection(connID); seated {
		s.logger.Info("join rejected, connection already seated",
			zap.String("conn", connID),
			zap.String("room", key),
			zap.String("seated_in", cur.Key()),
		)
		s.reject(connID, ErrAlreadySeated)
		return ErrAlreadySeated
	}

	for {
		r := s.registry.GetOrCreate(key)
		r.mu.Lock()
		if r.destroyed {
			// Emptied and unregistered between lookup and lock; retry
			// against the fresh room.
			r.mu.Unlock()
			continue
		}
		if len(r.participants) >= Capacity {
			r.mu.Unlock()
			s.logger.Info("join rejected, room full",
				zap.String("conn", connID),
				zap.String("room", key),
			)
			s.reject(connID, ErrRoomFull)
			return ErrRoomFull
		}
		if !s.registry.claim(connID, r) {
			s.registry.destroyIfEmpty(r)
			r.mu.Unlock()
			s.reject(connID, ErrAlreadySeated)
			return ErrAlreadySeated
		}
		out, err := r.join(connID, s.now())
		if err != nil {
			s.registry.mu.Lock()
			delete(s.registry.conns, connID)
			s.registry.mu.Unlock()
			s.registry.destroyIfEmpty(r)
			r.mu.Unlock()
			s.reject(connID, err)
			return err
		}
		s.deliver(out)
		seat := r.participants[len(r.participants)-1].Seat
		phase := r.phase
		count := len(r.participants)
		r.mu.Unlock()

		s.logger.Info("player joined",
			zap.String("conn", connID),
			zap.String("room", key),
			zap.Stringer("seat", seat),
			zap.Stringer("phase", phase),
			zap.Int("occupants", count),
		)
		return nil
	}
}

// Move submits mv on behalf of connID to the room for key.
//
// Postcondition: Either every occupant received the move (and gameOver if
// it ended the game), or connID alone received an error event and the
// returned error wraps ErrRoomNotFound or ErrInvalidMove.
func (s *Service) Move(connID, key string, mv engine.Move) error {
	r, ok := s.registry.Get(key)
	if !ok {
		s.reject(connID, ErrRoomNotFound)
		return ErrRoomNotFound
	}

	r.mu.Lock()
	if !r.live() {
		r.mu.Unlock()
		s.reject(connID, ErrRoomNotFound)
		return ErrRoomNotFound
	}
	out, concluded, err := r.move(connID, mv)
	if err != nil {
		r.mu.Unlock()
		s.logger.Debug("move rejected",
			zap.String("conn", connID),
			zap.String("room", key),
			zap.String("from", mv.From),
			zap.String("to", mv.To),
			zap.Error(err),
		)
		s.reject(connID, err)
		return err
	}
	s.deliver(out)
	var rec GameRecord
	if concluded {
		rec = r.record(s.now())
	}
	r.mu.Unlock()

	s.logger.Debug("move applied",
		zap.String("conn", connID),
		zap.String("room", key),
		zap.String("from", mv.From),
		zap.String("to", mv.To),
	)
	if concluded {
		s.logger.Info("game concluded",
			zap.String("room", key),
			zap.Stringer("winner", rec.Outcome.Winner),
			zap.Bool("draw", rec.Outcome.Draw),
			zap.String("reason", rec.Outcome.Reason),
			zap.Int("moves", len(rec.Moves)),
		)
		s.recorder.Record(rec)
	}
	return nil
}

// Leave unseats connID from whatever room it sits in.
//
// Postcondition: Returns false, doing nothing, if connID was not seated.
// Otherwise the remaining occupant (if any) received playerLeft, and an
// emptied room was destroyed.
func (s *Service) Leave(connID string) bool {
	r, ok := s.registry.FindByConnection(connID)
	if !ok {
		return false
	}
	r.mu.Lock()
	out, removed := s.registry.removeLocked(r, connID)
	if removed {
		s.deliver(out)
	}
	remaining := len(r.participants)
	destroyed := r.destroyed
	r.mu.Unlock()

	if removed {
		s.logger.Info("player left",
			zap.String("conn", connID),
			zap.String("room", r.Key()),
			zap.Int("occupants", remaining),
			zap.Bool("room_destroyed", destroyed),
		)
	}
	return removed
}

// Disconnect handles a dropped connection. It has the same effect as Leave.
func (s *Service) Disconnect(connID string) {
	s.Leave(connID)
}

func (s *Service) reject(connID string, err error) {
	if sendErr := s.notifier.Send(connID, ErrorEventFor(err)); sendErr != nil {
		s.logger.Warn("delivering error event",
			zap.String("conn", connID),
			zap.Error(sendErr),
		)
	}
}

func (s *Service) deliver(out []Delivery) {
	for _, d := range out {
		if err := s.notifier.Send(d.To, d.Event); err != nil {
			s.logger.Warn("delivering event",
				zap.String("conn", d.To),
				zap.String("event", d.Event.EventName()),
				zap.Error(err),
			)
		}
	}
}
