// Package room implements the two-seat room lifecycle: the registry of live
// rooms, the per-room session state machine and the mapping of inbound
// connection events onto both.
package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cory-johannsen/duel/internal/game/engine"
)

// Capacity is the number of seats in every room.
const Capacity = 2

var (
	// ErrRoomFull is returned when a join targets a room with both seats taken.
	ErrRoomFull = errors.New("room is full")
	// ErrRoomNotFound is returned when a move targets a key with no live room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrInvalidMove is returned when a move is rejected for any reason.
	ErrInvalidMove = errors.New("invalid move")
	// ErrAlreadySeated is returned when a connection that already sits in a
	// room tries to join another (or the same) room.
	ErrAlreadySeated = errors.New("connection already seated")
)

// Phase is the lifecycle stage of a room.
type Phase int

const (
	// Waiting rooms have never held two participants.
	Waiting Phase = iota
	// Ready rooms have been full at least once and accept moves.
	Ready
	// Concluded rooms reached a terminal state; their engine state is frozen.
	Concluded
)

// String returns the wire name of the phase.
func (p Phase) String() string {
	switch p {
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	case Concluded:
		return "concluded"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Participant is a connection seated in a room.
type Participant struct {
	ConnID   string
	Seat     engine.Seat
	JoinedAt time.Time
}

// Delivery is one outbound event addressed to one connection.
type Delivery struct {
	To    string
	Event Event
}

// Room is the aggregate owning one session's participants, engine state and
// phase. All fields are guarded by mu; the state machine methods below
// expect the caller to hold it.
type Room struct {
	key     string
	adapter engine.Adapter

	mu           sync.Mutex
	participants []Participant
	state        engine.State
	phase        Phase
	outcome      engine.Outcome
	moves        []engine.Move
	createdAt    time.Time
	destroyed    bool
}

func newRoom(key string, adapter engine.Adapter, now time.Time) *Room {
	return &Room{
		key:       key,
		adapter:   adapter,
		state:     adapter.Initial(),
		phase:     Waiting,
		createdAt: now,
	}
}

// Key returns the room key.
func (r *Room) Key() string { return r.key }

// Phase returns the current phase.
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// State returns the current engine state.
func (r *Room) State() engine.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Outcome returns the recorded outcome; it is the zero value unless the
// room is Concluded.
func (r *Room) Outcome() engine.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Snapshot returns the adapter's observer view of the current state.
func (r *Room) Snapshot() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return engine.SafeSnapshot(r.adapter, r.state)
}

// Participants returns a copy of the participant list in join order.
func (r *Room) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

// Len returns the number of seated participants.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// live reports whether the room is registered and occupied.
//
// Precondition: r.mu is held.
func (r *Room) live() bool {
	return !r.destroyed && len(r.participants) > 0
}

func (r *Room) participant(connID string) (Participant, bool) {
	for _, p := range r.participants {
		if p.ConnID == connID {
			return p, true
		}
	}
	return Participant{}, false
}

// freeSeat returns the seat a new participant receives: First in an empty
// room, otherwise whichever seat the current occupant does not hold.
func (r *Room) freeSeat() engine.Seat {
	if len(r.participants) == 0 {
		return engine.First
	}
	return r.participants[0].Seat.Other()
}

// join seats connID and returns the resulting deliveries.
//
// Precondition: r.mu is held; connID is not seated in any room.
// Postcondition: On ErrRoomFull nothing changed.
func (r *Room) join(connID string, now time.Time) ([]Delivery, error) {
	if len(r.participants) >= Capacity {
		return nil, ErrRoomFull
	}
	seat := r.freeSeat()
	r.participants = append(r.participants, Participant{ConnID: connID, Seat: seat, JoinedAt: now})

	out := []Delivery{{
		To: connID,
		Event: InitEvent{
			RoomKey:  r.key,
			Game:     r.adapter.Name(),
			Seat:     seat,
			Side:     r.adapter.SideLabel(seat),
			Phase:    r.phase,
			Snapshot: engine.SafeSnapshot(r.adapter, r.state),
		},
	}}
	for _, p := range r.participants {
		if p.ConnID == connID {
			continue
		}
		out = append(out, Delivery{To: p.ConnID, Event: PlayerJoinedEvent{
			ConnectionID: connID,
			Seat:         seat,
			Side:         r.adapter.SideLabel(seat),
		}})
	}
	if len(r.participants) == Capacity {
		if r.phase == Waiting {
			r.phase = Ready
		}
		out = append(out, r.broadcast(OpponentJoinedEvent{})...)
	}
	return out, nil
}

// move applies mv on behalf of connID.
//
// Precondition: r.mu is held.
// Postcondition: On error state, phase and outcome are unchanged and the
// returned error wraps ErrInvalidMove. concluded reports whether this move
// ended the game.
func (r *Room) move(connID string, mv engine.Move) (out []Delivery, concluded bool, err error) {
	p, ok := r.participant(connID)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s is not seated in %s", ErrInvalidMove, connID, r.key)
	}
	switch r.phase {
	case Waiting:
		return nil, false, fmt.Errorf("%w: waiting for an opponent", ErrInvalidMove)
	case Concluded:
		return nil, false, fmt.Errorf("%w: game is over", ErrInvalidMove)
	}

	next, err := engine.SafeApply(r.adapter, r.state, p.Seat, mv)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidMove, err)
	}
	r.state = next
	r.moves = append(r.moves, mv)
	out = r.broadcast(MoveEvent{From: mv.From, To: mv.To, Promotion: mv.Promotion})

	result := engine.SafeOutcome(r.adapter, r.state)
	if !result.Terminal {
		return out, false, nil
	}
	r.phase = Concluded
	r.outcome = result
	over := GameOverEvent{Draw: result.Draw, Reason: result.Reason}
	if !result.Draw {
		over.Winner = result.Winner
		over.Side = r.adapter.SideLabel(result.Winner)
	}
	return append(out, r.broadcast(over)...), true, nil
}

// remove unseats connID.
//
// Precondition: r.mu is held.
// Postcondition: Returns false if connID was not seated. Phase is unchanged.
func (r *Room) remove(connID string) ([]Delivery, bool) {
	idx := -1
	for i, p := range r.participants {
		if p.ConnID == connID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	r.participants = append(r.participants[:idx], r.participants[idx+1:]...)
	return r.broadcast(PlayerLeftEvent{ConnectionID: connID}), true
}

func (r *Room) broadcast(ev Event) []Delivery {
	out := make([]Delivery, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, Delivery{To: p.ConnID, Event: ev})
	}
	return out
}

// record builds the archive entry for a concluded room.
//
// Precondition: r.mu is held and r.phase is Concluded.
func (r *Room) record(now time.Time) GameRecord {
	parts := make([]Participant, len(r.participants))
	copy(parts, r.participants)
	moves := make([]engine.Move, len(r.moves))
	copy(moves, r.moves)
	return GameRecord{
		RoomKey:      r.key,
		Game:         r.adapter.Name(),
		Participants: parts,
		Moves:        moves,
		Outcome:      r.outcome,
		FinalState:   r.state,
		StartedAt:    r.createdAt,
		EndedAt:      now,
	}
}
