// Package engine defines the contract between a room and the rules of the
// game being played in it. A room never inspects game state; it hands the
// opaque State to an Adapter and trusts the answer.
package engine

import (
	"errors"
	"fmt"
)

// ErrIllegalMove is returned by Adapter.Apply when a move is rejected.
var ErrIllegalMove = errors.New("illegal move")

// Seat is one of the two sides of a room.
type Seat int

const (
	// NoSeat is the zero value and never assigned to a participant.
	NoSeat Seat = iota
	// First is the side that moves first.
	First
	// Second is the side that moves second.
	Second
)

// String returns the wire name of the seat.
func (s Seat) String() string {
	switch s {
	case First:
		return "first"
	case Second:
		return "second"
	default:
		return "none"
	}
}

// Other returns the opposing seat. NoSeat has no opposite.
func (s Seat) Other() Seat {
	switch s {
	case First:
		return Second
	case Second:
		return First
	default:
		return NoSeat
	}
}

// Valid reports whether s is First or Second.
func (s Seat) Valid() bool {
	return s == First || s == Second
}

// MarshalText implements encoding.TextMarshaler.
func (s Seat) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Seat) UnmarshalText(text []byte) error {
	seat, err := ParseSeat(string(text))
	if err != nil {
		return err
	}
	*s = seat
	return nil
}

// ParseSeat converts a wire name back into a Seat.
//
// Postcondition: Returns First or Second, or an error for any other input.
func ParseSeat(name string) (Seat, error) {
	switch name {
	case "first":
		return First, nil
	case "second":
		return Second, nil
	default:
		return NoSeat, fmt.Errorf("unknown seat %q", name)
	}
}

// State is an immutable encoding of a game position. Adapters return a new
// State from every transition, so holders never share mutable data.
type State string

// Move is a proposed transition submitted by a participant.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// Outcome describes whether a state is terminal and, if so, how it ended.
type Outcome struct {
	Terminal bool
	// Winner is NoSeat for a draw or a non-terminal state.
	Winner Seat
	Draw   bool
	// Reason is an adapter-specific label such as "checkmate".
	Reason string
}

// Adapter encapsulates the rules of one game family.
//
// Implementations must be safe for concurrent use: different rooms call the
// same adapter in parallel.
type Adapter interface {
	// Name identifies the game family, e.g. "chess".
	Name() string
	// Initial returns the state of a freshly created room.
	Initial() State
	// Apply validates mv for the given seat against state and returns the
	// successor state, or an error wrapping ErrIllegalMove.
	Apply(state State, seat Seat, mv Move) (State, error)
	// Outcome reports whether state is terminal.
	Outcome(state State) Outcome
	// Snapshot returns a JSON-serialisable view of state for clients.
	Snapshot(state State) any
	// SideLabel returns the game's own name for a seat, e.g. "w" or "b".
	SideLabel(seat Seat) string
}
