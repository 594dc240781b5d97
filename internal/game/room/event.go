package room

import (
	"errors"

	"github.com/cory-johannsen/duel/internal/game/engine"
)

// Event names as they appear on the wire.
const (
	EventInit           = "init"
	EventPlayerJoined   = "playerJoined"
	EventOpponentJoined = "opponentJoined"
	EventMove           = "move"
	EventGameOver       = "gameOver"
	EventPlayerLeft     = "playerLeft"
	EventError          = "error"
)

// Error reasons carried by ErrorEvent.
const (
	ReasonRoomFull      = "RoomFull"
	ReasonRoomNotFound  = "RoomNotFound"
	ReasonInvalidMove   = "InvalidMove"
	ReasonAlreadySeated = "AlreadySeated"
	ReasonBadRequest    = "BadRequest"
)

// Event is an outbound message addressed to one connection.
type Event interface {
	EventName() string
}

// InitEvent tells a joiner its seat and the current position.
type InitEvent struct {
	RoomKey  string      `json:"roomKey"`
	Game     string      `json:"game"`
	Seat     engine.Seat `json:"seat"`
	Side     string      `json:"side,omitempty"`
	Phase    Phase       `json:"phase"`
	Snapshot any         `json:"snapshot"`
}

// PlayerJoinedEvent announces a newcomer to the existing occupant.
type PlayerJoinedEvent struct {
	ConnectionID string      `json:"connectionId"`
	Seat         engine.Seat `json:"seat"`
	Side         string      `json:"side,omitempty"`
}

// OpponentJoinedEvent is sent to both occupants when a room fills.
type OpponentJoinedEvent struct{}

// MoveEvent relays an accepted move to every occupant, the mover included.
type MoveEvent struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// GameOverEvent announces a terminal state. Winner is omitted on a draw.
type GameOverEvent struct {
	Winner engine.Seat `json:"winner,omitempty"`
	Side   string      `json:"side,omitempty"`
	Draw   bool        `json:"draw,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// PlayerLeftEvent tells the remaining occupant that the other one departed.
type PlayerLeftEvent struct {
	ConnectionID string `json:"connectionId"`
}

// ErrorEvent reports a rejected request to its sender only.
type ErrorEvent struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (InitEvent) EventName() string           { return EventInit }
func (PlayerJoinedEvent) EventName() string   { return EventPlayerJoined }
func (OpponentJoinedEvent) EventName() string { return EventOpponentJoined }
func (MoveEvent) EventName() string           { return EventMove }
func (GameOverEvent) EventName() string       { return EventGameOver }
func (PlayerLeftEvent) EventName() string     { return EventPlayerLeft }
func (ErrorEvent) EventName() string          { return EventError }

// ErrorEventFor maps a service error to the event sent back to the client.
//
// Postcondition: Unknown errors map to InvalidMove, the catch-all for
// rejected actions.
func ErrorEventFor(err error) ErrorEvent {
	switch {
	case errors.Is(err, ErrRoomFull):
		return ErrorEvent{Reason: ReasonRoomFull, Message: "Game room is full"}
	case errors.Is(err, ErrRoomNotFound):
		return ErrorEvent{Reason: ReasonRoomNotFound, Message: "Game room does not exist"}
	case errors.Is(err, ErrAlreadySeated):
		return ErrorEvent{Reason: ReasonAlreadySeated, Message: "Already seated in a game room"}
	default:
		return ErrorEvent{Reason: ReasonInvalidMove, Message: "Invalid move"}
	}
}
