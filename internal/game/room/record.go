package room

import (
	"time"

	"github.com/cory-johannsen/duel/internal/game/engine"
)

// GameRecord is the archived summary of a concluded room.
type GameRecord struct {
	RoomKey      string
	Game         string
	Participants []Participant
	Moves        []engine.Move
	Outcome      engine.Outcome
	FinalState   engine.State
	StartedAt    time.Time
	EndedAt      time.Time
}

// ConnFor returns the connection holding seat, or "" if the seat was empty
// when the game ended.
func (rec GameRecord) ConnFor(seat engine.Seat) string {
	for _, p := range rec.Participants {
		if p.Seat == seat {
			return p.ConnID
		}
	}
	return ""
}

// Recorder receives records of concluded games. Record must not block.
type Recorder interface {
	Record(rec GameRecord)
}

// NopRecorder discards records.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(GameRecord) {}
