package room

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/game/engine"
)

// counterAdapter is a trivial game whose state counts accepted moves.
// Destination "bad" is rejected, "panic" panics, "win" ends the game with
// the mover winning and "draw" ends it drawn.
type counterAdapter struct{}

func (counterAdapter) Name() string          { return "counter" }
func (counterAdapter) Initial() engine.State { return "0" }

func (counterAdapter) Apply(state engine.State, seat engine.Seat, mv engine.Move) (engine.State, error) {
	switch mv.To {
	case "bad":
		return state, engine.ErrIllegalMove
	case "panic":
		panic("adapter fault")
	case "win":
		return engine.State("end:" + seat.String()), nil
	case "draw":
		return "end:draw", nil
	}
	n, err := strconv.Atoi(string(state))
	if err != nil {
		return state, engine.ErrIllegalMove
	}
	return engine.State(strconv.Itoa(n + 1)), nil
}

func (counterAdapter) Outcome(state engine.State) engine.Outcome {
	rest, ok := strings.CutPrefix(string(state), "end:")
	if !ok {
		return engine.Outcome{}
	}
	if rest == "draw" {
		return engine.Outcome{Terminal: true, Draw: true, Reason: "agreed"}
	}
	seat, _ := engine.ParseSeat(rest)
	return engine.Outcome{Terminal: true, Winner: seat, Reason: "won"}
}

func (counterAdapter) Snapshot(state engine.State) any { return string(state) }

func (counterAdapter) SideLabel(seat engine.Seat) string {
	switch seat {
	case engine.First:
		return "a"
	case engine.Second:
		return "b"
	}
	return ""
}

// inbox records every event sent to each connection.
type inbox struct {
	mu     sync.Mutex
	events map[string][]Event
	fail   map[string]bool
}

func newInbox() *inbox {
	return &inbox{events: make(map[string][]Event), fail: make(map[string]bool)}
}

func (b *inbox) Send(connID string, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail[connID] {
		return errors.New("connection gone")
	}
	b.events[connID] = append(b.events[connID], ev)
	return nil
}

// take returns and clears the events received by connID.
func (b *inbox) take(connID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events[connID]
	delete(b.events, connID)
	return out
}

func (b *inbox) names(connID string) []string {
	evs := b.take(connID)
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.EventName()
	}
	return out
}

type recorderSpy struct {
	mu      sync.Mutex
	records []GameRecord
}

func (r *recorderSpy) Record(rec GameRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorderSpy) all() []GameRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]GameRecord(nil), r.records...)
}

func newTestService() (*Service, *inbox, *recorderSpy) {
	box := newInbox()
	spy := &recorderSpy{}
	svc := NewService(NewRegistry(counterAdapter{}), box, spy, zap.NewNop())
	return svc, box, spy
}

func step(to string) engine.Move { return engine.Move{From: "x", To: to} }
