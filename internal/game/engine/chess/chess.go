// Package chess adapts github.com/notnil/chess to the engine.Adapter
// contract. Positions travel between calls as FEN strings.
package chess

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"

	"github.com/cory-johannsen/duel/internal/game/engine"
)

// Name is the game family identifier reported by the adapter.
const Name = "chess"

// Square is one cell of a board snapshot.
type Square struct {
	Square string `json:"square"`
	Type   string `json:"type"`
	Color  string `json:"color"`
}

// Snapshot is the client view of a position. Board is indexed rank 8 first,
// file a first; empty squares are nil.
type Snapshot struct {
	FEN   string       `json:"fen"`
	Turn  string       `json:"turn"`
	Board [][]*Square `json:"board"`
}

// Adapter implements engine.Adapter for standard chess.
// It holds no mutable state and is safe for concurrent use.
type Adapter struct {
	initial engine.State
}

// New returns an Adapter whose rooms start from the standard position.
func New() *Adapter {
	return &Adapter{initial: engine.State(chess.NewGame().Position().String())}
}

// NewFromFEN returns an Adapter whose rooms start from the given position.
//
// Precondition: fen must be a valid FEN string.
// Postcondition: Returns an Adapter or a non-nil error.
func NewFromFEN(fen string) (*Adapter, error) {
	if _, err := chess.FEN(fen); err != nil {
		return nil, fmt.Errorf("parsing fen: %w", err)
	}
	return &Adapter{initial: engine.State(fen)}, nil
}

// Name implements engine.Adapter.
func (a *Adapter) Name() string { return Name }

// Initial implements engine.Adapter.
func (a *Adapter) Initial() engine.State { return a.initial }

// SideLabel maps First to white and Second to black.
func (a *Adapter) SideLabel(seat engine.Seat) string {
	return colorForSeat(seat).String()
}

// Apply implements engine.Adapter. A seat may only move on its own turn.
// When the move reaches the last rank and no promotion piece is supplied,
// the pawn promotes to a queen.
func (a *Adapter) Apply(state engine.State, seat engine.Seat, mv engine.Move) (engine.State, error) {
	game, err := load(state)
	if err != nil {
		return state, err
	}
	pos := game.Position()
	if pos.Turn() != colorForSeat(seat) {
		return state, fmt.Errorf("%w: not %s's turn", engine.ErrIllegalMove, seat)
	}
	if pos.Status() != chess.NoMethod {
		return state, fmt.Errorf("%w: game is over", engine.ErrIllegalMove)
	}

	promo, err := parsePromotion(mv.Promotion)
	if err != nil {
		return state, err
	}
	from := strings.ToLower(mv.From)
	to := strings.ToLower(mv.To)

	var match *chess.Move
	for _, m := range game.ValidMoves() {
		if m.S1().String() != from || m.S2().String() != to {
			continue
		}
		if m.Promo() == promo || (promo == chess.NoPieceType && m.Promo() == chess.Queen) {
			match = m
			break
		}
	}
	if match == nil {
		return state, fmt.Errorf("%w: %s%s%s", engine.ErrIllegalMove, from, to, mv.Promotion)
	}
	if err := game.Move(match); err != nil {
		return state, fmt.Errorf("%w: %v", engine.ErrIllegalMove, err)
	}
	return engine.State(game.Position().String()), nil
}

// Outcome implements engine.Adapter. Checkmate is won by the side that is
// not to move; stalemate is a draw.
func (a *Adapter) Outcome(state engine.State) engine.Outcome {
	game, err := load(state)
	if err != nil {
		return engine.Outcome{}
	}
	pos := game.Position()
	switch pos.Status() {
	case chess.Checkmate:
		return engine.Outcome{
			Terminal: true,
			Winner:   seatForColor(pos.Turn()).Other(),
			Reason:   "checkmate",
		}
	case chess.Stalemate:
		return engine.Outcome{Terminal: true, Draw: true, Reason: "stalemate"}
	default:
		return engine.Outcome{}
	}
}

// Snapshot implements engine.Adapter.
func (a *Adapter) Snapshot(state engine.State) any {
	game, err := load(state)
	if err != nil {
		return nil
	}
	pos := game.Position()
	board := pos.Board()

	rows := make([][]*Square, 0, 8)
	for r := 7; r >= 0; r-- {
		row := make([]*Square, 8)
		for f := 0; f < 8; f++ {
			sq := chess.NewSquare(chess.File(f), chess.Rank(r))
			p := board.Piece(sq)
			if p == chess.NoPiece {
				continue
			}
			row[f] = &Square{
				Square: sq.String(),
				Type:   p.Type().String(),
				Color:  p.Color().String(),
			}
		}
		rows = append(rows, row)
	}
	return Snapshot{
		FEN:   string(state),
		Turn:  pos.Turn().String(),
		Board: rows,
	}
}

func load(state engine.State) (*chess.Game, error) {
	opt, err := chess.FEN(string(state))
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt position: %v", engine.ErrIllegalMove, err)
	}
	return chess.NewGame(opt), nil
}

func parsePromotion(p string) (chess.PieceType, error) {
	switch strings.ToLower(p) {
	case "":
		return chess.NoPieceType, nil
	case "q":
		return chess.Queen, nil
	case "r":
		return chess.Rook, nil
	case "b":
		return chess.Bishop, nil
	case "n":
		return chess.Knight, nil
	default:
		return chess.NoPieceType, fmt.Errorf("%w: unknown promotion %q", engine.ErrIllegalMove, p)
	}
}

func colorForSeat(seat engine.Seat) chess.Color {
	switch seat {
	case engine.First:
		return chess.White
	case engine.Second:
		return chess.Black
	default:
		return chess.NoColor
	}
}

func seatForColor(c chess.Color) engine.Seat {
	switch c {
	case chess.White:
		return engine.First
	case chess.Black:
		return engine.Second
	default:
		return engine.NoSeat
	}
}
