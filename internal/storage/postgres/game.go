package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/duel/internal/game/engine"
	"github.com/cory-johannsen/duel/internal/game/room"
)

// ErrGameNotFound is returned when a game lookup yields no results.
var ErrGameNotFound = errors.New("game not found")

// StoredGame is one archived game row.
type StoredGame struct {
	ID         int64
	RoomKey    string
	Game       string
	FirstConn  string
	SecondConn string
	Moves      []engine.Move
	// Winner is "first", "second", or empty for a draw.
	Winner     string
	Draw       bool
	Reason     string
	FinalState string
	StartedAt  time.Time
	EndedAt    time.Time
}

// GameRepository provides game archive persistence operations.
type GameRepository struct {
	db *pgxpool.Pool
}

// NewGameRepository creates a GameRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewGameRepository(db *pgxpool.Pool) *GameRepository {
	return &GameRepository{db: db}
}

const gameColumns = `id, room_key, game, first_conn, second_conn, moves, winner, draw, reason, final_state, started_at, ended_at`

// SaveGame inserts a concluded game.
//
// Precondition: rec.Outcome.Terminal must be true.
// Postcondition: Returns the new row id or a non-nil error.
func (r *GameRepository) SaveGame(ctx context.Context, rec room.GameRecord) (int64, error) {
	moves := rec.Moves
	if moves == nil {
		moves = []engine.Move{}
	}
	movesJSON, err := json.Marshal(moves)
	if err != nil {
		return 0, fmt.Errorf("encoding moves: %w", err)
	}
	winner := ""
	if !rec.Outcome.Draw && rec.Outcome.Winner.Valid() {
		winner = rec.Outcome.Winner.String()
	}

	var id int64
	err = r.db.QueryRow(ctx,
		`INSERT INTO games (room_key, game, first_conn, second_conn, moves, winner, draw, reason, final_state, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		rec.RoomKey, rec.Game,
		rec.ConnFor(engine.First), rec.ConnFor(engine.Second),
		string(movesJSON), winner, rec.Outcome.Draw, rec.Outcome.Reason,
		string(rec.FinalState), rec.StartedAt, rec.EndedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting game for room %q: %w", rec.RoomKey, err)
	}
	return id, nil
}

// GetByID returns one archived game.
//
// Postcondition: Returns ErrGameNotFound if no row has the given id.
func (r *GameRepository) GetByID(ctx context.Context, id int64) (StoredGame, error) {
	row := r.db.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	g, err := scanGame(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredGame{}, ErrGameNotFound
	}
	if err != nil {
		return StoredGame{}, fmt.Errorf("querying game %d: %w", id, err)
	}
	return g, nil
}

// ListByRoom returns up to limit games played under key, most recent first.
//
// Precondition: limit must be positive.
func (r *GameRepository) ListByRoom(ctx context.Context, key string, limit int) ([]StoredGame, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+gameColumns+` FROM games WHERE room_key = $1 ORDER BY ended_at DESC, id DESC LIMIT $2`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing games for room %q: %w", key, err)
	}
	defer rows.Close()

	var games []StoredGame
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating games: %w", err)
	}
	return games, nil
}

func scanGame(row pgx.Row) (StoredGame, error) {
	var (
		g         StoredGame
		movesJSON []byte
	)
	err := row.Scan(&g.ID, &g.RoomKey, &g.Game, &g.FirstConn, &g.SecondConn, &movesJSON,
		&g.Winner, &g.Draw, &g.Reason, &g.FinalState, &g.StartedAt, &g.EndedAt)
	if err != nil {
		return StoredGame{}, err
	}
	if err := json.Unmarshal(movesJSON, &g.Moves); err != nil {
		return StoredGame{}, fmt.Errorf("decoding moves: %w", err)
	}
	return g, nil
}
