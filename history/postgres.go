// Package history persists completed game records to a relational store.
package history

import (
	"context"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/crossbox/crossbox/games/tictactoe"
)

const schema = `
CREATE TABLE IF NOT EXISTS game_history (
	game_id    uuid PRIMARY KEY,
	x_player   uuid NOT NULL,
	o_player   uuid NOT NULL,
	rounds     jsonb NOT NULL,
	x_score    integer NOT NULL,
	o_score    integer NOT NULL,
	winner     uuid,
	reason     text NOT NULL,
	started_at timestamptz NOT NULL,
	ended_at   timestamptz NOT NULL
)`

const insertGame = `
INSERT INTO game_history
	(game_id, x_player, o_player, rounds, x_score, o_score, winner, reason, started_at, ended_at)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Postgres is the relational tictactoe.Sink, one row per completed game
// with the per-round outcomes serialized as an ordered JSON list.
type Postgres struct {
	db *sqlx.DB
}

func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting history store: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	return &Postgres{db: db}, nil
}

// EnsureSchema bootstraps the history table on a fresh database. Proper
// migrations live elsewhere; this only guarantees the sink can write.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Postgres) Record(ctx context.Context, sum tictactoe.GameSummary) error {
	rounds, err := json.Marshal(sum.Rounds)
	if err != nil {
		return fmt.Errorf("encoding rounds for %s: %w", sum.GameID, err)
	}

	_, err = s.db.ExecContext(ctx, insertGame,
		sum.GameID,
		sum.XPlayer,
		sum.OPlayer,
		rounds,
		sum.XScore,
		sum.OScore,
		sum.Winner,
		string(sum.Reason),
		sum.StartedAt,
		sum.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("recording game %s: %w", sum.GameID, err)
	}

	return nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}
