package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS chess_archive (
	id          BIGSERIAL PRIMARY KEY,
	game_id     TEXT NOT NULL UNIQUE,
	engine      TEXT NOT NULL,
	orientation TEXT NOT NULL,
	result      TEXT NOT NULL,
	method      TEXT NOT NULL,
	moves_uci   JSONB NOT NULL,
	moves_san   JSONB NOT NULL,
	pgn         TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS chess_archive_ended_at_idx ON chess_archive (ended_at DESC);`

const selectColumns = `
	id,
	game_id,
	engine,
	orientation,
	result,
	method,
	moves_uci,
	moves_san,
	pgn,
	started_at,
	ended_at`

type postgres struct {
	db *sql.DB
}

// OpenPostgres connects, pings and ensures the archive table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	r := &postgres{db: db}
	if err := r.EnsureSchema(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *postgres) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create chess_archive: %w", err)
	}
	return nil
}

func (r *postgres) InsertGame(ctx context.Context, game *Game) (int64, error) {
	if game == nil {
		return 0, fmt.Errorf("nil archive payload")
	}
	movesUCI, err := json.Marshal(nonNil(game.MovesUCI))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(game.MovesSAN))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO chess_archive (
			game_id,
			engine,
			orientation,
			result,
			method,
			moves_uci,
			moves_san,
			pgn,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10, $11)
		ON CONFLICT (game_id) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(ctx, query,
		game.GameID,
		game.Engine,
		game.Orientation,
		game.Result,
		game.Method,
		movesUCI,
		movesSAN,
		game.PGN,
		game.StartedAt,
		game.EndedAt,
		game.Duration().Milliseconds(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		return 0, fmt.Errorf("insert archived game: %w", err)
	}
	return id.Int64, nil
}

func (r *postgres) GetGame(ctx context.Context, id int64) (*Game, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+selectColumns+` FROM chess_archive WHERE id = $1`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select archived game: %w", err)
	}
	return g, nil
}

func (r *postgres) RecentGames(ctx context.Context, limit int) ([]*Game, error) {
	limit = clampLimit(limit)
	rows, err := r.db.QueryContext(ctx, `SELECT`+selectColumns+` FROM chess_archive ORDER BY ended_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select archived games: %w", err)
	}
	defer rows.Close()

	games := make([]*Game, 0, limit)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archived game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (r *postgres) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(s scanner) (*Game, error) {
	var (
		g            Game
		movesUCIJSON []byte
		movesSANJSON []byte
	)
	if err := s.Scan(
		&g.ID,
		&g.GameID,
		&g.Engine,
		&g.Orientation,
		&g.Result,
		&g.Method,
		&movesUCIJSON,
		&movesSANJSON,
		&g.PGN,
		&g.StartedAt,
		&g.EndedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(movesUCIJSON, &g.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(movesSANJSON, &g.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	return &g, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
