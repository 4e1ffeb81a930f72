package archive

import (
	"context"
	"errors"
	"time"

	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

var (
	ErrDuplicateGame = errors.New("game already archived")
	ErrNotFound      = errors.New("archived game not found")
)

// Game is one finished game.
type Game struct {
	ID          int64
	GameID      string
	Engine      string
	Orientation string
	Result      string
	Method      string
	MovesUCI    []string
	MovesSAN    []string
	PGN         string
	StartedAt   time.Time
	EndedAt     time.Time
}

func (g *Game) Duration() time.Duration {
	if g.EndedAt.Before(g.StartedAt) {
		return 0
	}
	return g.EndedAt.Sub(g.StartedAt)
}

func (g *Game) DTO() chessdto.ArchivedGame {
	return chessdto.ArchivedGame{
		ID:          g.ID,
		GameID:      g.GameID,
		Engine:      g.Engine,
		Orientation: g.Orientation,
		Result:      g.Result,
		Method:      g.Method,
		MovesUCI:    append([]string{}, g.MovesUCI...),
		MovesSAN:    append([]string{}, g.MovesSAN...),
		PGN:         g.PGN,
		StartedAt:   g.StartedAt,
		EndedAt:     g.EndedAt,
		DurationMS:  g.Duration().Milliseconds(),
	}
}

// Repository stores finished games. InsertGame is write-once per GameID.
type Repository interface {
	InsertGame(ctx context.Context, game *Game) (int64, error)
	GetGame(ctx context.Context, id int64) (*Game, error)
	RecentGames(ctx context.Context, limit int) ([]*Game, error)
	Close() error
}

const defaultRecentLimit = 10

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	if limit > 100 {
		return 100
	}
	return limit
}
