package game

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	chesslib "github.com/corentings/chess/v2"

	"github.com/park285/Cheese-WebChess/internal/chess"
	"github.com/park285/Cheese-WebChess/internal/chess/uci"
)

// MoveComputer produces engine replies for one game. *chess.Engine is the
// production implementation.
type MoveComputer interface {
	ComputeMove(ctx context.Context, req chess.MoveRequest) (chess.MoveResult, error)
	Name() string
	Identity() uci.Identity
	BookName() string
	Close() error
}

// ParseColor reads the human side. "random" (or empty) picks uniformly.
func ParseColor(raw string, r *rand.Rand) (chesslib.Color, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "white", "w":
		return chesslib.White, nil
	case "black", "b":
		return chesslib.Black, nil
	case "", "random":
		if r == nil {
			r = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		if r.Intn(2) == 0 {
			return chesslib.White, nil
		}
		return chesslib.Black, nil
	default:
		return chesslib.NoColor, fmt.Errorf("%w: %q", ErrInvalidColor, raw)
	}
}

func colorName(c chesslib.Color) string {
	switch c {
	case chesslib.White:
		return "white"
	case chesslib.Black:
		return "black"
	default:
		return ""
	}
}

func methodName(m chesslib.Method) string {
	if m == chesslib.NoMethod {
		return ""
	}
	return toSnake(m.String())
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MoveOutcome is the result of one accepted request on a session.
type MoveOutcome struct {
	HumanSAN  string
	HumanUCI  string
	EngineSAN string
	EngineUCI string
	// EngineMoved is false when the game ended before the engine was asked.
	EngineMoved bool
	Source      chess.Source
	EvalCP      int
	FEN         string
	GameOver    bool
	Outcome     string
	Method      string
}
