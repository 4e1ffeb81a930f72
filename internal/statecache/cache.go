// Package statecache keeps the latest published GameState of every game so
// status reads never wait on a session that is busy with the engine.
package statecache

import (
	"context"
	"strings"

	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

type Cache interface {
	Put(ctx context.Context, state chessdto.GameState) error
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, gameID string) (*chessdto.GameState, error)
	Delete(ctx context.Context, gameID string) error
	Close() error
}

func key(gameID string) string { return "game:snapshot:" + strings.TrimSpace(gameID) }

func cloneState(s chessdto.GameState) *chessdto.GameState {
	s.MovesSAN = append([]string(nil), s.MovesSAN...)
	s.MovesUCI = append([]string(nil), s.MovesUCI...)
	return &s
}
