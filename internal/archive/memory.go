package archive

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memory is used when no database is configured. Contents are lost on exit.
type memory struct {
	mu sync.RWMutex

	nextID   int64
	byID     map[int64]*Game
	byGameID map[string]*Game
}

func NewMemory() Repository {
	return &memory{
		byID:     make(map[int64]*Game),
		byGameID: make(map[string]*Game),
	}
}

func (m *memory) InsertGame(_ context.Context, game *Game) (int64, error) {
	if game == nil {
		return 0, ErrDuplicateGame
	}
	key := strings.TrimSpace(game.GameID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byGameID[key]; exists {
		return 0, ErrDuplicateGame
	}
	m.nextID++
	stored := cloneGame(game)
	stored.ID = m.nextID
	m.byID[stored.ID] = stored
	m.byGameID[key] = stored
	return stored.ID, nil
}

func (m *memory) GetGame(_ context.Context, id int64) (*Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneGame(g), nil
}

func (m *memory) RecentGames(_ context.Context, limit int) ([]*Game, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	items := make([]*Game, 0, len(m.byID))
	for _, g := range m.byID {
		items = append(items, g)
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]*Game, len(items))
	for i, g := range items {
		out[i] = cloneGame(g)
	}
	return out, nil
}

func (m *memory) Close() error { return nil }

func cloneGame(g *Game) *Game {
	c := *g
	c.MovesUCI = append([]string(nil), g.MovesUCI...)
	c.MovesSAN = append([]string(nil), g.MovesSAN...)
	return &c
}
