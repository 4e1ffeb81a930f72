package statecache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

type Memory struct {
	cache *gocache.Cache
	ttl   time.Duration
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Memory{cache: gocache.New(ttl, ttl/2), ttl: ttl}
}

func (m *Memory) Put(_ context.Context, state chessdto.GameState) error {
	m.cache.Set(key(state.GameID), cloneState(state), m.ttl)
	return nil
}

func (m *Memory) Get(_ context.Context, gameID string) (*chessdto.GameState, error) {
	value, found := m.cache.Get(key(gameID))
	if !found {
		return nil, nil
	}
	state, ok := value.(*chessdto.GameState)
	if !ok {
		return nil, nil
	}
	return cloneState(*state), nil
}

func (m *Memory) Delete(_ context.Context, gameID string) error {
	m.cache.Delete(key(gameID))
	return nil
}

func (m *Memory) Close() error {
	m.cache.Flush()
	return nil
}
