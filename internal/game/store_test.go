package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-WebChess/internal/chess"
	"github.com/park285/Cheese-WebChess/internal/statecache"
)

type fakeLauncher struct {
	mu       sync.Mutex
	engines  []*stubEngine
	requests []chess.LaunchRequest
	err      error
	invalid  error
}

func (l *fakeLauncher) validate(chess.LaunchRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.invalid
}

func (l *fakeLauncher) launch(_ context.Context, req chess.LaunchRequest) (MoveComputer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if l.err != nil {
		return nil, l.err
	}
	e := &stubEngine{}
	l.engines = append(l.engines, e)
	return e, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, cfg StoreConfig) (*Store, *fakeLauncher) {
	t.Helper()
	l := &fakeLauncher{}
	cfg.Launch = l.launch
	cfg.Validate = l.validate
	s, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, l
}

func TestStartReplacesPreviousGame(t *testing.T) {
	store, l := newTestStore(t, StoreConfig{})

	first, err := store.Start(context.Background(), StartRequest{Color: "white", Engine: "stockfish", ThinkTime: time.Second})
	require.NoError(t, err)
	second, err := store.Start(context.Background(), StartRequest{Color: "black", ThinkTime: time.Second})
	require.NoError(t, err)

	require.Equal(t, 1, store.Len())
	_, err = store.Get(first.ID())
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, closed := l.engines[0].counts()
	require.Equal(t, 1, closed)

	latest, err := store.Latest()
	require.NoError(t, err)
	require.Same(t, second, latest)

	require.Equal(t, first.ID(), l.requests[0].Owner)
	require.Equal(t, "stockfish", l.requests[0].Engine)

	_, err = first.ApplyHumanMove(context.Background(), str("e4"))
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestStoreEvictsLeastRecentlyActive(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store, _ := newTestStore(t, StoreConfig{MaxSessions: 2, Now: clock.Now})

	a, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.NoError(t, err)
	clock.Advance(time.Second)
	b, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.NoError(t, err)
	clock.Advance(time.Second)

	_, err = a.ApplyHumanMove(context.Background(), str("e4"))
	require.NoError(t, err)
	clock.Advance(time.Second)

	c, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.NoError(t, err)

	require.Equal(t, 2, store.Len())
	_, err = store.Get(b.ID())
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Equal(t, []string{c.ID(), a.ID()}, store.IDs())
}

func TestLaunchFailureLeavesNoSession(t *testing.T) {
	store, l := newTestStore(t, StoreConfig{})
	l.err = errors.New("spawn failed")

	_, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.EqualError(t, err, "spawn failed")
	require.Zero(t, store.Len())
	_, err = store.Latest()
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRejectedStartKeepsLiveGame(t *testing.T) {
	cache := statecache.NewMemory(time.Minute)
	store, l := newTestStore(t, StoreConfig{Cache: cache})

	first, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.NoError(t, err)

	for _, invalid := range []error{chess.ErrUnknownEngine, chess.ErrInvalidThinkTime} {
		l.mu.Lock()
		l.invalid = invalid
		l.mu.Unlock()
		_, err = store.Start(context.Background(), StartRequest{Color: "white", Engine: "crafty", ThinkTime: time.Second})
		require.ErrorIs(t, err, invalid)
	}

	got, err := store.Resolve("")
	require.NoError(t, err)
	require.Same(t, first, got)
	require.Len(t, l.requests, 1)
	_, closed := l.engines[0].counts()
	require.Zero(t, closed)

	_, err = first.ApplyHumanMove(context.Background(), str("e4"))
	require.NoError(t, err)
	snap, err := cache.Get(context.Background(), first.ID())
	require.NoError(t, err)
	require.NotNil(t, snap)
}

func TestClosedGamesDropSnapshots(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := statecache.NewMemory(time.Hour)
	store, _ := newTestStore(t, StoreConfig{Cache: cache, Now: clock.Now})

	replaced, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.NoError(t, err)
	snap, err := cache.Get(context.Background(), replaced.ID())
	require.NoError(t, err)
	require.NotNil(t, snap)

	idle, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.NoError(t, err)
	snap, err = cache.Get(context.Background(), replaced.ID())
	require.NoError(t, err)
	require.Nil(t, snap)

	clock.Advance(time.Hour)
	require.Equal(t, 1, store.reapIdle(30*time.Minute))
	snap, err = cache.Get(context.Background(), idle.ID())
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestInvalidColorDoesNotLaunch(t *testing.T) {
	store, l := newTestStore(t, StoreConfig{})
	_, err := store.Start(context.Background(), StartRequest{Color: "purple"})
	require.ErrorIs(t, err, ErrInvalidColor)
	require.Empty(t, l.requests)
}

func TestResolveAndEnd(t *testing.T) {
	cache := statecache.NewMemory(time.Minute)
	store, l := newTestStore(t, StoreConfig{Cache: cache})

	sess, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.NoError(t, err)

	got, err := store.Resolve("")
	require.NoError(t, err)
	require.Same(t, sess, got)
	got, err = store.Resolve(sess.ID())
	require.NoError(t, err)
	require.Same(t, sess, got)

	snap, err := cache.Get(context.Background(), sess.ID())
	require.NoError(t, err)
	require.NotNil(t, snap)

	require.NoError(t, store.End(context.Background(), sess.ID()))
	require.ErrorIs(t, store.End(context.Background(), sess.ID()), ErrSessionNotFound)
	_, closed := l.engines[0].counts()
	require.Equal(t, 1, closed)

	snap, err = cache.Get(context.Background(), sess.ID())
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestReapIdleSessions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store, _ := newTestStore(t, StoreConfig{MaxSessions: 3, Now: clock.Now})

	old, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	fresh, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	require.Equal(t, 1, store.reapIdle(30*time.Minute))
	_, err = store.Get(old.ID())
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(fresh.ID())
	require.NoError(t, err)
}

func TestStoreCloseTerminatesEverything(t *testing.T) {
	store, l := newTestStore(t, StoreConfig{MaxSessions: 2, IdleTTL: time.Hour})
	for i := 0; i < 2; i++ {
		_, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	require.Zero(t, store.Len())
	for _, e := range l.engines {
		_, closed := e.counts()
		require.Equal(t, 1, closed)
	}

	_, err := store.Start(context.Background(), StartRequest{Color: "white", ThinkTime: time.Second})
	require.ErrorIs(t, err, ErrSessionClosed)
}
