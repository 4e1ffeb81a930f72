package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/archive"
	"github.com/park285/Cheese-WebChess/internal/chess"
	"github.com/park285/Cheese-WebChess/internal/statecache"
)

// LaunchFunc starts and handshakes an engine for a new game.
type LaunchFunc func(ctx context.Context, req chess.LaunchRequest) (MoveComputer, error)

// ValidateFunc rejects a launch request before anything is started.
type ValidateFunc func(req chess.LaunchRequest) error

type StoreConfig struct {
	// MaxSessions bounds live games. Starting one more first closes the least
	// recently active game. Zero means one.
	MaxSessions int
	// IdleTTL closes games untouched for this long. Zero disables the janitor.
	IdleTTL time.Duration
	Launch  LaunchFunc
	// Validate runs before the store evicts anything for a new game, so a
	// request naming an unknown engine or book leaves live games alone.
	Validate ValidateFunc
	Archive  archive.Repository
	Cache   statecache.Cache
	Logger  *zap.Logger
	Tracer  trace.Tracer
	Rand    *rand.Rand
	Now     func() time.Time
}

type StartRequest struct {
	Color     string
	Engine    string
	Book      string
	ThinkTime time.Duration
}

// Store holds the live sessions keyed by game id.
type Store struct {
	cfg StoreConfig

	mu       sync.Mutex
	sessions map[string]*Session
	latest   string
	closed   bool
	randMu   sync.Mutex

	stopJanitor chan struct{}
	janitorDone chan struct{}
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Launch == nil {
		return nil, fmt.Errorf("store requires an engine launcher")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Store{
		cfg:         cfg,
		sessions:    make(map[string]*Session),
		stopJanitor: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	if cfg.IdleTTL > 0 {
		go s.janitor(cfg.IdleTTL)
	} else {
		close(s.janitorDone)
	}
	return s, nil
}

// Start replaces the least recently active game when the store is full, then
// launches an engine and registers a new session. A request that fails
// validation changes nothing. No session exists when the launch fails.
func (s *Store) Start(ctx context.Context, req StartRequest) (*Session, error) {
	s.randMu.Lock()
	human, err := ParseColor(req.Color, s.cfg.Rand)
	s.randMu.Unlock()
	if err != nil {
		return nil, err
	}

	ctx, span := s.cfg.Tracer.Start(ctx, "game.start")
	defer span.End()

	id := uuid.NewString()
	launchReq := chess.LaunchRequest{
		Owner:     id,
		Engine:    req.Engine,
		Book:      req.Book,
		ThinkTime: req.ThinkTime,
	}
	if s.cfg.Validate != nil {
		if err := s.cfg.Validate(launchReq); err != nil {
			return nil, err
		}
	}

	if err := s.makeRoom(); err != nil {
		return nil, err
	}

	engine, err := s.cfg.Launch(ctx, launchReq)
	if err != nil {
		span.RecordError(err)
		s.cfg.Logger.Warn("engine launch failed", zap.String("engine", req.Engine), zap.Error(err))
		return nil, err
	}

	session, err := NewSession(SessionConfig{
		ID:        id,
		Human:     human,
		Engine:    engine,
		ThinkTime: req.ThinkTime,
		Archive:   s.cfg.Archive,
		Cache:     s.cfg.Cache,
		Logger:    s.cfg.Logger,
		Tracer:    s.cfg.Tracer,
		Now:       s.cfg.Now,
	})
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = session.Close()
		return nil, ErrSessionClosed
	}
	s.sessions[id] = session
	s.latest = id
	evicted := s.evictOverflowLocked()
	s.mu.Unlock()
	s.closeAll(evicted, "capacity")

	s.cfg.Logger.Info("game started",
		zap.String("game_id", id),
		zap.String("engine", engine.Name()),
		zap.String("human", colorName(human)),
		zap.String("book", engine.BookName()),
		zap.Duration("think_time", req.ThinkTime),
	)
	return session, nil
}

// makeRoom frees one slot before launching so that the engine of the game
// being replaced is gone before the new one spawns.
func (s *Store) makeRoom() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	var victims []*Session
	for len(s.sessions) >= s.cfg.MaxSessions {
		v := s.oldestLocked("")
		if v == nil {
			break
		}
		s.removeLocked(v.ID())
		victims = append(victims, v)
	}
	s.mu.Unlock()
	s.closeAll(victims, "replaced")
	return nil
}

func (s *Store) evictOverflowLocked() []*Session {
	var victims []*Session
	for len(s.sessions) > s.cfg.MaxSessions {
		v := s.oldestLocked(s.latest)
		if v == nil {
			break
		}
		s.removeLocked(v.ID())
		victims = append(victims, v)
	}
	return victims
}

// oldestLocked returns the least recently active session other than keep.
func (s *Store) oldestLocked(keep string) *Session {
	var oldest *Session
	for id, sess := range s.sessions {
		if id == keep {
			continue
		}
		if oldest == nil || sess.LastActive().Before(oldest.LastActive()) {
			oldest = sess
		}
	}
	return oldest
}

func (s *Store) removeLocked(id string) {
	delete(s.sessions, id)
	if s.latest == id {
		s.latest = ""
		var newest *Session
		for sid, sess := range s.sessions {
			if newest == nil || sess.LastActive().After(newest.LastActive()) {
				newest = sess
				s.latest = sid
			}
		}
	}
}

// closeAll terminates sessions already removed from the map and drops their
// snapshots so status reads agree with the move route.
func (s *Store) closeAll(sessions []*Session, reason string) {
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			s.cfg.Logger.Warn("session close failed", zap.String("game_id", sess.ID()), zap.Error(err))
		}
		s.dropSnapshot(sess.ID())
		s.cfg.Logger.Info("game closed", zap.String("game_id", sess.ID()), zap.String("reason", reason))
	}
}

func (s *Store) dropSnapshot(id string) {
	if s.cfg.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.cfg.Cache.Delete(ctx, id); err != nil {
		s.cfg.Logger.Warn("snapshot delete failed", zap.String("game_id", id), zap.Error(err))
	}
}

func (s *Store) Get(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Latest returns the most recently started live session.
func (s *Store) Latest() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[s.latest]; ok {
		return sess, nil
	}
	return nil, ErrSessionNotFound
}

// Resolve looks up id, falling back to the latest session when id is empty.
func (s *Store) Resolve(id string) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return s.Latest()
	}
	return s.Get(id)
}

// End removes a session, terminates its engine and drops its snapshot.
func (s *Store) End(_ context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[strings.TrimSpace(id)]
	if ok {
		s.removeLocked(sess.ID())
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	s.closeAll([]*Session{sess}, "ended")
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// IDs returns live game ids, most recently active first.
func (s *Store) IDs() []string {
	s.mu.Lock()
	list := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].LastActive().After(list[j].LastActive()) })
	ids := make([]string, len(list))
	for i, sess := range list {
		ids[i] = sess.ID()
	}
	return ids
}

// Close terminates every session. Further Start calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessions = make(map[string]*Session)
	s.latest = ""
	s.mu.Unlock()

	close(s.stopJanitor)
	<-s.janitorDone

	var errs []error
	for _, sess := range all {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", sess.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) janitor(ttl time.Duration) {
	defer close(s.janitorDone)
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopJanitor:
			return
		case <-ticker.C:
			s.reapIdle(ttl)
		}
	}
}

// reapIdle closes sessions idle for longer than ttl. Busy sessions are kept.
func (s *Store) reapIdle(ttl time.Duration) int {
	cutoff := s.cfg.Now().Add(-ttl)
	s.mu.Lock()
	var idle []*Session
	for _, sess := range s.sessions {
		if !sess.Busy() && sess.LastActive().Before(cutoff) {
			idle = append(idle, sess)
		}
	}
	for _, sess := range idle {
		s.removeLocked(sess.ID())
	}
	s.mu.Unlock()
	s.closeAll(idle, "idle")
	return len(idle)
}
