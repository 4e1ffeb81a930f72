package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	chesslib "github.com/corentings/chess/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/archive"
	"github.com/park285/Cheese-WebChess/internal/chess"
	"github.com/park285/Cheese-WebChess/internal/chess/uci"
	"github.com/park285/Cheese-WebChess/internal/obslog"
	"github.com/park285/Cheese-WebChess/internal/statecache"
	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

const (
	archiveTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

var errEngineGone = errors.New("engine was terminated; start a new game")

type SessionConfig struct {
	ID        string
	Human     chesslib.Color
	Engine    MoveComputer
	ThinkTime time.Duration
	Archive   archive.Repository
	Cache     statecache.Cache
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Now       func() time.Time
}

type taskResult struct {
	out MoveOutcome
	err error
}

type task struct {
	ctx   context.Context
	run   func(ctx context.Context) (MoveOutcome, error)
	reply chan taskResult
}

// Session is one game against one engine process. A single worker goroutine
// owns the board and the engine; callers submit tasks and wait for the
// reply. At most one task is accepted at a time and a second caller is
// turned away with ErrSessionBusy.
type Session struct {
	id        string
	human     chesslib.Color
	thinkTime time.Duration
	engine    MoveComputer
	archive   archive.Repository
	cache     statecache.Cache
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	// worker-owned
	game       *chesslib.Game
	movesUCI   []string
	movesSAN   []string
	engineDead bool
	archived   bool
	startedAt  time.Time

	tasks      chan task
	inflight   chan struct{}
	view       atomic.Pointer[view]
	lastActive atomic.Int64

	root      context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewSession takes ownership of cfg.Engine and starts the worker.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("session requires an engine")
	}
	if cfg.Human != chesslib.White && cfg.Human != chesslib.Black {
		return nil, ErrInvalidColor
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	root, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        cfg.ID,
		human:     cfg.Human,
		thinkTime: cfg.ThinkTime,
		engine:    cfg.Engine,
		archive:   cfg.Archive,
		cache:     cfg.Cache,
		logger:    cfg.Logger.With(zap.String("game_id", cfg.ID)),
		tracer:    cfg.Tracer,
		now:       cfg.Now,
		game:      chesslib.NewGame(),
		startedAt: cfg.Now(),
		tasks:     make(chan task),
		inflight:  make(chan struct{}, 1),
		root:      root,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.touch()
	s.publish(context.Background())
	go s.worker()
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Human() chesslib.Color { return s.human }

func (s *Session) ThinkTime() time.Duration { return s.thinkTime }

func (s *Session) Engine() MoveComputer { return s.engine }

// Snapshot returns the last published state. It never waits on the worker.
func (s *Session) Snapshot() chessdto.GameState {
	st := s.view.Load().state
	st.MovesSAN = append([]string{}, st.MovesSAN...)
	st.MovesUCI = append([]string{}, st.MovesUCI...)
	return st
}

// FEN is the authoritative position as last published.
func (s *Session) FEN() string { return s.view.Load().state.FEN }

func (s *Session) PGN() string { return s.view.Load().pgn }

// LastMove returns the squares of the most recent ply, or empty strings.
func (s *Session) LastMove() (from, to string) {
	v := s.view.Load()
	return v.lastFrom, v.lastTo
}

func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

func (s *Session) Busy() bool { return len(s.inflight) > 0 }

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) touch() { s.lastActive.Store(s.now().UnixNano()) }

// ApplyHumanMove plays move for the human and then asks the engine for its
// reply. A nil move skips the human ply and is only valid when the engine is
// to move. Every failure is a *Rejection carrying the authoritative FEN.
func (s *Session) ApplyHumanMove(ctx context.Context, move *string) (MoveOutcome, error) {
	return s.submit(ctx, func(ctx context.Context) (MoveOutcome, error) {
		return s.applyHumanMove(ctx, move)
	})
}

// Resign ends the game as a loss for the human.
func (s *Session) Resign(ctx context.Context) (MoveOutcome, error) {
	return s.submit(ctx, func(ctx context.Context) (MoveOutcome, error) {
		if s.game.Outcome() != chesslib.NoOutcome {
			return MoveOutcome{}, reject(ErrGameOver, s.game.FEN(), nil)
		}
		s.game.Resign(s.human)
		s.finish(ctx)
		s.publish(ctx)
		return s.outcome(MoveOutcome{}), nil
	})
}

// Close stops the worker and terminates the engine, interrupting a search in
// progress. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.engine.Close()
		<-s.done
	})
	return s.closeErr
}

func (s *Session) submit(ctx context.Context, fn func(ctx context.Context) (MoveOutcome, error)) (MoveOutcome, error) {
	select {
	case <-s.root.Done():
		return MoveOutcome{}, reject(ErrSessionClosed, s.FEN(), nil)
	default:
	}
	select {
	case s.inflight <- struct{}{}:
	default:
		return MoveOutcome{}, reject(ErrSessionBusy, s.FEN(), nil)
	}
	defer func() { <-s.inflight }()
	s.touch()
	defer s.touch()

	t := task{ctx: ctx, run: fn, reply: make(chan taskResult, 1)}
	select {
	case s.tasks <- t:
	case <-s.done:
		return MoveOutcome{}, reject(ErrSessionClosed, s.FEN(), nil)
	}

	select {
	case r := <-t.reply:
		return r.out, r.err
	case <-s.done:
		select {
		case r := <-t.reply:
			return r.out, r.err
		default:
			return MoveOutcome{}, reject(ErrSessionClosed, s.FEN(), nil)
		}
	}
}

func (s *Session) worker() {
	defer close(s.done)
	for {
		select {
		case <-s.root.Done():
			return
		case t := <-s.tasks:
			out, err := s.runTask(t)
			t.reply <- taskResult{out: out, err: err}
		}
	}
}

func (s *Session) runTask(t task) (MoveOutcome, error) {
	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(s.root, cancel)
	defer stop()
	return t.run(ctx)
}

func (s *Session) applyHumanMove(ctx context.Context, move *string) (MoveOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "game.apply_move", trace.WithAttributes(
		attribute.String("game_id", s.id),
		attribute.Int("ply", len(s.movesUCI)),
		attribute.Bool("engine_first", move == nil),
	))
	defer span.End()

	out, err := s.advance(ctx, move)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrEngineUnavailable) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	return out, err
}

func (s *Session) advance(ctx context.Context, move *string) (MoveOutcome, error) {
	fen := s.game.FEN()
	if s.game.Outcome() != chesslib.NoOutcome {
		return MoveOutcome{}, reject(ErrGameOver, fen, nil)
	}

	var out MoveOutcome
	humanToMove := s.game.Position().Turn() == s.human
	switch {
	case move == nil && humanToMove:
		return MoveOutcome{}, reject(ErrInvalidMove, fen, ErrMoveRequired)
	case move != nil && !humanToMove:
		return MoveOutcome{}, reject(ErrInvalidMove, fen, ErrNotYourTurn)
	case move != nil:
		pos := s.game.Position()
		mv, err := decodeMove(pos, legalMoveSet(s.game), *move)
		if err != nil {
			kind := ErrInvalidMove
			if errors.Is(err, ErrIncompatibleClient) {
				kind = ErrIncompatibleClient
			}
			s.logger.Debug("move rejected", obslog.RequestField(ctx), zap.String("move", *move), zap.Error(err))
			return MoveOutcome{}, reject(kind, fen, err)
		}
		out.HumanSAN, out.HumanUCI, err = s.play(pos, mv)
		if err != nil {
			return MoveOutcome{}, reject(ErrInvalidMove, fen, err)
		}
		if s.game.Outcome() != chesslib.NoOutcome {
			s.finish(ctx)
			s.publish(ctx)
			return s.outcome(out), nil
		}
		s.publish(ctx)
	}

	if s.engineDead {
		s.publish(ctx)
		return MoveOutcome{}, reject(ErrEngineUnavailable, s.game.FEN(), errEngineGone)
	}

	res, err := s.engine.ComputeMove(ctx, chess.MoveRequest{
		FEN:   "startpos",
		Moves: append([]string(nil), s.movesUCI...),
	})
	if err != nil {
		return MoveOutcome{}, s.engineFailure(ctx, err)
	}

	pos := s.game.Position()
	legal := legalMoveSet(s.game)
	mv, ok := legal[res.Move]
	if !ok {
		return MoveOutcome{}, s.engineFailure(ctx, &uci.ProtocolError{Reason: "best move is not legal in the position", Line: res.Move})
	}
	out.EngineSAN, out.EngineUCI, err = s.play(pos, mv)
	if err != nil {
		return MoveOutcome{}, s.engineFailure(ctx, err)
	}
	out.EngineMoved = true
	out.Source = res.Source
	out.EvalCP = res.EvalCP

	if s.game.Outcome() != chesslib.NoOutcome {
		s.finish(ctx)
	}
	s.publish(ctx)

	s.logger.Debug("ply pair applied",
		zap.String("human", out.HumanUCI),
		zap.String("engine", out.EngineUCI),
		zap.String("source", string(out.Source)),
		zap.Int("ply", len(s.movesUCI)),
	)
	return s.outcome(out), nil
}

// play applies a move known to be legal and records it in both notations.
func (s *Session) play(pos *chesslib.Position, mv *chesslib.Move) (san, coord string, err error) {
	san = chesslib.AlgebraicNotation{}.Encode(pos, mv)
	coord = mv.String()
	if err := s.game.Move(mv, nil); err != nil {
		return "", "", err
	}
	s.movesUCI = append(s.movesUCI, coord)
	s.movesSAN = append(s.movesSAN, san)
	return san, coord, nil
}

// engineFailure keeps the human ply, publishes the position and reports the
// engine as unavailable. Unless the caller abandoned the request, the
// process is considered unusable and torn down.
func (s *Session) engineFailure(ctx context.Context, cause error) error {
	abandoned := ctx.Err() != nil && s.root.Err() == nil && !errors.Is(cause, uci.ErrTerminated)
	if abandoned {
		s.logger.Info("engine search abandoned by caller", obslog.RequestField(ctx), zap.Error(cause))
	} else {
		s.logger.Warn("engine failed; terminating", obslog.RequestField(ctx), zap.Error(cause), zap.Int("ply", len(s.movesUCI)))
		s.engineDead = true
		if err := s.engine.Close(); err != nil {
			s.logger.Warn("engine close failed", zap.Error(err))
		}
	}
	s.publish(ctx)
	return reject(ErrEngineUnavailable, s.game.FEN(), cause)
}

func (s *Session) outcome(out MoveOutcome) MoveOutcome {
	out.FEN = s.game.FEN()
	out.GameOver = s.game.Outcome() != chesslib.NoOutcome
	out.Outcome = s.game.Outcome().String()
	out.Method = methodName(s.game.Method())
	return out
}

// finish releases the engine and archives the game once.
func (s *Session) finish(ctx context.Context) {
	if !s.engineDead {
		s.engineDead = true
		if err := s.engine.Close(); err != nil {
			s.logger.Warn("engine close failed", zap.Error(err))
		}
	}
	if s.archived {
		return
	}
	s.archived = true
	s.logger.Info("game finished",
		obslog.RequestField(ctx),
		zap.String("outcome", s.game.Outcome().String()),
		zap.String("method", methodName(s.game.Method())),
		zap.Int("ply", len(s.movesUCI)),
	)
	if s.archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	rec := &archive.Game{
		GameID:      s.id,
		Engine:      s.engine.Name(),
		Orientation: colorName(s.human),
		Result:      s.game.Outcome().String(),
		Method:      methodName(s.game.Method()),
		MovesUCI:    append([]string(nil), s.movesUCI...),
		MovesSAN:    append([]string(nil), s.movesSAN...),
		PGN:         buildPGN(s.pgnHeader(), s.movesSAN),
		StartedAt:   s.startedAt,
		EndedAt:     s.now(),
	}
	if _, err := s.archive.InsertGame(actx, rec); err != nil && !errors.Is(err, archive.ErrDuplicateGame) {
		s.logger.Warn("archive insert failed", zap.Error(err))
	}
}

func (s *Session) publish(ctx context.Context) {
	v := s.buildView()
	s.view.Store(v)
	if s.cache == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.cache.Put(pctx, v.state); err != nil {
		s.logger.Warn("snapshot publish failed", zap.Error(err))
	}
}
