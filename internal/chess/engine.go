package chess

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/chess/openingbook"
	"github.com/park285/Cheese-WebChess/internal/chess/uci"
)

// Searcher is the part of a UCI process the engine needs.
type Searcher interface {
	Search(ctx context.Context, req uci.SearchRequest) (uci.SearchResult, error)
	ID() uci.Identity
	Close() error
}

type Source string

const (
	SourceBook   Source = "book"
	SourceEngine Source = "engine"
)

type MoveRequest struct {
	FEN   string
	Moves []string
}

// MoveResult is an engine reply in coordinate notation. It has not been
// checked against the position; callers validate it.
type MoveResult struct {
	Move       string
	Source     Source
	EvalCP     int
	Depth      int
	BookWeight uint16
	Elapsed    time.Duration
}

// Engine answers positions for one game: book first, then the UCI search.
type Engine struct {
	profile   EngineProfile
	budget    SearchBudget
	searcher  Searcher
	book      *openingbook.Book
	bookDelay time.Duration
	release   func() error
	logger    *zap.Logger
	tracer    trace.Tracer

	randMu sync.Mutex
	rand   *rand.Rand

	closeOnce sync.Once
	closeErr  error
}

type EngineOption func(*Engine)

func WithBook(b *openingbook.Book, delay time.Duration) EngineOption {
	return func(e *Engine) {
		e.book = b
		e.bookDelay = delay
	}
}

func WithRand(r *rand.Rand) EngineOption {
	return func(e *Engine) { e.rand = r }
}

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithRelease replaces the default Close behavior of closing the searcher.
func WithRelease(fn func() error) EngineOption {
	return func(e *Engine) { e.release = fn }
}

func NewEngine(profile EngineProfile, searcher Searcher, budget SearchBudget, opts ...EngineOption) *Engine {
	e := &Engine{
		profile:  profile,
		budget:   budget,
		searcher: searcher,
		logger:   zap.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer(""),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.release == nil {
		e.release = searcher.Close
	}
	return e
}

func (e *Engine) Name() string { return e.profile.Name }

func (e *Engine) Identity() uci.Identity { return e.searcher.ID() }

func (e *Engine) Budget() SearchBudget { return e.budget }

func (e *Engine) BookName() string {
	if e.book == nil {
		return ""
	}
	return e.book.Name()
}

// ComputeMove returns the move to play for the position reached from FEN by
// Moves.
func (e *Engine) ComputeMove(ctx context.Context, req MoveRequest) (MoveResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.compute_move", trace.WithAttributes(
		attribute.String("engine", e.profile.Name),
		attribute.Int("ply", len(req.Moves)),
	))
	defer span.End()

	if res, ok := e.tryBook(ctx, req); ok {
		span.SetAttributes(attribute.String("source", string(SourceBook)), attribute.String("move", res.Move))
		return res, nil
	}

	result, err := e.searcher.Search(ctx, uci.SearchRequest{
		FEN:    req.FEN,
		Moves:  req.Moves,
		Limits: e.budget.Limits(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("engine search failed",
			zap.String("engine", e.profile.Name),
			zap.Int("ply", len(req.Moves)),
			zap.Error(err),
		)
		return MoveResult{}, err
	}

	out := MoveResult{Move: result.BestMove, Source: SourceEngine, Elapsed: result.Elapsed}
	if len(result.Candidates) > 0 {
		out.EvalCP = result.Candidates[0].EvalCP
		out.Depth = result.Candidates[0].Depth
	}
	span.SetAttributes(
		attribute.String("source", string(SourceEngine)),
		attribute.String("move", out.Move),
		attribute.Int("eval_cp", out.EvalCP),
	)
	e.logger.Debug("engine move",
		zap.String("engine", e.profile.Name),
		zap.String("move", out.Move),
		zap.Int("eval_cp", out.EvalCP),
		zap.Int("depth", out.Depth),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

func (e *Engine) tryBook(ctx context.Context, req MoveRequest) (MoveResult, bool) {
	if e.book == nil {
		return MoveResult{}, false
	}
	start := time.Now()
	e.randMu.Lock()
	entry, ok, err := e.book.Choose(req.FEN, req.Moves, e.rand)
	e.randMu.Unlock()
	if err != nil {
		e.logger.Warn("opening book lookup failed", zap.String("book", e.book.Name()), zap.Error(err))
		return MoveResult{}, false
	}
	if !ok {
		return MoveResult{}, false
	}

	if e.bookDelay > 0 {
		timer := time.NewTimer(e.bookDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	return MoveResult{
		Move:       entry.Move,
		Source:     SourceBook,
		BookWeight: entry.Weight,
		Elapsed:    time.Since(start),
	}, true
}

// Close terminates the underlying engine process. Safe to call repeatedly.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.release()
	})
	return e.closeErr
}
