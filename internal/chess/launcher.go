package chess

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/chess/openingbook"
	"github.com/park285/Cheese-WebChess/internal/chess/uci"
)

type LauncherConfig struct {
	Pool             *uci.Pool
	Registry         *Registry
	Books            *openingbook.Library
	HandshakeTimeout time.Duration
	SearchGrace      time.Duration
	DepthCap         int
	BookMoveDelay    time.Duration
	Logger           *zap.Logger
	Tracer           trace.Tracer
}

// Launcher starts one handshaken engine per game.
type Launcher struct {
	cfg LauncherConfig
}

type LaunchRequest struct {
	Owner     string
	Engine    string
	Book      string
	ThinkTime time.Duration
}

func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if cfg.Pool == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("launcher requires pool and registry")
	}
	if cfg.Books == nil {
		cfg.Books = openingbook.NewLibrary("")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Launcher{cfg: cfg}, nil
}

func (l *Launcher) Registry() *Registry { return l.cfg.Registry }

func (l *Launcher) Books() *openingbook.Library { return l.cfg.Books }

type resolved struct {
	profile EngineProfile
	budget  SearchBudget
	book    *openingbook.Book
}

func (l *Launcher) resolve(req LaunchRequest) (resolved, error) {
	profile, err := l.cfg.Registry.Get(req.Engine)
	if err != nil {
		return resolved{}, err
	}
	budget := SearchBudget{ThinkTime: req.ThinkTime, DepthCap: l.cfg.DepthCap}
	if err := ValidateBudget(budget); err != nil {
		return resolved{}, fmt.Errorf("%w: %v", ErrInvalidThinkTime, err)
	}
	book, err := l.cfg.Books.Get(req.Book)
	if err != nil {
		return resolved{}, err
	}
	return resolved{profile: profile, budget: budget, book: book}, nil
}

// Validate checks the engine, budget and book of req without starting
// anything.
func (l *Launcher) Validate(req LaunchRequest) error {
	_, err := l.resolve(req)
	return err
}

// Launch resolves the profile and book, spawns the process through the pool,
// and resets it for a new game. Nothing stays running when it fails.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest) (*Engine, error) {
	r, err := l.resolve(req)
	if err != nil {
		return nil, err
	}
	profile, budget, book := r.profile, r.budget, r.book

	ctx, span := l.cfg.Tracer.Start(ctx, "engine.launch")
	defer span.End()

	logger := l.cfg.Logger.With(zap.String("engine", profile.Name))
	proc, err := l.cfg.Pool.Acquire(ctx, req.Owner, uci.Config{
		Path:             profile.Path,
		Args:             profile.Args,
		Env:              profile.Env,
		Dir:              profile.Dir,
		Options:          profile.Options,
		HandshakeTimeout: l.cfg.HandshakeTimeout,
		SearchGrace:      l.cfg.SearchGrace,
		Logger:           logger,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("start engine %s: %w", profile.Name, err)
	}
	if err := proc.NewGame(ctx); err != nil {
		_ = l.cfg.Pool.Release(proc)
		span.RecordError(err)
		return nil, fmt.Errorf("reset engine %s: %w", profile.Name, err)
	}

	return NewEngine(profile, proc, budget,
		WithBook(book, l.cfg.BookMoveDelay),
		WithLogger(logger),
		WithTracer(l.cfg.Tracer),
		WithRelease(func() error { return l.cfg.Pool.Release(proc) }),
	), nil
}
