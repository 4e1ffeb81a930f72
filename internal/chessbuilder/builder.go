// Package chessbuilder assembles the server from configuration.
package chessbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/archive"
	"github.com/park285/Cheese-WebChess/internal/chess"
	"github.com/park285/Cheese-WebChess/internal/chess/openingbook"
	"github.com/park285/Cheese-WebChess/internal/chess/uci"
	"github.com/park285/Cheese-WebChess/internal/config"
	"github.com/park285/Cheese-WebChess/internal/game"
	"github.com/park285/Cheese-WebChess/internal/httpapi"
	"github.com/park285/Cheese-WebChess/internal/msgcat"
	"github.com/park285/Cheese-WebChess/internal/render"
	"github.com/park285/Cheese-WebChess/internal/statecache"
	"github.com/park285/Cheese-WebChess/internal/tracing"
)

type Deps struct {
	Config   *config.AppConfig
	Server   *httpapi.Server
	Store    *game.Store
	Pool     *uci.Pool
	Launcher *chess.Launcher
	Registry *chess.Registry
	Books    *openingbook.Library
	Archive  archive.Repository
	Cache    statecache.Cache
	Tracing  *tracing.Provider

	logger *zap.Logger
}

// New wires every component. Redis and Postgres are optional: without
// REDIS_URL snapshots stay in process, without DATABASE_URL finished games
// are kept in memory.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close(context.Background())
		}
	}()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   cfg.TraceSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	d.Tracing = tp
	tracer := tp.Tracer()

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	d.Registry, err = chess.NewRegistry(cfg.Engines, cfg.DefaultEngine)
	if err != nil {
		return nil, fmt.Errorf("engine registry: %w", err)
	}
	d.Books = openingbook.NewLibrary(cfg.OpeningBookDir)
	d.Pool = uci.NewPool(uci.PoolConfig{Capacity: cfg.EnginePoolSize, Logger: logger.Named("uci")})

	d.Launcher, err = chess.NewLauncher(chess.LauncherConfig{
		Pool:             d.Pool,
		Registry:         d.Registry,
		Books:            d.Books,
		HandshakeTimeout: cfg.HandshakeTimeout,
		SearchGrace:      cfg.SearchGrace,
		DepthCap:         cfg.SearchDepthCap,
		BookMoveDelay:    cfg.BookMoveDelay,
		Logger:           logger.Named("engine"),
		Tracer:           tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("init launcher: %w", err)
	}

	// Archive (Postgres optional)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		d.Archive, err = archive.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
	} else {
		logger.Info("DATABASE_URL not set; finished games are kept in memory")
		d.Archive = archive.NewMemory()
	}

	// Snapshot cache (Redis optional)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		d.Cache, err = statecache.NewRedis(ctx, cfg.RedisURL, cfg.SnapshotTTL)
		if err != nil {
			return nil, fmt.Errorf("init snapshot cache: %w", err)
		}
	} else {
		d.Cache = statecache.NewMemory(cfg.SnapshotTTL)
	}

	d.Store, err = game.NewStore(game.StoreConfig{
		MaxSessions: cfg.MaxSessions,
		IdleTTL:     cfg.SessionIdleTTL,
		Launch:      d.launch,
		Validate:    d.Launcher.Validate,
		Archive:     d.Archive,
		Cache:       d.Cache,
		Logger:      logger.Named("game"),
		Tracer:      tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}

	d.Server, err = httpapi.New(httpapi.Config{
		Store:            d.Store,
		Registry:         d.Registry,
		Books:            d.Books,
		Archive:          d.Archive,
		Cache:            d.Cache,
		Renderer:         render.New(),
		Messages:         msgs,
		Engines:          d.Pool,
		Logger:           logger.Named("http"),
		ThinkTimeDefault: cfg.ThinkTimeDefault,
		ThinkTimeMax:     cfg.ThinkTimeMax,
	})
	if err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	logger.Info("chess server assembled",
		zap.Strings("engines", d.Registry.Names()),
		zap.String("default_engine", d.Registry.Default()),
		zap.Int("engine_pool", d.Pool.Capacity()),
		zap.Int("max_sessions", cfg.MaxSessions),
		zap.Bool("postgres", strings.TrimSpace(cfg.DatabaseURL) != ""),
		zap.Bool("redis", strings.TrimSpace(cfg.RedisURL) != ""),
		zap.Bool("tracing", tp.Enabled()),
	)
	ok = true
	return d, nil
}

func (d *Deps) launch(ctx context.Context, req chess.LaunchRequest) (game.MoveComputer, error) {
	e, err := d.Launcher.Launch(ctx, req)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Close stops the HTTP server, ends every game, kills any engine process
// still alive and flushes traces. It tolerates partially built Deps.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	if d.Server != nil {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := d.Server.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		cancel()
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
	}
	if d.Pool != nil {
		if err := d.Pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine pool: %w", err))
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close snapshot cache: %w", err))
		}
	}
	if d.Archive != nil {
		if err := d.Archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}
	if d.Tracing != nil {
		if err := d.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	return nil
}
