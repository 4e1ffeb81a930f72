// Package httpapi is the HTTP boundary of the chess server.
package httpapi

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/archive"
	"github.com/park285/Cheese-WebChess/internal/chess"
	"github.com/park285/Cheese-WebChess/internal/chess/openingbook"
	"github.com/park285/Cheese-WebChess/internal/game"
	"github.com/park285/Cheese-WebChess/internal/msgcat"
	"github.com/park285/Cheese-WebChess/internal/render"
	"github.com/park285/Cheese-WebChess/internal/statecache"
)

// EngineCounter reports live engine processes.
type EngineCounter interface {
	Live() int
}

type Config struct {
	Store    *game.Store
	Registry *chess.Registry
	Books    *openingbook.Library
	Archive  archive.Repository
	Cache    statecache.Cache
	Renderer *render.Renderer
	Messages *msgcat.Catalog
	Engines  EngineCounter
	Logger   *zap.Logger

	ThinkTimeDefault time.Duration
	ThinkTimeMax     time.Duration
	// ReadTimeout bounds reading a request. Engine work is bounded by the
	// engine's own search deadline.
	ReadTimeout time.Duration
}

type Server struct {
	cfg    Config
	logger *zap.Logger
	msgs   *msgcat.Catalog
	srv    *fasthttp.Server
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Registry == nil {
		return nil, errors.New("httpapi: store and registry are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Books == nil {
		cfg.Books = openingbook.NewLibrary("")
	}
	if cfg.Archive == nil {
		cfg.Archive = archive.NewMemory()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.New()
	}
	if cfg.Messages == nil {
		m, err := msgcat.New("")
		if err != nil {
			return nil, err
		}
		cfg.Messages = m
	}
	if cfg.ThinkTimeDefault <= 0 {
		cfg.ThinkTimeDefault = time.Second
	}
	if cfg.ThinkTimeMax <= 0 {
		cfg.ThinkTimeMax = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}

	s := &Server{cfg: cfg, logger: cfg.Logger, msgs: cfg.Messages}
	s.srv = &fasthttp.Server{
		Handler:               s.Handler(),
		Name:                  "cheese-webchess",
		ReadTimeout:           cfg.ReadTimeout,
		MaxRequestBodySize:    64 << 10,
		NoDefaultServerHeader: true,
		Logger:                zap.NewStdLog(cfg.Logger.With(zap.String("component", "fasthttp"))),
	}
	return s, nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() fasthttp.RequestHandler {
	return requestID(s.accessLog(s.recoverPanic(s.route)))
}

func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

// Shutdown stops accepting connections and waits for open requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	path := strings.Trim(string(ctx.Path()), "/")
	parts := strings.Split(path, "/")

	switch {
	case path == "healthz":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleHealth(ctx)
		}
	case path == "engines":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleEngines(ctx)
		}
	case path == "move":
		if allow(ctx, fasthttp.MethodPost) {
			s.handleMove(ctx, "")
		}
	case path == "games":
		if allow(ctx, fasthttp.MethodPost) {
			s.handleStart(ctx)
		}
	case len(parts) == 2 && parts[0] == "games":
		switch string(ctx.Method()) {
		case fasthttp.MethodGet:
			s.handleState(ctx, parts[1])
		case fasthttp.MethodDelete:
			s.handleEnd(ctx, parts[1])
		default:
			allow(ctx, fasthttp.MethodGet, fasthttp.MethodDelete)
		}
	case len(parts) == 3 && parts[0] == "games":
		s.routeGame(ctx, parts[1], parts[2])
	case path == "archive/games":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleArchiveList(ctx)
		}
	case len(parts) == 3 && parts[0] == "archive" && parts[1] == "games":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleArchiveGet(ctx, parts[2])
		}
	default:
		s.writeError(ctx, fasthttp.StatusNotFound, codeNotFound, s.msgs.Text("errors.not_found", nil), "")
	}
}

func (s *Server) routeGame(ctx *fasthttp.RequestCtx, id, action string) {
	switch action {
	case "move":
		if allow(ctx, fasthttp.MethodPost) {
			s.handleMove(ctx, id)
		}
	case "resign":
		if allow(ctx, fasthttp.MethodPost) {
			s.handleResign(ctx, id)
		}
	case "pgn":
		if allow(ctx, fasthttp.MethodGet) {
			s.handlePGN(ctx, id)
		}
	case "board.png":
		if allow(ctx, fasthttp.MethodGet) {
			s.handleBoard(ctx, id)
		}
	default:
		s.writeError(ctx, fasthttp.StatusNotFound, codeNotFound, s.msgs.Text("errors.not_found", nil), "")
	}
}

// allow answers 405 unless the request uses one of methods.
func allow(ctx *fasthttp.RequestCtx, methods ...string) bool {
	m := string(ctx.Method())
	for _, want := range methods {
		if m == want {
			return true
		}
	}
	ctx.Response.Header.Set(fasthttp.HeaderAllow, strings.Join(methods, ", "))
	ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
	return false
}
