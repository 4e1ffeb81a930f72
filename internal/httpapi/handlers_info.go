package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/archive"
	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	resp := chessdto.HealthResponse{Status: "ok", Sessions: s.cfg.Store.Len()}
	if s.cfg.Engines != nil {
		resp.Engines = s.cfg.Engines.Live()
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) handleEngines(ctx *fasthttp.RequestCtx) {
	reg := s.cfg.Registry
	resp := chessdto.EnginesResponse{
		Engines:          []chessdto.EngineInfo{},
		Books:            []string{},
		ThinkTimeDefault: int(s.cfg.ThinkTimeDefault / time.Second),
		ThinkTimeMax:     int(s.cfg.ThinkTimeMax / time.Second),
	}
	def, _ := reg.Get("")
	for _, name := range reg.Names() {
		resp.Engines = append(resp.Engines, chessdto.EngineInfo{Name: name, Default: name == def.Name})
	}
	books, err := s.cfg.Books.List()
	if err != nil {
		s.logger.Warn("list opening books failed", zap.Error(err))
	}
	resp.Books = append(resp.Books, books...)
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) handleArchiveList(ctx *fasthttp.RequestCtx) {
	limit := 0
	if raw := string(ctx.QueryArgs().Peek("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(ctx, fasthttp.StatusBadRequest, codeIncompatibleClient, "limit must be a non-negative integer", "")
			return
		}
		limit = n
	}
	games, err := s.cfg.Archive.RecentGames(requestContext(ctx), limit)
	if err != nil {
		s.writeFailure(ctx, err, "", nil)
		return
	}
	resp := chessdto.ArchiveListResponse{Games: make([]chessdto.ArchivedGame, 0, len(games))}
	for _, g := range games {
		resp.Games = append(resp.Games, g.DTO())
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) handleArchiveGet(ctx *fasthttp.RequestCtx, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(ctx, fasthttp.StatusNotFound, codeNotFound, s.msgs.Text("errors.not_found", nil), "")
		return
	}
	g, err := s.cfg.Archive.GetGame(requestContext(ctx), id)
	if errors.Is(err, archive.ErrNotFound) {
		s.writeError(ctx, fasthttp.StatusNotFound, codeNotFound, s.msgs.Text("errors.not_found", nil), "")
		return
	}
	if err != nil {
		s.writeFailure(ctx, err, "", nil)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, g.DTO())
}
