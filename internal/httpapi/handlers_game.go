package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/chess"
	"github.com/park285/Cheese-WebChess/internal/game"
	"github.com/park285/Cheese-WebChess/internal/render"
	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

const (
	cookieGameID      = "game_id"
	defaultPieceTheme = "neo"
)

var errMalformedBody = errors.New("malformed move body")

func isJSON(ctx *fasthttp.RequestCtx) bool {
	mt, _, err := mime.ParseMediaType(string(ctx.Request.Header.ContentType()))
	return err == nil && mt == "application/json"
}

// decodeMoveBody tells an absent or null move apart from one of the wrong
// type. Anything that is not a JSON object is malformed.
func decodeMoveBody(body []byte) (*string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, errMalformedBody
	}
	raw, ok := fields["move"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var move string
	if err := json.Unmarshal(raw, &move); err != nil {
		return nil, errMalformedBody
	}
	return &move, nil
}

// resolveForMove finds the session for /move: path id, then the game query
// parameter, then the game_id cookie, then the latest game.
func (s *Server) resolveForMove(ctx *fasthttp.RequestCtx, pathID string) (*game.Session, error) {
	if pathID != "" {
		return s.cfg.Store.Get(pathID)
	}
	if id := string(ctx.QueryArgs().Peek("game")); id != "" {
		return s.cfg.Store.Get(id)
	}
	if id := string(ctx.Request.Header.Cookie(cookieGameID)); id != "" {
		if sess, err := s.cfg.Store.Get(id); err == nil {
			return sess, nil
		}
	}
	return s.cfg.Store.Latest()
}

func (s *Server) handleMove(ctx *fasthttp.RequestCtx, pathID string) {
	sess, err := s.resolveForMove(ctx, pathID)
	if err != nil {
		s.writeFailure(ctx, err, "", nil)
		return
	}
	fen := sess.FEN()

	if !isJSON(ctx) {
		s.writeError(ctx, fasthttp.StatusBadRequest, codeIncompatibleClient, s.msgs.Text("errors.invalid_content_type", nil), fen)
		return
	}
	move, err := decodeMoveBody(ctx.PostBody())
	if err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, codeIncompatibleClient, s.msgs.Text("errors.malformed_body", nil), fen)
		return
	}

	out, err := sess.ApplyHumanMove(requestContext(ctx), move)
	if err != nil {
		data := map[string]any{"Move": ""}
		if move != nil {
			data["Move"] = *move
		}
		s.writeFailure(ctx, err, fen, data)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, moveResponse(out))
}

func moveResponse(out game.MoveOutcome) chessdto.MoveResponse {
	resp := chessdto.MoveResponse{
		FEN:      out.FEN,
		GameOver: out.GameOver,
		Outcome:  out.Outcome,
		Method:   out.Method,
	}
	if out.EngineMoved {
		san := out.EngineSAN
		resp.Move = &san
		resp.MoveUCI = out.EngineUCI
		resp.Source = string(out.Source)
		if out.Source == chess.SourceEngine {
			cp := out.EvalCP
			resp.EvalCP = &cp
		}
	}
	return resp
}

func (s *Server) handleStart(ctx *fasthttp.RequestCtx) {
	req, err := s.decodeStart(ctx)
	if err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, codeIncompatibleClient, s.msgs.Text("errors.malformed_body", nil), "")
		return
	}
	data := map[string]any{
		"Engine": req.Engine,
		"Book":   req.OpeningBook,
		"Max":    int(s.cfg.ThinkTimeMax / time.Second),
	}

	raw := ""
	if req.ThinkTime != nil {
		raw = strconv.Itoa(*req.ThinkTime)
	}
	thinkTime, err := chess.ParseThinkTime(raw, s.cfg.ThinkTimeDefault, s.cfg.ThinkTimeMax)
	if err != nil {
		s.writeFailure(ctx, err, "", data)
		return
	}

	sess, err := s.cfg.Store.Start(requestContext(ctx), game.StartRequest{
		Color:     req.Color,
		Engine:    req.Engine,
		Book:      req.OpeningBook,
		ThinkTime: thinkTime,
	})
	if err != nil {
		f, known := classify(err)
		if !known {
			// spawn and handshake failures
			f = failure{fasthttp.StatusServiceUnavailable, codeEngineUnavailable, "errors.engine_unavailable"}
		}
		s.writeClassified(ctx, f, err, "", data)
		return
	}

	theme := strings.TrimSpace(req.PieceTheme)
	if theme == "" {
		theme = defaultPieceTheme
	}
	snap := sess.Snapshot()
	var cookie fasthttp.Cookie
	cookie.SetKey(cookieGameID)
	cookie.SetValue(sess.ID())
	cookie.SetPath("/")
	cookie.SetHTTPOnly(true)
	cookie.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	ctx.Response.Header.SetCookie(&cookie)

	writeJSON(ctx, fasthttp.StatusCreated, chessdto.StartGameResponse{
		GameID:      sess.ID(),
		Orientation: snap.Orientation,
		FEN:         snap.FEN,
		Engine:      sess.Engine().Name(),
		EngineID:    sess.Engine().Identity().Name,
		Book:        sess.Engine().BookName(),
		ThinkTime:   int(thinkTime / time.Second),
		PieceTheme:  theme,
	})
}

// decodeStart accepts a JSON body or the new-game form fields.
func (s *Server) decodeStart(ctx *fasthttp.RequestCtx) (chessdto.StartGameRequest, error) {
	var req chessdto.StartGameRequest
	if isJSON(ctx) {
		body := bytes.TrimSpace(ctx.PostBody())
		if len(body) == 0 {
			return req, nil
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return req, errMalformedBody
		}
		return req, nil
	}

	form := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(string(ctx.FormValue(k))); v != "" {
				return v
			}
		}
		return ""
	}
	req.Color = form("color")
	req.Engine = form("engine")
	req.OpeningBook = form("opening-book", "opening_book")
	req.PieceTheme = form("piece-theme", "piece_theme")
	if raw := form("think-time", "think_time"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			n = -1
		}
		req.ThinkTime = &n
	}
	return req, nil
}

func (s *Server) handleState(ctx *fasthttp.RequestCtx, id string) {
	if s.cfg.Cache != nil {
		snap, err := s.cfg.Cache.Get(requestContext(ctx), id)
		if err != nil {
			s.logger.Warn("snapshot read failed", zap.String("game_id", id), zap.Error(err))
		}
		if snap != nil {
			writeJSON(ctx, fasthttp.StatusOK, snap)
			return
		}
	}
	sess, err := s.cfg.Store.Get(id)
	if err != nil {
		s.writeFailure(ctx, err, "", nil)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess.Snapshot())
}

func (s *Server) handlePGN(ctx *fasthttp.RequestCtx, id string) {
	sess, err := s.cfg.Store.Get(id)
	if err != nil {
		s.writeFailure(ctx, err, "", nil)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/x-chess-pgn")
	ctx.Response.Header.Set(fasthttp.HeaderContentDisposition, `inline; filename="`+sess.ID()+`.pgn"`)
	ctx.SetBodyString(sess.PGN())
}

func (s *Server) handleBoard(ctx *fasthttp.RequestCtx, id string) {
	sess, err := s.cfg.Store.Get(id)
	if err != nil {
		s.writeFailure(ctx, err, "", nil)
		return
	}
	fen := sess.FEN()

	size := 0
	if raw := string(ctx.QueryArgs().Peek("size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			n = -1
		}
		size = n
	}
	from, to := sess.LastMove()
	png, err := s.cfg.Renderer.RenderPNG(requestContext(ctx), fen, render.Options{
		Orientation: sess.Human(),
		LastFrom:    from,
		LastTo:      to,
		Size:        size,
	})
	if errors.Is(err, render.ErrInvalidSize) {
		msg := s.msgs.Text("errors.invalid_size", map[string]any{"Min": render.MinSize, "Max": render.MaxSize})
		s.writeError(ctx, fasthttp.StatusBadRequest, codeIncompatibleClient, msg, fen)
		return
	}
	if err != nil {
		s.writeFailure(ctx, err, fen, nil)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("image/png")
	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, "no-store")
	ctx.SetBody(png)
}

func (s *Server) handleResign(ctx *fasthttp.RequestCtx, id string) {
	sess, err := s.cfg.Store.Get(id)
	if err != nil {
		s.writeFailure(ctx, err, "", nil)
		return
	}
	out, err := sess.Resign(requestContext(ctx))
	if err != nil {
		s.writeFailure(ctx, err, sess.FEN(), nil)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, moveResponse(out))
}

func (s *Server) handleEnd(ctx *fasthttp.RequestCtx, id string) {
	if err := s.cfg.Store.End(requestContext(ctx), id); err != nil {
		s.writeFailure(ctx, err, "", nil)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
