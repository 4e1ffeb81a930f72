package httpapi

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/chess"
	"github.com/park285/Cheese-WebChess/internal/chess/openingbook"
	"github.com/park285/Cheese-WebChess/internal/game"
	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

const (
	codeInvalidMove        = chessdto.CodeInvalidMove
	codeIncompatibleClient = chessdto.CodeIncompatibleClient
	codeEngineUnavailable  = chessdto.CodeEngineUnavailable
	codeSessionBusy        = chessdto.CodeSessionBusy
	codeSessionNotFound    = chessdto.CodeSessionNotFound
	codeNotFound           = chessdto.CodeNotFound
	codeInternal           = chessdto.CodeInternal
)

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error_code":"internal_error","error_msg":"encode response"}`)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, code, msg, fen string) {
	writeJSON(ctx, status, chessdto.ErrorBody{ErrorCode: code, ErrorMsg: msg, FEN: fen})
}

// failure describes how a domain error is reported.
type failure struct {
	status int
	code   string
	key    string
}

// classify maps err onto the wire contract. The second result is false for
// errors with no dedicated mapping.
func classify(err error) (failure, bool) {
	switch {
	case errors.Is(err, game.ErrIncompatibleClient):
		return failure{fasthttp.StatusBadRequest, codeIncompatibleClient, "errors.unreadable_move"}, true
	case errors.Is(err, game.ErrInvalidColor):
		return failure{fasthttp.StatusBadRequest, codeIncompatibleClient, "errors.invalid_color"}, true
	case errors.Is(err, game.ErrMoveRequired):
		return failure{fasthttp.StatusBadRequest, codeInvalidMove, "errors.missing_move"}, true
	case errors.Is(err, game.ErrNotYourTurn):
		return failure{fasthttp.StatusBadRequest, codeInvalidMove, "errors.not_your_turn"}, true
	case errors.Is(err, game.ErrGameOver):
		return failure{fasthttp.StatusBadRequest, codeInvalidMove, "errors.game_over"}, true
	case errors.Is(err, game.ErrInvalidMove):
		return failure{fasthttp.StatusBadRequest, codeInvalidMove, "errors.invalid_move"}, true
	case errors.Is(err, game.ErrSessionBusy):
		return failure{fasthttp.StatusConflict, codeSessionBusy, "errors.session_busy"}, true
	case errors.Is(err, game.ErrSessionNotFound), errors.Is(err, game.ErrSessionClosed):
		return failure{fasthttp.StatusNotFound, codeSessionNotFound, "errors.session_not_found"}, true
	case errors.Is(err, game.ErrEngineUnavailable):
		return failure{fasthttp.StatusServiceUnavailable, codeEngineUnavailable, "errors.engine_unavailable"}, true
	case errors.Is(err, chess.ErrUnknownEngine):
		return failure{fasthttp.StatusBadRequest, chessdto.CodeUnknownEngine, "errors.unknown_engine"}, true
	case errors.Is(err, openingbook.ErrUnknownBook):
		return failure{fasthttp.StatusBadRequest, chessdto.CodeUnknownBook, "errors.unknown_book"}, true
	case errors.Is(err, chess.ErrInvalidThinkTime):
		return failure{fasthttp.StatusBadRequest, chessdto.CodeInvalidThinkTime, "errors.invalid_think_time"}, true
	}
	return failure{fasthttp.StatusInternalServerError, codeInternal, "errors.internal"}, false
}

// writeFailure reports err with the authoritative position it carries,
// falling back to fen.
func (s *Server) writeFailure(ctx *fasthttp.RequestCtx, err error, fen string, data map[string]any) {
	f, known := classify(err)
	if !known {
		s.logger.Error("unhandled error", zap.String("rid", getRequestID(ctx)), zap.Error(err))
	}
	s.writeClassified(ctx, f, err, fen, data)
}

func (s *Server) writeClassified(ctx *fasthttp.RequestCtx, f failure, err error, fen string, data map[string]any) {
	if carried, ok := game.AuthoritativeFEN(err); ok {
		fen = carried
	}
	if f.status >= fasthttp.StatusInternalServerError {
		s.logger.Warn("request failed",
			zap.String("rid", getRequestID(ctx)),
			zap.String("code", f.code),
			zap.Error(err),
		)
	}
	s.writeError(ctx, f.status, f.code, s.msgs.Text(f.key, data), fen)
}
