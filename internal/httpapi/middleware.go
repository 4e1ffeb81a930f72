package httpapi

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/obslog"
)

const (
	headerRequestID = "X-Request-ID"
	userValueRID    = "request_id"
)

var alphabet = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

func newReqID8() string {
	b := make([]byte, 8)
	rnd := make([]byte, 8)
	_, _ = rand.Read(rnd)
	for i := range b {
		b[i] = alphabet[int(rnd[i])%len(alphabet)]
	}
	return string(b)
}

// requestID adopts an 8 character X-Request-ID from the client or mints one.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		rid := string(ctx.Request.Header.Peek(headerRequestID))
		if len(rid) != 8 {
			rid = newReqID8()
		}
		ctx.Response.Header.Set(headerRequestID, rid)
		ctx.SetUserValue(userValueRID, rid)
		next(ctx)
	}
}

func getRequestID(ctx *fasthttp.RequestCtx) string {
	if s, ok := ctx.UserValue(userValueRID).(string); ok {
		return s
	}
	return ""
}

// requestContext detaches game work from the connection. A session worker
// keeps the board consistent even if the client goes away.
func requestContext(ctx *fasthttp.RequestCtx) context.Context {
	return obslog.WithRequestID(context.Background(), getRequestID(ctx))
}

func (s *Server) accessLog(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		status := ctx.Response.StatusCode()
		fields := []zap.Field{
			zap.String("rid", getRequestID(ctx)),
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()),
			zap.Int("status", status),
			zap.Duration("dur", time.Since(start)),
		}
		if status >= fasthttp.StatusInternalServerError {
			s.logger.Warn("request completed", fields...)
			return
		}
		s.logger.Info("request completed", fields...)
	}
}

func (s *Server) recoverPanic(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("handler panic",
					zap.String("rid", getRequestID(ctx)),
					zap.String("panic", fmt.Sprint(r)),
					zap.Stack("stack"),
				)
				ctx.ResetBody()
				s.writeError(ctx, fasthttp.StatusInternalServerError, codeInternal, s.msgs.Text("errors.internal", nil), "")
			}
		}()
		next(ctx)
	}
}
