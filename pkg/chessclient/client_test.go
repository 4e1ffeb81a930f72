package chessclient

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})
	return New("http://chess.test/", WithDial(func(string) (net.Conn, error) { return ln.Dial() }), WithTimeout(5*time.Second))
}

func reply(ctx *fasthttp.RequestCtx, status int, v any) {
	body, _ := json.Marshal(v)
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func TestMoveSendsContract(t *testing.T) {
	var got chessdto.MoveRequest
	var path, contentType string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		path = string(ctx.Path())
		contentType = string(ctx.Request.Header.ContentType())
		_ = json.Unmarshal(ctx.PostBody(), &got)
		san := "e5"
		reply(ctx, 200, chessdto.MoveResponse{Move: &san, FEN: "fen-after"})
	})

	move := "e4"
	out, err := c.Move(context.Background(), "g1", &move)
	require.NoError(t, err)
	require.Equal(t, "/games/g1/move", path)
	require.Equal(t, "application/json", contentType)
	require.Equal(t, "e4", *got.Move)
	require.Equal(t, "e5", *out.Move)

	_, err = c.Move(context.Background(), "", nil)
	require.NoError(t, err)
	require.Equal(t, "/move", path)
	require.Nil(t, got.Move)
}

func TestErrorContractIsDecoded(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		reply(ctx, 400, chessdto.ErrorBody{ErrorCode: chessdto.CodeInvalidMove, ErrorMsg: "Invalid user move", FEN: "authoritative"})
	})

	move := "e5"
	_, err := c.Move(context.Background(), "g1", &move)
	require.True(t, IsCode(err, chessdto.CodeInvalidMove))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 400, apiErr.Status)
	require.Equal(t, "authoritative", apiErr.FEN())
	require.EqualValues(t, 1, calls.Load())
}

func TestReadsRetryUnavailableButMovesDoNot(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		n := calls.Add(1)
		if string(ctx.Method()) == fasthttp.MethodGet && n >= 3 {
			reply(ctx, 200, chessdto.HealthResponse{Status: "ok"})
			return
		}
		reply(ctx, 503, chessdto.ErrorBody{ErrorCode: chessdto.CodeEngineUnavailable, FEN: "kept"})
	})

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", h.Status)
	require.EqualValues(t, 3, calls.Load())

	calls.Store(10)
	move := "e4"
	_, err = c.Move(context.Background(), "g1", &move)
	require.True(t, IsCode(err, chessdto.CodeEngineUnavailable))
	require.EqualValues(t, 11, calls.Load())
}

func TestNonContractErrorBody(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(502)
		ctx.SetBodyString("bad gateway")
	})
	c.retryMax = 1
	_, err := c.Engines(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 502, apiErr.Status)
	require.Equal(t, "bad gateway", apiErr.Body.ErrorMsg)
	require.Empty(t, apiErr.Code())
}

func TestEndGameAcceptsNoContent(t *testing.T) {
	var method string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		method = string(ctx.Method())
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	})
	require.NoError(t, c.EndGame(context.Background(), "g1"))
	require.Equal(t, fasthttp.MethodDelete, method)
}
