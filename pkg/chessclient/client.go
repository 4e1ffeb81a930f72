// Package chessclient talks to a chessd server over its JSON API.
package chessclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

// APIError is a non-2xx answer. Body is decoded when the server sent the
// error contract.
type APIError struct {
	Status int
	Body   chessdto.ErrorBody
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chessd: status=%d %s", e.Status, e.Body.Error())
}

// FEN returns the authoritative position the server reported, if any.
func (e *APIError) FEN() string { return e.Body.FEN }

// Code returns the error_code, e.g. invalid_move.
func (e *APIError) Code() string { return e.Body.ErrorCode }

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Body.ErrorCode == code
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

// WithRetry bounds attempts for reads. Moves and game starts are never
// retried.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial replaces the dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 60 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 60 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) (*chessdto.HealthResponse, error) {
	var out chessdto.HealthResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Engines(ctx context.Context) (*chessdto.EnginesResponse, error) {
	var out chessdto.EnginesResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/engines", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartGame(ctx context.Context, req chessdto.StartGameRequest) (*chessdto.StartGameResponse, error) {
	var out chessdto.StartGameResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Move sends a human move in SAN or coordinate notation. A nil move asks the
// engine to play when it is its turn.
func (c *Client) Move(ctx context.Context, gameID string, move *string) (*chessdto.MoveResponse, error) {
	var out chessdto.MoveResponse
	path := "/move"
	if gameID != "" {
		path = "/games/" + url.PathEscape(gameID) + "/move"
	}
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, chessdto.MoveRequest{Move: move}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) State(ctx context.Context, gameID string) (*chessdto.GameState, error) {
	var out chessdto.GameState
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/games/"+url.PathEscape(gameID), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Resign(ctx context.Context, gameID string) (*chessdto.MoveResponse, error) {
	var out chessdto.MoveResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games/"+url.PathEscape(gameID)+"/resign", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EndGame(ctx context.Context, gameID string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, "/games/"+url.PathEscape(gameID), nil, nil, false)
}

func (c *Client) RecentGames(ctx context.Context, limit int) ([]chessdto.ArchivedGame, error) {
	var out chessdto.ArchiveListResponse
	path := "/archive/games?limit=" + strconv.Itoa(limit)
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Games, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			lastErr = decodeError(status, resp.Body())
			if !shouldRetryStatus(status) {
				return lastErr
			}
		} else {
			if out != nil && status != fasthttp.StatusNoContent {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, &apiErr.Body); err != nil || apiErr.Body.ErrorCode == "" {
		apiErr.Body = chessdto.ErrorBody{ErrorMsg: truncate(string(body), 512)}
	}
	return apiErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case fasthttp.StatusBadGateway, fasthttp.StatusServiceUnavailable, fasthttp.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
