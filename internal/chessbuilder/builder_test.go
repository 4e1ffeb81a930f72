package chessbuilder

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/Cheese-WebChess/internal/chess"
	"github.com/park285/Cheese-WebChess/internal/chess/uci/ucitest"
	"github.com/park285/Cheese-WebChess/internal/config"
	"github.com/park285/Cheese-WebChess/pkg/chessclient"
	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

func TestMain(m *testing.M) {
	ucitest.MainIfHelper()
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	path, args, env := ucitest.Command(ucitest.Normal)
	return &config.AppConfig{
		Engines:          []chess.EngineProfile{{Name: "fake", Path: path, Args: args, Env: env}},
		EnginePoolSize:   2,
		OpeningBookDir:   t.TempDir(),
		ThinkTimeDefault: time.Second,
		ThinkTimeMax:     5 * time.Second,
		SearchDepthCap:   10,
		HandshakeTimeout: 5 * time.Second,
		SearchGrace:      time.Second,
		MaxSessions:      1,
		SnapshotTTL:      time.Minute,
		TraceExporter:    "none",
	}
}

func TestNewServesGamesAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()

	d, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = d.Server.Serve(ln) }()
	client := chessclient.New("http://chess.test", chessclient.WithDial(func(string) (net.Conn, error) { return ln.Dial() }))
	ctx := context.Background()

	g, err := client.StartGame(ctx, chessdto.StartGameRequest{Color: "white"})
	require.NoError(t, err)
	require.Equal(t, 1, d.Pool.Live())
	require.True(t, mr.Exists("game:snapshot:"+g.GameID))

	move := "e4"
	mv, err := client.Move(ctx, "", &move)
	require.NoError(t, err)
	require.NotNil(t, mv.Move)

	bad := "e3"
	_, err = client.Move(ctx, g.GameID, &bad)
	require.True(t, chessclient.IsCode(err, chessdto.CodeInvalidMove))

	state, err := client.State(ctx, g.GameID)
	require.NoError(t, err)
	require.Equal(t, 2, state.Ply)

	_, err = client.Resign(ctx, g.GameID)
	require.NoError(t, err)
	games, err := client.RecentGames(ctx, 5)
	require.NoError(t, err)
	require.Len(t, games, 1)

	require.NoError(t, d.Close(context.Background()))
	require.Zero(t, d.Pool.Live())
	require.Zero(t, d.Store.Len())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	require.Error(t, err)

	cfg := testConfig(t)
	cfg.DefaultEngine = "crafty"
	_, err = New(context.Background(), cfg, nil)
	require.ErrorIs(t, err, chess.ErrUnknownEngine)

	cfg = testConfig(t)
	cfg.TraceExporter = "zipkin"
	_, err = New(context.Background(), cfg, nil)
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.RedisURL = "memcached://localhost"
	_, err = New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "snapshot cache")
}
