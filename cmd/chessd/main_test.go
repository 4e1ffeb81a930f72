package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	chesslib "github.com/corentings/chess/v2"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-WebChess/internal/chess/uci/ucitest"
)

func TestMain(m *testing.M) {
	ucitest.MainIfHelper()
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeStartBook(t *testing.T) string {
	t.Helper()
	hash, err := chesslib.NewZobristHasher().HashPosition(chesslib.NewGame().FEN())
	require.NoError(t, err)
	key := chesslib.ZobristHashToUint64(hash)

	var buf bytes.Buffer
	for _, e := range []struct{ move, weight uint16 }{
		{move: 4<<6 | 1<<9 | 4 | 3<<3, weight: 9}, // e2e4
		{move: 3<<6 | 1<<9 | 3 | 3<<3, weight: 3}, // d2d4
	} {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, key))
		require.NoError(t, binary.Write(&buf, binary.BigEndian, e.move))
		require.NoError(t, binary.Write(&buf, binary.BigEndian, e.weight))
		require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(0)))
	}
	path := filepath.Join(t.TempDir(), "tiny.bin")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestBookListsEntries(t *testing.T) {
	path := writeStartBook(t)

	out, err := run(t, "book", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[1], "e2e4")
	require.Contains(t, lines[1], "9")
	require.Contains(t, lines[2], "d2d4")

	out, err = run(t, "book", path, "--moves", "e2e4")
	require.NoError(t, err)
	require.Contains(t, out, "no entries")

	_, err = run(t, "book", filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
}

func TestProbePrintsIdentity(t *testing.T) {
	path, args, env := ucitest.Command(ucitest.Normal)
	file := filepath.Join(t.TempDir(), "engines.yaml")
	body := "default: fake\nengines:\n  - name: fake\n    path: " + path +
		"\n    args: [\"" + strings.Join(args, `","`) + "\"]\n    env: [\"" + strings.Join(env, `","`) + "\"]\n"
	require.NoError(t, os.WriteFile(file, []byte(body), 0o644))
	t.Setenv("ENGINES_FILE", file)
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("THINK_TIME_DEFAULT", "1s")
	t.Setenv("SEARCH_DEPTH_CAP", "30")

	out, err := run(t, "probe")
	require.NoError(t, err)
	require.Contains(t, out, "fake")
	require.Contains(t, out, ucitest.Name)
	require.Contains(t, out, ucitest.Author)
	require.Contains(t, out, "search:  go depth 30 movetime 1000")
	require.Contains(t, out, "ready:   ok")

	_, err = run(t, "probe", "crafty")
	require.ErrorContains(t, err, "unknown engine")
}

func TestPick(t *testing.T) {
	names := []string{"komodo", "stockfish"}
	require.Equal(t, names, pick(names, ""))
	require.Equal(t, []string{"stockfish"}, pick(names, "Stockfish"))
	require.Nil(t, pick(names, "crafty"))
}
