package openingbook

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	chesslib "github.com/corentings/chess/v2"
	"github.com/stretchr/testify/require"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type polyEntry struct {
	move   uint16
	weight uint16
}

func polyMove(from, to string) uint16 {
	file := func(sq string) uint16 { return uint16(sq[0] - 'a') }
	rank := func(sq string) uint16 { return uint16(sq[1] - '1') }
	return file(to) | rank(to)<<3 | file(from)<<6 | rank(from)<<9
}

func startKey(t *testing.T) uint64 {
	t.Helper()
	hash, err := chesslib.NewZobristHasher().HashPosition(startFEN)
	require.NoError(t, err)
	return chesslib.ZobristHashToUint64(hash)
}

func writeBook(t *testing.T, key uint64, entries []polyEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, e := range entries {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, key))
		require.NoError(t, binary.Write(&buf, binary.BigEndian, e.move))
		require.NoError(t, binary.Write(&buf, binary.BigEndian, e.weight))
		require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(0)))
	}
	return buf.Bytes()
}

func testBook(t *testing.T) *Book {
	t.Helper()
	raw := writeBook(t, startKey(t), []polyEntry{
		{move: polyMove("e2", "e4"), weight: 10},
		{move: polyMove("d2", "d4"), weight: 5},
		{move: polyMove("e2", "e5"), weight: 50},
	})
	b, err := Load(bytes.NewReader(raw), "test.bin")
	require.NoError(t, err)
	return b
}

func TestEntriesSkipsIllegalAndSortsByWeight(t *testing.T) {
	b := testBook(t)

	entries, err := b.Entries("startpos", nil)
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Move: "e2e4", SAN: "e4", Weight: 10},
		{Move: "d2d4", SAN: "d4", Weight: 5},
	}, entries)
}

func TestEntriesMissAfterBookEnds(t *testing.T) {
	b := testBook(t)

	entries, err := b.Entries("startpos", []string{"e2e4"})
	require.NoError(t, err)
	require.Empty(t, entries)

	_, ok, err := b.Choose("startpos", []string{"e2e4"}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChooseReturnsBookMove(t *testing.T) {
	b := testBook(t)
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		entry, ok, err := b.Choose("startpos", nil, r)
		require.NoError(t, err)
		require.True(t, ok)
		require.Contains(t, []string{"e2e4", "d2d4"}, entry.Move)
	}
}

func TestWeightedChoiceIgnoresZeroWeights(t *testing.T) {
	entries := []Entry{{Move: "a", Weight: 0}, {Move: "b", Weight: 3}}
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		require.Equal(t, "b", weightedChoice(entries, r).Move)
	}
	require.Equal(t, "a", weightedChoice(entries, nil).Move)
}

func TestLibraryResolvesInsideDirectory(t *testing.T) {
	dir := t.TempDir()
	raw := writeBook(t, startKey(t), []polyEntry{{move: polyMove("e2", "e4"), weight: 1}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.bin"), raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	lib := NewLibrary(dir)
	names, err := lib.List()
	require.NoError(t, err)
	require.Equal(t, []string{"small.bin"}, names)

	b, err := lib.Get("small.bin")
	require.NoError(t, err)
	require.Equal(t, "small.bin", b.Name())
	again, err := lib.Get("small.bin")
	require.NoError(t, err)
	require.Same(t, b, again)

	none, err := lib.Get(NoBook)
	require.NoError(t, err)
	require.Nil(t, none)

	for _, bad := range []string{"../small.bin", "missing.bin", "notes.txt", ".bin"} {
		_, err := lib.Get(bad)
		require.ErrorIs(t, err, ErrUnknownBook, bad)
	}
}

func TestListMissingDirectory(t *testing.T) {
	names, err := NewLibrary(filepath.Join(t.TempDir(), "absent")).List()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestOpeningName(t *testing.T) {
	code, title := OpeningName([]string{"e2e4", "c7c5"})
	require.NotEmpty(t, code)
	require.Contains(t, title, "Sicilian")

	code, _ = OpeningName(nil)
	require.Empty(t, code)
}
