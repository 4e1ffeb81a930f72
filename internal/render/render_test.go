package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	chesslib "github.com/corentings/chess/v2"
	"github.com/stretchr/testify/require"
)

var startFEN = chesslib.NewGame().FEN()

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func luminance(c color.Color) uint32 {
	r, g, b, _ := c.RGBA()
	return (299*(r>>8) + 587*(g>>8) + 114*(b>>8)) / 1000
}

// rookBody samples the middle of the piece drawn on the top-left square.
func rookBody(img image.Image) color.Color {
	return img.At(margin+squareSize/2, margin+squareSize*26/45)
}

func TestRenderNaturalSize(t *testing.T) {
	out, err := New().RenderPNG(context.Background(), startFEN, Options{})
	require.NoError(t, err)
	img := decode(t, out)
	require.Equal(t, image.Rect(0, 0, NaturalSize, NaturalSize), img.Bounds())
}

func TestRenderOrientation(t *testing.T) {
	r := New()

	out, err := r.RenderPNG(context.Background(), startFEN, Options{Orientation: chesslib.White})
	require.NoError(t, err)
	require.Less(t, luminance(rookBody(decode(t, out))), uint32(90), "black rook on a8 at the top for white")

	out, err = r.RenderPNG(context.Background(), startFEN, Options{Orientation: chesslib.Black})
	require.NoError(t, err)
	require.Greater(t, luminance(rookBody(decode(t, out))), uint32(180), "white rook on h1 at the top for black")
}

func TestRenderHighlightsLastMove(t *testing.T) {
	g := chesslib.NewGame()
	require.NoError(t, g.PushNotationMove("e2e4", chesslib.UCINotation{}, nil))
	fen := g.FEN()
	r := New()

	plain, err := r.RenderPNG(context.Background(), fen, Options{})
	require.NoError(t, err)
	marked, err := r.RenderPNG(context.Background(), fen, Options{LastFrom: "e2", LastTo: "e4"})
	require.NoError(t, err)

	e2 := layout{origin: image.Pt(margin, margin)}.squareRect(chesslib.NewSquare(chesslib.FileE, chesslib.Rank2))
	corner := image.Pt(e2.Min.X+3, e2.Min.Y+3)
	require.NotEqual(t, decode(t, plain).At(corner.X, corner.Y), decode(t, marked).At(corner.X, corner.Y))
}

func TestRenderScales(t *testing.T) {
	out, err := New().RenderPNG(context.Background(), startFEN, Options{Size: 280})
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 280, 280), decode(t, out).Bounds())
}

func TestRenderRejectsBadInput(t *testing.T) {
	r := New()

	_, err := r.RenderPNG(context.Background(), startFEN, Options{Size: 64})
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = r.RenderPNG(context.Background(), startFEN, Options{Size: MaxSize + 1})
	require.ErrorIs(t, err, ErrInvalidSize)

	_, err = r.RenderPNG(context.Background(), "not a fen", Options{})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.RenderPNG(ctx, startFEN, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseSquare(t *testing.T) {
	sq, ok := parseSquare("e4")
	require.True(t, ok)
	require.Equal(t, chesslib.NewSquare(chesslib.FileE, chesslib.Rank4), sq)

	for _, bad := range []string{"", "e", "i1", "a9", "E4", "e44"} {
		_, ok := parseSquare(bad)
		require.False(t, ok, bad)
	}
}

func TestEveryPieceHasAnAsset(t *testing.T) {
	cache := newPieceCache()
	for _, pt := range []chesslib.PieceType{chesslib.King, chesslib.Queen, chesslib.Rook, chesslib.Bishop, chesslib.Knight, chesslib.Pawn} {
		for _, c := range []chesslib.Color{chesslib.White, chesslib.Black} {
			img, err := cache.get(chesslib.NewPiece(pt, c), 48)
			require.NoError(t, err)
			require.Equal(t, image.Rect(0, 0, 48, 48), img.Bounds())
		}
	}
}
