// Package render draws board diagrams as PNG images.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"math"
	"strings"

	chesslib "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize = 64
	margin     = 24
	// NaturalSize is the edge length of an unscaled diagram.
	NaturalSize = squareSize*8 + margin*2
	MinSize     = 128
	MaxSize     = 1024
)

var ErrInvalidSize = errors.New("render: size out of range")

type Options struct {
	// Orientation is the side drawn at the bottom.
	Orientation chesslib.Color
	// LastFrom and LastTo name the squares of the previous ply, e.g. "e2".
	LastFrom string
	LastTo   string
	// Size is the output edge in pixels. Zero means NaturalSize.
	Size int
}

type Renderer struct {
	pieces *pieceCache
}

func New() *Renderer {
	return &Renderer{pieces: newPieceCache()}
}

// RenderPNG draws the position described by fen.
func (r *Renderer) RenderPNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	size := opts.Size
	if size == 0 {
		size = NaturalSize
	}
	if size < MinSize || size > MaxSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if opts.Orientation != chesslib.Black {
		opts.Orientation = chesslib.White
	}

	pos, err := chesslib.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("render: parse fen: %w", err)
	}
	board := chesslib.NewGame(pos).Position().Board()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := layout{origin: image.Pt(margin, margin), flipped: opts.Orientation == chesslib.Black}
	img := image.NewRGBA(image.Rect(0, 0, NaturalSize, NaturalSize))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	l.drawSquares(img)
	from, fromOK := parseSquare(opts.LastFrom)
	to, toOK := parseSquare(opts.LastTo)
	moved := fromOK && toOK && from != to
	if moved {
		l.drawSquareOverlay(img, from, lastMoveFill)
		l.drawSquareOverlay(img, to, lastMoveFill)
	}
	if err := l.drawPieces(img, board, r.pieces); err != nil {
		return nil, err
	}
	if moved && moverColor(board, from, to) != opts.Orientation {
		l.drawArrow(img, from, to, opponentArrow)
	}
	l.drawCoordinates(img)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out image.Image = img
	if size != NaturalSize {
		scaled := image.NewRGBA(image.Rect(0, 0, size, size))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	backgroundColor     = color.RGBA{38, 36, 33, 255}
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	lastMoveFill        = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	opponentArrow       = color.NRGBA{R: 148, G: 207, B: 255, A: 170}
	coordinateTextColor = color.NRGBA{R: 214, G: 206, B: 190, A: 255}
)

var (
	ranksTopDown  = []chesslib.Rank{chesslib.Rank8, chesslib.Rank7, chesslib.Rank6, chesslib.Rank5, chesslib.Rank4, chesslib.Rank3, chesslib.Rank2, chesslib.Rank1}
	filesLeftward = []chesslib.File{chesslib.FileA, chesslib.FileB, chesslib.FileC, chesslib.FileD, chesslib.FileE, chesslib.FileF, chesslib.FileG, chesslib.FileH}
)

type layout struct {
	origin  image.Point
	flipped bool
}

// cell maps a square to its column and row on screen.
func (l layout) cell(sq chesslib.Square) (col, row int) {
	col, row = int(sq.File()), 7-int(sq.Rank())
	if l.flipped {
		col, row = 7-col, 7-row
	}
	return col, row
}

func (l layout) squareRect(sq chesslib.Square) image.Rectangle {
	col, row := l.cell(sq)
	x := l.origin.X + col*squareSize
	y := l.origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func (l layout) drawSquares(dst imagedraw.Image) {
	for _, rank := range ranksTopDown {
		for _, file := range filesLeftward {
			sq := chesslib.NewSquare(file, rank)
			imagedraw.Draw(dst, l.squareRect(sq), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
		}
	}
}

func (l layout) drawPieces(dst imagedraw.Image, board *chesslib.Board, cache *pieceCache) error {
	for _, rank := range ranksTopDown {
		for _, file := range filesLeftward {
			sq := chesslib.NewSquare(file, rank)
			piece := board.Piece(sq)
			if piece == chesslib.NoPiece {
				continue
			}
			img, err := cache.get(piece, squareSize)
			if err != nil {
				return err
			}
			imagedraw.Draw(dst, l.squareRect(sq), img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func (l layout) drawSquareOverlay(img *image.RGBA, sq chesslib.Square, clr color.Color) {
	imagedraw.Draw(img, l.squareRect(sq), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func (l layout) drawArrow(img *image.RGBA, from, to chesslib.Square, clr color.Color) {
	a, b := l.squareRect(from), l.squareRect(to)
	start := pointF{X: float64(a.Min.X + squareSize/2), Y: float64(a.Min.Y + squareSize/2)}
	end := pointF{X: float64(b.Min.X + squareSize/2), Y: float64(b.Min.Y + squareSize/2)}

	dx, dy := end.X-start.X, end.Y-start.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	dirX, dirY := dx/length, dy/length
	perpX, perpY := -dirY, dirX

	baseLength := length - squareSize*0.45
	if baseLength < squareSize*0.35 {
		baseLength = length * 0.6
	}
	halfWidth := squareSize * 0.12
	headHalf := squareSize * 0.24

	base := pointF{X: start.X + dirX*baseLength, Y: start.Y + dirY*baseLength}
	offset := func(p pointF, w float64) pointF { return pointF{X: p.X + perpX*w, Y: p.Y + perpY*w} }

	fillTriangle(img, offset(start, -halfWidth), offset(start, halfWidth), offset(base, halfWidth), clr)
	fillTriangle(img, offset(start, -halfWidth), offset(base, halfWidth), offset(base, -halfWidth), clr)
	fillTriangle(img, end, offset(base, -headHalf), offset(base, headHalf), clr)
}

func (l layout) drawCoordinates(dst imagedraw.Image) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Face: face, Src: image.NewUniform(coordinateTextColor)}
	ascent := face.Metrics().Ascent.Ceil()
	boardEnd := l.origin.Y + 8*squareSize

	for _, rank := range ranksTopDown {
		_, row := l.cell(chesslib.NewSquare(chesslib.FileA, rank))
		center := l.origin.Y + row*squareSize + squareSize/2
		drawCenteredText(drawer, rank.String(), l.origin.X-margin/2, center+ascent/2)
	}
	for _, file := range filesLeftward {
		col, _ := l.cell(chesslib.NewSquare(file, chesslib.Rank1))
		center := l.origin.X + col*squareSize + squareSize/2
		drawCenteredText(drawer, file.String(), center, boardEnd+(margin+ascent)/2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func squareColor(sq chesslib.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

// moverColor reports which side made the move that ended on to.
func moverColor(board *chesslib.Board, from, to chesslib.Square) chesslib.Color {
	if p := board.Piece(to); p != chesslib.NoPiece {
		return p.Color()
	}
	if p := board.Piece(from); p != chesslib.NoPiece {
		return p.Color()
	}
	return chesslib.NoColor
}

// parseSquare accepts a lowercase square name such as "e4".
func parseSquare(name string) (chesslib.Square, bool) {
	if len(name) != 2 || name[0] < 'a' || name[0] > 'h' || name[1] < '1' || name[1] > '8' {
		return chesslib.A1, false
	}
	return chesslib.NewSquare(chesslib.File(name[0]-'a'), chesslib.Rank(name[1]-'1')), true
}

type pointF struct {
	X float64
	Y float64
}

func fillTriangle(img *image.RGBA, a, b, c pointF, clr color.Color) {
	minX := int(math.Floor(math.Min(a.X, math.Min(b.X, c.X))))
	maxX := int(math.Ceil(math.Max(a.X, math.Max(b.X, c.X))))
	minY := int(math.Floor(math.Min(a.Y, math.Min(b.Y, c.Y))))
	maxY := int(math.Ceil(math.Max(a.Y, math.Max(b.Y, c.Y))))
	src := image.NewUniform(clr)

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if insideTriangle(float64(x)+0.5, float64(y)+0.5, a, b, c) {
				imagedraw.Draw(img, image.Rect(x, y, x+1, y+1), src, image.Point{}, imagedraw.Over)
			}
		}
	}
}

func insideTriangle(x, y float64, a, b, c pointF) bool {
	denom := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if denom == 0 {
		return false
	}
	alpha := ((b.Y-c.Y)*(x-c.X) + (c.X-b.X)*(y-c.Y)) / denom
	beta := ((c.Y-a.Y)*(x-c.X) + (a.X-c.X)*(y-c.Y)) / denom
	return alpha >= 0 && beta >= 0 && 1-alpha-beta >= 0
}
