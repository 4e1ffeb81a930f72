package render

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	chesslib "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed pieces/*.svg
var pieceFiles embed.FS

type pieceCacheKey struct {
	piece chesslib.Piece
	size  int
}

type pieceCache struct {
	mu     sync.RWMutex
	images map[pieceCacheKey]image.Image
}

func newPieceCache() *pieceCache {
	return &pieceCache{images: make(map[pieceCacheKey]image.Image)}
}

func (c *pieceCache) get(piece chesslib.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	c.mu.RLock()
	if img, ok := c.images[key]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	img, err := rasterizePiece(piece, size)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.images[key] = img
	c.mu.Unlock()
	return img, nil
}

func rasterizePiece(piece chesslib.Piece, size int) (image.Image, error) {
	name, err := pieceAssetName(piece)
	if err != nil {
		return nil, err
	}
	data, err := pieceFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read piece asset %s: %w", name, err)
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(paintPiece(data, piece.Color())))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg %s: %w", name, err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)
	return img, nil
}

var (
	whitePiecePaint = strings.NewReplacer("{{fill}}", "#f9f9f9", "{{stroke}}", "#1b1b1b")
	blackPiecePaint = strings.NewReplacer("{{fill}}", "#2b2b2b", "{{stroke}}", "#0d0d0d")
)

// paintPiece fills the color placeholders shared by both sides' assets.
func paintPiece(svg []byte, c chesslib.Color) []byte {
	if c == chesslib.White {
		return []byte(whitePiecePaint.Replace(string(svg)))
	}
	return []byte(blackPiecePaint.Replace(string(svg)))
}

func pieceAssetName(piece chesslib.Piece) (string, error) {
	var name string
	switch piece.Type() {
	case chesslib.King:
		name = "king"
	case chesslib.Queen:
		name = "queen"
	case chesslib.Rook:
		name = "rook"
	case chesslib.Bishop:
		name = "bishop"
	case chesslib.Knight:
		name = "knight"
	case chesslib.Pawn:
		name = "pawn"
	default:
		return "", fmt.Errorf("no asset for piece %v", piece)
	}
	return "pieces/" + name + ".svg", nil
}
