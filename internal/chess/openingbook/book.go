package openingbook

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

// NoBook is the form value that disables book play.
const NoBook = "no-book"

var ErrUnknownBook = errors.New("unknown opening book")

// polyglot encodes castling as king-takes-rook.
var polyglotCastles = map[string]string{
	"e1h1": "e1g1",
	"e1a1": "e1c1",
	"e8h8": "e8g8",
	"e8a8": "e8c8",
}

type Entry struct {
	Move   string
	SAN    string
	Weight uint16
}

// Book is a loaded polyglot opening book.
type Book struct {
	name string
	poly *chesslib.PolyglotBook
}

func Open(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer file.Close()
	return Load(file, filepath.Base(path))
}

func Load(r io.Reader, name string) (*Book, error) {
	poly, err := chesslib.LoadFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", name, err)
	}
	return &Book{name: name, poly: poly}, nil
}

func (b *Book) Name() string { return b.name }

// Entries returns the legal book moves for the position reached from fen by
// moves (coordinate notation), heaviest first.
func (b *Book) Entries(fen string, moves []string) ([]Entry, error) {
	game, err := buildGameFromPosition(fen, moves)
	if err != nil {
		return nil, err
	}

	hashStr, err := chesslib.NewZobristHasher().HashPosition(game.FEN())
	if err != nil {
		return nil, fmt.Errorf("compute polyglot hash: %w", err)
	}
	raw := b.poly.FindMoves(chesslib.ZobristHashToUint64(hashStr))
	if len(raw) == 0 {
		return nil, nil
	}

	legal := legalMoves(game)
	pos := game.Position()
	seen := make(map[string]struct{}, len(raw))
	out := make([]Entry, 0, len(raw))
	for _, entry := range raw {
		move := chesslib.DecodeMove(entry.Move).ToMove()
		uciMove := move.String()
		if _, ok := legal[uciMove]; !ok {
			castle, isCastle := polyglotCastles[uciMove]
			if !isCastle {
				continue
			}
			if _, ok := legal[castle]; !ok {
				continue
			}
			uciMove = castle
		}
		if _, dup := seen[uciMove]; dup {
			continue
		}
		seen[uciMove] = struct{}{}

		decoded, err := chesslib.UCINotation{}.Decode(pos, uciMove)
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Move:   uciMove,
			SAN:    chesslib.AlgebraicNotation{}.Encode(pos, decoded),
			Weight: entry.Weight,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight == out[j].Weight {
			return out[i].Move < out[j].Move
		}
		return out[i].Weight > out[j].Weight
	})
	return out, nil
}

// Choose picks a book move with probability proportional to its weight. When
// every weight is zero the choice is uniform.
func (b *Book) Choose(fen string, moves []string, r *rand.Rand) (Entry, bool, error) {
	entries, err := b.Entries(fen, moves)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return weightedChoice(entries, r), true, nil
}

func weightedChoice(entries []Entry, r *rand.Rand) Entry {
	if r == nil {
		return entries[0]
	}
	total := 0
	for _, e := range entries {
		total += int(e.Weight)
	}
	if total <= 0 {
		return entries[r.Intn(len(entries))]
	}
	roll := r.Intn(total)
	cumulative := 0
	for _, e := range entries {
		cumulative += int(e.Weight)
		if roll < cumulative {
			return e
		}
	}
	return entries[len(entries)-1]
}

// Library resolves book names inside one directory and caches loaded books.
type Library struct {
	dir string

	mu    sync.Mutex
	books map[string]*Book
}

func NewLibrary(dir string) *Library {
	return &Library{dir: dir, books: make(map[string]*Book)}
}

func (l *Library) Dir() string { return l.dir }

// List returns the book file names available in the directory.
func (l *Library) List() ([]string, error) {
	if strings.TrimSpace(l.dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read book dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".bin") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Get loads the named book. An empty name or NoBook returns nil without error.
func (l *Library) Get(name string) (*Book, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == NoBook {
		return nil, nil
	}
	if filepath.Base(name) != name || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".bin") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBook, name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.books[name]; ok {
		return b, nil
	}
	path := filepath.Join(l.dir, name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBook, name)
	}
	b, err := Open(path)
	if err != nil {
		return nil, err
	}
	l.books[name] = b
	return b, nil
}

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// OpeningName names the opening reached by moves (coordinate notation from the
// initial position), or returns empty strings when none matches.
func OpeningName(moves []string) (code, title string) {
	if len(moves) == 0 {
		return "", ""
	}
	game, err := buildGameFromPosition("startpos", moves)
	if err != nil {
		return "", ""
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	if eco := ecoBook.Find(game.Moves()); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}

func legalMoves(game *chesslib.Game) map[string]struct{} {
	moves := game.ValidMoves()
	set := make(map[string]struct{}, len(moves))
	for _, mv := range moves {
		set[mv.String()] = struct{}{}
	}
	return set
}

func buildGameFromPosition(fen string, moves []string) (*chesslib.Game, error) {
	var game *chesslib.Game
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		game = chesslib.NewGame()
	} else {
		option, err := chesslib.FEN(fen)
		if err != nil {
			return nil, fmt.Errorf("parse fen %q: %w", fen, err)
		}
		game = chesslib.NewGame(option)
	}

	for _, mv := range moves {
		if err := game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("apply move %q: %w", mv, err)
		}
	}
	return game, nil
}
