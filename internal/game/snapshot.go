package game

import (
	chesslib "github.com/corentings/chess/v2"

	"github.com/park285/Cheese-WebChess/internal/chess/openingbook"
	"github.com/park285/Cheese-WebChess/pkg/chessdto"
)

var pieceValues = map[chesslib.PieceType]int{
	chesslib.Pawn:   1,
	chesslib.Knight: 3,
	chesslib.Bishop: 3,
	chesslib.Rook:   5,
	chesslib.Queen:  9,
}

// view is everything read-only endpoints need. It is replaced wholesale by
// the worker after each change and read without locks.
type view struct {
	state    chessdto.GameState
	pgn      string
	lastFrom string
	lastTo   string
}

func computeMaterial(pos *chesslib.Position) chessdto.MaterialScore {
	var score chessdto.MaterialScore
	if pos == nil {
		return score
	}
	board := pos.Board()
	for file := chesslib.FileA; file <= chesslib.FileH; file++ {
		for rank := chesslib.Rank1; rank <= chesslib.Rank8; rank++ {
			piece := board.Piece(chesslib.NewSquare(file, rank))
			if piece == chesslib.NoPiece {
				continue
			}
			switch piece.Color() {
			case chesslib.White:
				score.White += pieceValues[piece.Type()]
			case chesslib.Black:
				score.Black += pieceValues[piece.Type()]
			}
		}
	}
	return score
}

func (s *Session) buildView() *view {
	pos := s.game.Position()
	outcome := s.game.Outcome()
	eco, title := openingbook.OpeningName(s.movesUCI)

	v := &view{
		state: chessdto.GameState{
			GameID:      s.id,
			FEN:         s.game.FEN(),
			MovesSAN:    append([]string{}, s.movesSAN...),
			MovesUCI:    append([]string{}, s.movesUCI...),
			Orientation: colorName(s.human),
			Turn:        colorName(pos.Turn()),
			Ply:         len(s.movesUCI),
			GameOver:    outcome != chesslib.NoOutcome,
			Outcome:     outcome.String(),
			Method:      methodName(s.game.Method()),
			Engine:      s.engine.Name(),
			EngineAlive: !s.engineDead,
			Book:        s.engine.BookName(),
			ECO:         eco,
			Opening:     title,
			Material:    computeMaterial(pos),
			StartedAt:   s.startedAt,
			UpdatedAt:   s.now(),
		},
		pgn: buildPGN(s.pgnHeader(), s.movesSAN),
	}
	if n := len(s.movesUCI); n > 0 {
		last := s.movesUCI[n-1]
		v.lastFrom, v.lastTo = last[0:2], last[2:4]
	}
	return v
}

func (s *Session) pgnHeader() pgnHeader {
	h := pgnHeader{Date: s.startedAt, Result: s.game.Outcome().String(), Termination: methodName(s.game.Method())}
	if s.human == chesslib.White {
		h.White, h.Black = "Player", s.engine.Name()
	} else {
		h.White, h.Black = s.engine.Name(), "Player"
	}
	return h
}
