package game

import (
	"fmt"
	"regexp"
	"strings"

	chesslib "github.com/corentings/chess/v2"
)

var (
	coordinateGrammar = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)
	sanGrammar        = regexp.MustCompile(`^(?:O-O(?:-O)?|[KQRBN][a-h]?[1-8]?x?[a-h][1-8]|[a-h](?:x[a-h])?[1-8](?:=?[QRBN])?)[+#]?[!?]{0,2}$`)
	sanPromotion      = regexp.MustCompile(`^([a-h](?:x[a-h])?[18])([QRBN])`)
)

// Notation reports which grammar a move text matched.
type Notation int

const (
	NotationUnknown Notation = iota
	NotationSAN
	NotationCoordinate
)

// classifyMove normalises text and picks its grammar. Text that matches
// neither is not a move at all.
func classifyMove(raw string) (string, Notation) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", NotationUnknown
	}
	if lower := strings.ToLower(text); coordinateGrammar.MatchString(lower) {
		return lower, NotationCoordinate
	}
	text = strings.ReplaceAll(text, "0-0-0", "O-O-O")
	text = strings.ReplaceAll(text, "0-0", "O-O")
	if sanGrammar.MatchString(text) {
		text = strings.TrimRight(text, "!?")
		if !strings.Contains(text, "=") {
			text = sanPromotion.ReplaceAllString(text, "$1=$2")
		}
		return text, NotationSAN
	}
	return "", NotationUnknown
}

// decodeMove turns client text into a legal move for pos. Errors wrap
// ErrIncompatibleClient for ungrammatical text and ErrInvalidMove for
// grammatical text that is not legal.
func decodeMove(pos *chesslib.Position, legal map[string]*chesslib.Move, raw string) (*chesslib.Move, error) {
	text, kind := classifyMove(raw)
	var (
		mv  *chesslib.Move
		err error
	)
	switch kind {
	case NotationCoordinate:
		mv, err = chesslib.UCINotation{}.Decode(pos, text)
	case NotationSAN:
		mv, err = chesslib.AlgebraicNotation{}.Decode(pos, text)
	default:
		return nil, fmt.Errorf("%w: %q is not a move in SAN or coordinate notation", ErrIncompatibleClient, raw)
	}
	if err != nil || mv == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMove, strings.TrimSpace(raw))
	}
	legalMove, ok := legal[mv.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMove, strings.TrimSpace(raw))
	}
	return legalMove, nil
}

func legalMoveSet(g *chesslib.Game) map[string]*chesslib.Move {
	moves := g.ValidMoves()
	set := make(map[string]*chesslib.Move, len(moves))
	for i := range moves {
		mv := moves[i]
		set[mv.String()] = &mv
	}
	return set
}
