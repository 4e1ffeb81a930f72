package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	chesslib "github.com/corentings/chess/v2"
	"pgregory.net/rapid"

	"github.com/park285/Cheese-WebChess/internal/chess"
)

func replay(moves []string) (*chesslib.Game, error) {
	g := chesslib.NewGame()
	for _, mv := range moves {
		if err := g.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay %s: %w", mv, err)
		}
	}
	return g, nil
}

func sortedLegal(g *chesslib.Game) []string {
	set := legalMoveSet(g)
	out := make([]string, 0, len(set))
	for mv := range set {
		out = append(out, mv)
	}
	sort.Strings(out)
	return out
}

// randomEngine plays a uniformly random legal move from a seeded source.
func randomEngine(seed int64) *stubEngine {
	rng := rand.New(rand.NewSource(seed))
	return &stubEngine{reply: func(_ context.Context, req chess.MoveRequest) (chess.MoveResult, error) {
		g, err := replay(req.Moves)
		if err != nil {
			return chess.MoveResult{}, err
		}
		legal := sortedLegal(g)
		return chess.MoveResult{Move: legal[rng.Intn(len(legal))], Source: chess.SourceEngine}, nil
	}}
}

func TestLegalMovesAreAlwaysAccepted(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		human := rapid.SampledFrom([]chesslib.Color{chesslib.White, chesslib.Black}).Draw(r, "human")
		s, err := NewSession(SessionConfig{ID: "prop", Human: human, Engine: randomEngine(rapid.Int64().Draw(r, "seed"))})
		if err != nil {
			r.Fatalf("new session: %v", err)
		}
		defer s.Close()
		ctx := context.Background()

		if human == chesslib.Black {
			if _, err := s.ApplyHumanMove(ctx, nil); err != nil {
				r.Fatalf("engine opening: %v", err)
			}
		}

		steps := rapid.IntRange(1, 15).Draw(r, "steps")
		for i := 0; i < steps; i++ {
			before := s.Snapshot()
			if before.GameOver {
				return
			}
			g, err := replay(before.MovesUCI)
			if err != nil {
				r.Fatalf("%v", err)
			}
			coord := rapid.SampledFrom(sortedLegal(g)).Draw(r, "move")
			text := coord
			if rapid.Bool().Draw(r, "san") {
				text = chesslib.AlgebraicNotation{}.Encode(g.Position(), legalMoveSet(g)[coord])
			}

			out, err := s.ApplyHumanMove(ctx, &text)
			if err != nil {
				r.Fatalf("legal move %q rejected at %s: %v", text, before.FEN, err)
			}
			after := s.Snapshot()
			want := before.Ply + 1
			if out.EngineMoved {
				want++
			}
			if after.Ply != want {
				r.Fatalf("ply %d, want %d", after.Ply, want)
			}
			if after.MovesUCI[before.Ply] != coord {
				r.Fatalf("recorded %s, played %s", after.MovesUCI[before.Ply], coord)
			}
			replayed, err := replay(after.MovesUCI)
			if err != nil {
				r.Fatalf("history is not legal play: %v", err)
			}
			if replayed.FEN() != after.FEN {
				r.Fatalf("board %s does not match history %s", after.FEN, replayed.FEN())
			}
		}
	})
}

func TestIllegalMovesAreRejectedIdempotently(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		s, err := NewSession(SessionConfig{ID: "prop", Human: chesslib.White, Engine: randomEngine(rapid.Int64().Draw(r, "seed"))})
		if err != nil {
			r.Fatalf("new session: %v", err)
		}
		defer s.Close()
		ctx := context.Background()

		warmup := rapid.IntRange(0, 6).Draw(r, "warmup")
		for i := 0; i < warmup && !s.Snapshot().GameOver; i++ {
			g, _ := replay(s.Snapshot().MovesUCI)
			mv := rapid.SampledFrom(sortedLegal(g)).Draw(r, "warmup_move")
			if _, err := s.ApplyHumanMove(ctx, &mv); err != nil {
				r.Fatalf("warmup: %v", err)
			}
		}
		if s.Snapshot().GameOver {
			return
		}

		before := s.Snapshot()
		g, _ := replay(before.MovesUCI)
		legal := legalMoveSet(g)
		candidate := rapid.StringMatching(`[a-h][1-8][a-h][1-8]`).Filter(func(mv string) bool {
			_, ok := legal[mv]
			return !ok
		}).Draw(r, "illegal")

		for i := 0; i < 2; i++ {
			_, err := s.ApplyHumanMove(ctx, &candidate)
			if !errors.Is(err, ErrInvalidMove) {
				r.Fatalf("%s: got %v, want invalid move", candidate, err)
			}
			fen, ok := AuthoritativeFEN(err)
			if !ok || fen != before.FEN {
				r.Fatalf("rejection fen %q, want %q", fen, before.FEN)
			}
			if got := s.Snapshot(); got.FEN != before.FEN || got.Ply != before.Ply {
				r.Fatalf("board changed after rejected move %s", candidate)
			}
		}
	})
}

func TestFENRoundTrip(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		g := chesslib.NewGame()
		plies := rapid.IntRange(0, 40).Draw(r, "plies")
		for i := 0; i < plies && g.Outcome() == chesslib.NoOutcome; i++ {
			mv := rapid.SampledFrom(sortedLegal(g)).Draw(r, "move")
			if err := g.Move(legalMoveSet(g)[mv], nil); err != nil {
				r.Fatalf("%v", err)
			}
		}
		fen := g.FEN()
		opt, err := chesslib.FEN(fen)
		if err != nil {
			r.Fatalf("parse %s: %v", fen, err)
		}
		if again := chesslib.NewGame(opt).FEN(); again != fen {
			r.Fatalf("round trip %s -> %s", fen, again)
		}
	})
}

func TestEngineOutputNeverBypassesLegality(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		reply := rapid.StringMatching(`[a-h][1-8][a-h][1-8][qrbn]?`).Draw(r, "reply")
		eng := &stubEngine{script: []string{reply}}
		s, err := NewSession(SessionConfig{ID: "prop", Human: chesslib.White, Engine: eng})
		if err != nil {
			r.Fatalf("new session: %v", err)
		}
		defer s.Close()

		move := "e2e4"
		out, err := s.ApplyHumanMove(context.Background(), &move)
		g, _ := replay([]string{"e2e4"})
		_, legal := legalMoveSet(g)[reply]
		switch {
		case legal && err != nil:
			r.Fatalf("legal reply %s refused: %v", reply, err)
		case !legal && !errors.Is(err, ErrEngineUnavailable):
			r.Fatalf("illegal reply %s accepted: %+v", reply, out)
		case !legal && s.Snapshot().Ply != 1:
			r.Fatalf("illegal reply changed the board")
		}
	})
}
