package archive

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sampleGame(id string, ended time.Time) *Game {
	return &Game{
		GameID:      id,
		Engine:      "stockfish",
		Orientation: "white",
		Result:      "1-0",
		Method:      "checkmate",
		MovesUCI:    []string{"f2f3", "e7e5", "g2g4", "d8h4"},
		MovesSAN:    []string{"f3", "e5", "g4", "Qh4#"},
		PGN:         "1. f3 e5 2. g4 Qh4# 0-1",
		StartedAt:   ended.Add(-time.Minute),
		EndedAt:     ended,
	}
}

func exerciseRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	first := uuid.NewString()
	id1, err := repo.InsertGame(ctx, sampleGame(first, base))
	require.NoError(t, err)
	require.NotZero(t, id1)

	_, err = repo.InsertGame(ctx, sampleGame(first, base))
	require.ErrorIs(t, err, ErrDuplicateGame)

	id2, err := repo.InsertGame(ctx, sampleGame(uuid.NewString(), base.Add(time.Minute)))
	require.NoError(t, err)

	got, err := repo.GetGame(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, first, got.GameID)
	require.Equal(t, []string{"f3", "e5", "g4", "Qh4#"}, got.MovesSAN)
	require.Equal(t, time.Minute, got.Duration())

	recent, err := repo.RecentGames(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, id2, recent[0].ID)

	_, err = repo.GetGame(ctx, 1<<40)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemory())
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemory()
	g := sampleGame("copy", time.Now())
	id, err := repo.InsertGame(context.Background(), g)
	require.NoError(t, err)
	g.MovesSAN[0] = "mutated"

	got, err := repo.GetGame(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "f3", got.MovesSAN[0])
}

func TestPostgresRepository(t *testing.T) {
	url := os.Getenv("ARCHIVE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ARCHIVE_TEST_DATABASE_URL not set")
	}
	repo, err := OpenPostgres(context.Background(), url)
	require.NoError(t, err)
	defer repo.Close()
	exerciseRepository(t, repo)
}

func TestDTO(t *testing.T) {
	g := sampleGame("dto", time.Now())
	d := g.DTO()
	require.Equal(t, int64(60000), d.DurationMS)
	require.Equal(t, "1-0", d.Result)
}
