package chess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-WebChess/internal/chess/uci"
)

func TestRegistryDefaultsAndLookup(t *testing.T) {
	reg, err := NewRegistry([]EngineProfile{
		{Name: "Stockfish", Path: "/usr/bin/stockfish"},
		{Name: "komodo", Path: "/opt/komodo"},
	}, "")
	require.NoError(t, err)
	require.Equal(t, "stockfish", reg.Default())
	require.Equal(t, []string{"Stockfish", "komodo"}, reg.Names())

	p, err := reg.Get("")
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/stockfish", p.Path)

	p, err = reg.Get(" KOMODO ")
	require.NoError(t, err)
	require.Equal(t, "komodo", p.Name)

	_, err = reg.Get("simply")
	require.ErrorIs(t, err, ErrUnknownEngine)
}

func TestRegistryRejectsBadProfiles(t *testing.T) {
	_, err := NewRegistry(nil, "")
	require.Error(t, err)

	_, err = NewRegistry([]EngineProfile{{Name: "a", Path: "/a"}, {Name: "A", Path: "/b"}}, "")
	require.Error(t, err)

	_, err = NewRegistry([]EngineProfile{{Name: "a"}}, "")
	require.Error(t, err)

	skill := 40
	_, err = NewRegistry([]EngineProfile{{Name: "a", Path: "/a", Options: uci.Options{SkillLevel: &skill}}}, "")
	require.Error(t, err)

	_, err = NewRegistry([]EngineProfile{{Name: "a", Path: "/a"}}, "b")
	require.ErrorIs(t, err, ErrUnknownEngine)
}

func TestBudgetGoCommand(t *testing.T) {
	got, err := SearchBudget{ThinkTime: 2 * time.Second, DepthCap: 30}.GoCommand()
	require.NoError(t, err)
	require.Equal(t, "go depth 30 movetime 2000", got)

	_, err = SearchBudget{}.GoCommand()
	require.Error(t, err)
	_, err = SearchBudget{ThinkTime: -time.Second}.GoCommand()
	require.Error(t, err)
}

func TestParseThinkTime(t *testing.T) {
	d, err := ParseThinkTime("", time.Second, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, time.Second, d)

	d, err = ParseThinkTime(" 5 ", time.Second, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, d)

	for _, raw := range []string{"abc", "0", "-2", "31", "1.5", "18446744074", "9223372037"} {
		_, err := ParseThinkTime(raw, time.Second, 30*time.Second)
		require.ErrorIs(t, err, ErrInvalidThinkTime, raw)
	}

	_, err = ParseThinkTime("9223372037", time.Second, 0)
	require.ErrorIs(t, err, ErrInvalidThinkTime)
	d, err = ParseThinkTime("3600", time.Second, 0)
	require.NoError(t, err)
	require.Equal(t, time.Hour, d)
}
