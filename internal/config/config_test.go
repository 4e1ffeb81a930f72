package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{"STOCKFISH_PATH": " /usr/games/stockfish "}))
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Len(t, cfg.Engines, 1)
	require.Equal(t, "stockfish", cfg.Engines[0].Name)
	require.Equal(t, "/usr/games/stockfish", cfg.Engines[0].Path)
	require.Equal(t, time.Second, cfg.ThinkTimeDefault)
	require.Equal(t, 30*time.Second, cfg.ThinkTimeMax)
	require.Equal(t, 30, cfg.SearchDepthCap)
	require.Equal(t, 1, cfg.MaxSessions)
	require.Equal(t, "none", cfg.TraceExporter)
}

func TestNoEngine(t *testing.T) {
	_, err := LoadFrom(envMap(nil))
	require.ErrorContains(t, err, "no engine configured")
}

func TestDurationsAcceptSecondsAndGoSyntax(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"STOCKFISH_PATH":     "sf",
		"THINK_TIME_DEFAULT": "3",
		"THINK_TIME_MAX":     "1m",
		"BOOK_MOVE_DELAY":    "250ms",
		"MAX_SESSIONS":       "4",
	}))
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, cfg.ThinkTimeDefault)
	require.Equal(t, time.Minute, cfg.ThinkTimeMax)
	require.Equal(t, 250*time.Millisecond, cfg.BookMoveDelay)
	require.Equal(t, 4, cfg.MaxSessions)
}

func TestInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"duration":    {"STOCKFISH_PATH": "sf", "SNAPSHOT_TTL": "soon"},
		"negative":    {"STOCKFISH_PATH": "sf", "SEARCH_DEPTH_CAP": "-1"},
		"default>max": {"STOCKFISH_PATH": "sf", "THINK_TIME_DEFAULT": "40"},
		"sample rate": {"STOCKFISH_PATH": "sf", "TRACE_SAMPLE_RATE": "2"},
		"overflow":    {"STOCKFISH_PATH": "sf", "THINK_TIME_MAX": "18446744074"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(envMap(env))
			require.Error(t, err)
		})
	}
}

func TestEnginesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engines.yaml")
	body := `
default: fairy
engines:
  - name: fairy
    path: /opt/fairy
    args: ["--uci"]
    options:
      threads: 2
      hash_mb: 64
      skill_level: 10
      custom:
        UCI_ShowWDL: "true"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFrom(envMap(map[string]string{"ENGINES_FILE": path, "KOMODO_PATH": "/opt/komodo"}))
	require.NoError(t, err)
	require.Equal(t, "fairy", cfg.DefaultEngine)
	require.Len(t, cfg.Engines, 2)

	fairy := cfg.Engines[0]
	require.Equal(t, []string{"--uci"}, fairy.Args)
	require.Equal(t, 2, fairy.Options.Threads)
	require.Equal(t, 64, fairy.Options.HashMB)
	require.NotNil(t, fairy.Options.SkillLevel)
	require.Equal(t, 10, *fairy.Options.SkillLevel)
	require.Equal(t, "true", fairy.Options.Custom["UCI_ShowWDL"])
	require.Equal(t, "komodo", cfg.Engines[1].Name)
}

func TestEnginesFileMissing(t *testing.T) {
	_, err := LoadFrom(envMap(map[string]string{"ENGINES_FILE": filepath.Join(t.TempDir(), "nope.yaml")}))
	require.ErrorContains(t, err, "read engines file")
}
