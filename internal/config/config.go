package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/Cheese-WebChess/internal/chess"
)

type AppConfig struct {
	HTTPAddr string

	Engines        []chess.EngineProfile
	DefaultEngine  string
	EnginePoolSize int

	OpeningBookDir   string
	ThinkTimeDefault time.Duration
	ThinkTimeMax     time.Duration
	SearchDepthCap   int
	HandshakeTimeout time.Duration
	SearchGrace      time.Duration
	BookMoveDelay    time.Duration

	MaxSessions    int
	SessionIdleTTL time.Duration
	SnapshotTTL    time.Duration

	RedisURL    string
	DatabaseURL string
	MessagesDir string

	TraceExporter   string
	OTLPEndpoint    string
	TraceSampleRate float64
}

// enginesFile is the layout of ENGINES_FILE.
type enginesFile struct {
	Default string                `yaml:"default"`
	Engines []chess.EngineProfile `yaml:"engines"`
}

func Load() (*AppConfig, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv.
func LoadFrom(getenv func(string) string) (*AppConfig, error) {
	env := func(k string) string { return strings.TrimSpace(getenv(k)) }

	cfg := &AppConfig{
		HTTPAddr:         ":8080",
		OpeningBookDir:   "engines/opening-books",
		ThinkTimeDefault: time.Second,
		ThinkTimeMax:     30 * time.Second,
		SearchDepthCap:   30,
		HandshakeTimeout: 5 * time.Second,
		SearchGrace:      2 * time.Second,
		BookMoveDelay:    100 * time.Millisecond,
		MaxSessions:      1,
		SessionIdleTTL:   30 * time.Minute,
		SnapshotTTL:      2 * time.Hour,
		TraceExporter:    "none",
		OTLPEndpoint:     "localhost:4317",
		TraceSampleRate:  1.0,
	}

	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := env("OPENING_BOOK_DIR"); v != "" {
		cfg.OpeningBookDir = v
	}
	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	cfg.MessagesDir = env("MESSAGES_DIR")
	if v := env("TRACE_EXPORTER"); v != "" {
		cfg.TraceExporter = strings.ToLower(v)
	}
	if v := env("OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := env("TRACE_SAMPLE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			return nil, fmt.Errorf("TRACE_SAMPLE_RATE must be in (0, 1]: %q", v)
		}
		cfg.TraceSampleRate = f
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"THINK_TIME_DEFAULT", &cfg.ThinkTimeDefault},
		{"THINK_TIME_MAX", &cfg.ThinkTimeMax},
		{"ENGINE_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout},
		{"ENGINE_SEARCH_GRACE", &cfg.SearchGrace},
		{"BOOK_MOVE_DELAY", &cfg.BookMoveDelay},
		{"SESSION_IDLE_TTL", &cfg.SessionIdleTTL},
		{"SNAPSHOT_TTL", &cfg.SnapshotTTL},
	}
	for _, d := range durations {
		v := env(d.key)
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SEARCH_DEPTH_CAP", &cfg.SearchDepthCap},
		{"MAX_SESSIONS", &cfg.MaxSessions},
		{"ENGINE_POOL_SIZE", &cfg.EnginePoolSize},
	}
	for _, n := range ints {
		v := env(n.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer: %q", n.key, v)
		}
		*n.dst = parsed
	}

	if path := env("ENGINES_FILE"); path != "" {
		file, err := readEnginesFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Engines = append(cfg.Engines, file.Engines...)
		cfg.DefaultEngine = file.Default
	}
	if v := env("STOCKFISH_PATH"); v != "" {
		cfg.Engines = append(cfg.Engines, chess.EngineProfile{Name: "stockfish", Path: v})
	}
	if v := env("KOMODO_PATH"); v != "" {
		cfg.Engines = append(cfg.Engines, chess.EngineProfile{Name: "komodo", Path: v})
	}
	if v := env("DEFAULT_ENGINE"); v != "" {
		cfg.DefaultEngine = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if len(c.Engines) == 0 {
		return errors.New("no engine configured: set STOCKFISH_PATH, KOMODO_PATH or ENGINES_FILE")
	}
	if c.ThinkTimeDefault <= 0 || c.ThinkTimeMax <= 0 {
		return errors.New("think times must be positive")
	}
	if c.ThinkTimeDefault > c.ThinkTimeMax {
		return fmt.Errorf("THINK_TIME_DEFAULT %s exceeds THINK_TIME_MAX %s", c.ThinkTimeDefault, c.ThinkTimeMax)
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 1
	}
	return nil
}

func readEnginesFile(path string) (enginesFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return enginesFile{}, fmt.Errorf("read engines file: %w", err)
	}
	var file enginesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return enginesFile{}, fmt.Errorf("parse engines file %s: %w", path, err)
	}
	return file, nil
}

// parseDuration accepts Go duration syntax or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", v)
		}
		if int64(n) > int64(math.MaxInt64/time.Second) {
			return 0, fmt.Errorf("duration %q out of range", v)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}
