package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultSearchGrace      = 2 * time.Second
	stopGrace               = 500 * time.Millisecond
	exitGrace               = 500 * time.Millisecond
	newGameRetryAttempts    = 3
	newGameRetryDelay       = 150 * time.Millisecond
	lineBacklog             = 64
	maxLineBytes            = 1 << 20
)

var moveToken = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// State is the lifecycle position of an engine process.
type State int32

const (
	StateNotStarted State = iota
	StateHandshaking
	StateReady
	StateSearching
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateSearching:
		return "searching"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Options are sent as setoption commands after uciok. Zero values leave the
// engine default in place.
type Options struct {
	Threads    int               `yaml:"threads"`
	HashMB     int               `yaml:"hash_mb"`
	SkillLevel *int              `yaml:"skill_level"`
	Custom     map[string]string `yaml:"custom"`
}

type option struct {
	name  string
	value string
}

func (o Options) commands() []option {
	var out []option
	if o.Threads > 0 {
		out = append(out, option{"Threads", strconv.Itoa(o.Threads)})
	}
	if o.HashMB > 0 {
		out = append(out, option{"Hash", strconv.Itoa(o.HashMB)})
	}
	if o.SkillLevel != nil {
		out = append(out, option{"Skill Level", strconv.Itoa(*o.SkillLevel)})
	}
	names := make([]string, 0, len(o.Custom))
	for name := range o.Custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, option{name, o.Custom[name]})
	}
	return out
}

func validateOptions(opt Options) error {
	if opt.SkillLevel != nil && (*opt.SkillLevel < 0 || *opt.SkillLevel > 20) {
		return fmt.Errorf("skill level %d out of range 0-20", *opt.SkillLevel)
	}
	if opt.Threads < 0 {
		return fmt.Errorf("threads must be >= 0: %d", opt.Threads)
	}
	if opt.HashMB < 0 {
		return fmt.Errorf("hash size must be >= 0: %d", opt.HashMB)
	}
	for name := range opt.Custom {
		if strings.TrimSpace(name) == "" || strings.Contains(name, "\n") {
			return fmt.Errorf("invalid option name %q", name)
		}
	}
	return nil
}

type Limits struct {
	Depth          int
	MoveTimeMillis int
	NodeCap        int
}

// Config describes how to launch and drive one engine executable.
type Config struct {
	Path             string
	Args             []string
	Env              []string
	Dir              string
	Options          Options
	HandshakeTimeout time.Duration
	SearchGrace      time.Duration
	Logger           *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.SearchGrace <= 0 {
		c.SearchGrace = defaultSearchGrace
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Identity is what the engine reported during the handshake.
type Identity struct {
	Name    string
	Author  string
	Options []string
}

type Candidate struct {
	Move      string
	EvalCP    int
	Depth     int
	Principal []string
}

type SearchRequest struct {
	FEN    string
	Moves  []string
	Limits Limits
}

type SearchResult struct {
	BestMove   string
	Ponder     string
	Candidates []Candidate
	Elapsed    time.Duration
}

// Process drives one engine subprocess. Searches are serialized; Close may be
// called at any time, including while a search is outstanding.
type Process struct {
	cfg    Config
	logger *zap.Logger

	cmd    *exec.Cmd
	stderr *zapio.Writer
	stdin  io.WriteCloser
	lines  chan string
	done   chan struct{}

	state  atomic.Int32
	writes sync.Mutex
	search sync.Mutex

	idMu     sync.RWMutex
	id       Identity
	declared map[string]struct{}

	closeOnce sync.Once
	closeErr  error
}

// Start spawns the engine and completes the uci/isready handshake. No process
// is left running when it returns an error.
func Start(ctx context.Context, cfg Config) (*Process, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("engine path required")
	}
	if err := validateOptions(cfg.Options); err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr := &zapio.Writer{Log: cfg.Logger.With(zap.String("stream", "stderr")), Level: zapcore.DebugLevel}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start engine %s: %w", cfg.Path, err)
	}

	cfg.Logger = cfg.Logger.With(zap.Int("pid", cmd.Process.Pid))
	p := newProcess(cfg, stdin, stdout)
	p.cmd = cmd
	p.stderr = stderr

	if err := p.handshake(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func newProcess(cfg Config, stdin io.WriteCloser, stdout io.Reader) *Process {
	cfg = cfg.withDefaults()
	p := &Process{
		cfg:      cfg,
		logger:   cfg.Logger,
		stdin:    stdin,
		lines:    make(chan string, lineBacklog),
		done:     make(chan struct{}),
		declared: make(map[string]struct{}),
	}
	go p.pump(stdout)
	return p
}

// State reports the current lifecycle state.
func (p *Process) State() State { return State(p.state.Load()) }

// ID returns the identity captured during the handshake.
func (p *Process) ID() Identity {
	p.idMu.RLock()
	defer p.idMu.RUnlock()
	id := p.id
	id.Options = append([]string(nil), p.id.Options...)
	return id
}

func (p *Process) setState(next State) {
	for {
		cur := p.state.Load()
		if State(cur) == StateTerminated {
			return
		}
		if p.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (p *Process) pump(r io.Reader) {
	defer close(p.lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case p.lines <- line:
		case <-p.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("engine output closed", zap.Error(err))
	}
	p.state.Store(int32(StateTerminated))
}

func (p *Process) handshake(ctx context.Context) error {
	hsCtx, cancel := context.WithTimeout(ctx, p.cfg.HandshakeTimeout)
	defer cancel()

	p.setState(StateHandshaking)
	if err := p.send("uci"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	for {
		line, err := p.readLine(hsCtx)
		if err != nil {
			return wrapWait("wait uciok", err)
		}
		if line == "uciok" {
			break
		}
		p.recordIDLine(line)
	}

	if err := p.applyOptions(); err != nil {
		return err
	}
	if err := p.send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := p.awaitToken(hsCtx, "readyok"); err != nil {
		return wrapWait("wait readyok", err)
	}

	p.setState(StateReady)
	id := p.ID()
	p.logger.Info("engine ready",
		zap.String("engine", id.Name),
		zap.String("author", id.Author),
		zap.Int("options", len(id.Options)),
	)
	return nil
}

func (p *Process) recordIDLine(line string) {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	switch {
	case strings.HasPrefix(line, "id name "):
		p.id.Name = strings.TrimSpace(strings.TrimPrefix(line, "id name "))
	case strings.HasPrefix(line, "id author "):
		p.id.Author = strings.TrimSpace(strings.TrimPrefix(line, "id author "))
	case strings.HasPrefix(line, "option name "):
		rest := strings.TrimPrefix(line, "option name ")
		name := rest
		if idx := strings.Index(rest, " type "); idx >= 0 {
			name = rest[:idx]
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		p.id.Options = append(p.id.Options, name)
		p.declared[strings.ToLower(name)] = struct{}{}
	}
}

func (p *Process) supports(name string) bool {
	p.idMu.RLock()
	defer p.idMu.RUnlock()
	if len(p.declared) == 0 {
		return true
	}
	_, ok := p.declared[strings.ToLower(name)]
	return ok
}

func (p *Process) applyOptions() error {
	for _, opt := range p.cfg.Options.commands() {
		if !p.supports(opt.name) {
			p.logger.Debug("engine does not declare option, skipping", zap.String("option", opt.name))
			continue
		}
		if err := p.send(fmt.Sprintf("setoption name %s value %s", opt.name, opt.value)); err != nil {
			return fmt.Errorf("apply option %s: %w", opt.name, err)
		}
	}
	return nil
}

// Search sets the position and blocks until bestmove arrives. On timeout or
// malformed output the process is terminated and must not be reused. When ctx
// ends first, stop is sent and the late bestmove is discarded.
func (p *Process) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	p.search.Lock()
	defer p.search.Unlock()

	switch st := p.State(); st {
	case StateReady:
	case StateTerminated:
		return SearchResult{}, ErrTerminated
	default:
		return SearchResult{}, fmt.Errorf("%w: state %s", ErrBusy, st)
	}

	goCmd, err := req.Limits.GoCommand()
	if err != nil {
		return SearchResult{}, err
	}
	positionCmd := buildPositionCommand(req.FEN, req.Moves)
	if err := p.send(positionCmd); err != nil {
		p.terminate()
		return SearchResult{}, fmt.Errorf("send position: %w", err)
	}
	p.setState(StateSearching)
	if err := p.send(goCmd); err != nil {
		p.terminate()
		return SearchResult{}, fmt.Errorf("send go: %w", err)
	}

	start := time.Now()
	deadline := computeSearchTimeout(req.Limits, p.cfg.SearchGrace)
	searchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	candidates := make(map[int]Candidate)
	for {
		line, err := p.readLine(searchCtx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				p.interrupt()
				return SearchResult{}, fmt.Errorf("search interrupted: %w", ctx.Err())
			case errors.Is(err, context.DeadlineExceeded):
				p.logger.Warn("engine search timed out",
					zap.String("go", goCmd),
					zap.Int("moves", len(req.Moves)),
					zap.Duration("deadline", deadline),
				)
				p.terminate()
				return SearchResult{}, fmt.Errorf("no bestmove after %s: %w", deadline, ErrTimeout)
			default:
				p.terminate()
				return SearchResult{}, fmt.Errorf("read search output: %w", err)
			}
		}

		switch {
		case strings.HasPrefix(line, "info "):
			if mv, cand, ok := parseInfo(line); ok {
				candidates[mv] = cand
			}
		case line == "bestmove" || strings.HasPrefix(line, "bestmove "):
			best, ponder, err := parseBestMove(line)
			if err != nil {
				p.logger.Warn("malformed bestmove", zap.String("line", line))
				p.terminate()
				return SearchResult{}, err
			}
			p.setState(StateReady)
			return SearchResult{
				BestMove:   best,
				Ponder:     ponder,
				Candidates: collapseCandidates(candidates),
				Elapsed:    time.Since(start),
			}, nil
		}
	}
}

func (p *Process) interrupt() {
	if err := p.send("stop"); err != nil {
		p.terminate()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	for {
		line, err := p.readLine(ctx)
		if err != nil {
			p.logger.Warn("engine ignored stop", zap.Error(err))
			p.terminate()
			return
		}
		if strings.HasPrefix(line, "bestmove") {
			p.setState(StateReady)
			return
		}
	}
}

// NewGame sends ucinewgame and waits for the engine to settle.
func (p *Process) NewGame(ctx context.Context) error {
	p.search.Lock()
	defer p.search.Unlock()

	if err := p.send("ucinewgame"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	for attempt := 1; attempt <= newGameRetryAttempts; attempt++ {
		err := p.ensureReady(ctx)
		if err == nil {
			return nil
		}
		if attempt == newGameRetryAttempts || errors.Is(err, ErrTerminated) {
			p.terminate()
			return err
		}
		p.logger.Debug("ensure ready retry after ucinewgame",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(newGameRetryDelay):
		}
	}
	return nil
}

// EnsureReady pings the engine with isready.
func (p *Process) EnsureReady(ctx context.Context) error {
	p.search.Lock()
	defer p.search.Unlock()
	return p.ensureReady(ctx)
}

func (p *Process) ensureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, p.cfg.HandshakeTimeout)
	defer cancel()

	if err := p.send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := p.awaitToken(readyCtx, "readyok"); err != nil {
		return wrapWait("wait readyok", err)
	}
	return nil
}

// Close asks the engine to quit, then kills it if it lingers. Safe to call
// more than once and concurrently with Search.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.shutdown()
	})
	return p.closeErr
}

func (p *Process) terminate() {
	if err := p.Close(); err != nil {
		p.logger.Debug("engine close", zap.Error(err))
	}
}

func (p *Process) shutdown() error {
	p.writes.Lock()
	if p.State() != StateTerminated && p.stdin != nil {
		_, _ = io.WriteString(p.stdin, "quit\n")
	}
	p.state.Store(int32(StateTerminated))
	close(p.done)
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	p.writes.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- p.cmd.Wait() }()

	var err error
	select {
	case err = <-waitCh:
	case <-time.After(exitGrace):
		_ = p.cmd.Process.Kill()
		err = <-waitCh
	}
	if p.stderr != nil {
		_ = p.stderr.Close()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("wait engine: %w", err)
	}
	p.logger.Debug("engine exited")
	return nil
}

func (p *Process) send(cmd string) error {
	p.writes.Lock()
	defer p.writes.Unlock()

	switch p.State() {
	case StateNotStarted, StateTerminated:
		return ErrTerminated
	}
	if _, err := io.WriteString(p.stdin, cmd+"\n"); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	return nil
}

func (p *Process) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := p.readLine(ctx)
		if err != nil {
			return err
		}
		if line == token {
			return nil
		}
	}
}

func (p *Process) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", p.streamEnded()
		}
		return line, nil
	case <-p.done:
		return "", ErrTerminated
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Process) streamEnded() error {
	select {
	case <-p.done:
		return ErrTerminated
	default:
	}
	return &ProtocolError{Reason: "output stream ended"}
}

func wrapWait(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	return sb.String()
}

// GoCommand renders the go command for l. At least one limit must be set.
func (l Limits) GoCommand() (string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if l.NodeCap > 0 {
		args = append(args, "nodes", strconv.Itoa(l.NodeCap))
	}
	if len(args) == 1 {
		return "", fmt.Errorf("no search limits specified")
	}
	return strings.Join(args, " "), nil
}

func computeSearchTimeout(l Limits, grace time.Duration) time.Duration {
	if l.MoveTimeMillis > 0 {
		return time.Duration(l.MoveTimeMillis)*time.Millisecond + grace
	}
	if l.Depth > 0 {
		base := time.Duration(l.Depth) * 300 * time.Millisecond
		if base < 6*time.Second {
			base = 6 * time.Second
		}
		if base > 20*time.Second {
			base = 20 * time.Second
		}
		return base
	}
	return 6 * time.Second
}

func parseBestMove(line string) (string, string, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", &ProtocolError{Reason: "bestmove without move", Line: line}
	}
	best := fields[1]
	if !moveToken.MatchString(best) {
		return "", "", &ProtocolError{Reason: "unparseable move token", Line: line}
	}
	var ponder string
	if len(fields) >= 4 && fields[2] == "ponder" && moveToken.MatchString(fields[3]) {
		ponder = fields[3]
	}
	return best, ponder, nil
}

func parseInfo(line string) (int, Candidate, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return 0, Candidate{}, false
	}
	var (
		multipv = 1
		depth   int
		evalCP  int
		pvIdx   = -1
	)

	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					depth = v
				}
				i++
			}
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					multipv = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				kind := parts[i+1]
				val := parts[i+2]
				switch kind {
				case "cp":
					if v, err := strconv.Atoi(val); err == nil {
						evalCP = v
					}
				case "mate":
					if v, err := strconv.Atoi(val); err == nil {
						const mateValue = 30000
						if v >= 0 {
							evalCP = mateValue
						} else {
							evalCP = -mateValue
						}
					}
				}
				i += 2
			}
		case "pv":
			pvIdx = i + 1
			i = len(parts)
		}
	}

	if pvIdx == -1 || pvIdx >= len(parts) {
		return 0, Candidate{}, false
	}
	principal := parts[pvIdx:]
	return multipv, Candidate{
		Move:      principal[0],
		EvalCP:    evalCP,
		Depth:     depth,
		Principal: append([]string(nil), principal...),
	}, true
}

func collapseCandidates(m map[int]Candidate) []Candidate {
	if len(m) == 0 {
		return nil
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	result := make([]Candidate, 0, len(keys))
	for _, k := range keys {
		result = append(result, m[k])
	}
	return result
}
