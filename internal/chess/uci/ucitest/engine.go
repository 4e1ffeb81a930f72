// Package ucitest provides a scripted UCI engine for tests. It can run
// in-process over pipes or as a re-executed test binary.
package ucitest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
)

const (
	Name   = "FakeFish"
	Author = "ucitest"

	envBehavior = "UCITEST_FAKE_ENGINE"
)

// Behavior selects how the fake engine answers.
type Behavior string

const (
	// Normal plays the lexicographically first legal move.
	Normal Behavior = "normal"
	// Hang withholds bestmove until stop arrives.
	Hang Behavior = "hang"
	// Silent never answers a search, not even after stop.
	Silent Behavior = "silent"
	// Garbage answers with an unparseable move token.
	Garbage Behavior = "garbage"
	// Illegal answers with a well-formed move that is never legal.
	Illegal Behavior = "illegal"
	// Mute never completes the handshake.
	Mute Behavior = "mute"
	// Crash exits as soon as a search is requested.
	Crash Behavior = "crash"
)

var errCrashed = errors.New("fake engine crashed")

type engine struct {
	out      *bufio.Writer
	behavior Behavior
	game     *nchess.Game
	pending  string
	record   func(string)
}

// Run speaks UCI on in/out until quit, EOF or a scripted crash.
func Run(in io.Reader, out io.Writer, behavior Behavior) error {
	return run(in, out, behavior, nil)
}

func run(in io.Reader, out io.Writer, behavior Behavior, record func(string)) error {
	e := &engine{
		out:      bufio.NewWriter(out),
		behavior: behavior,
		game:     nchess.NewGame(),
		record:   record,
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if e.record != nil {
			e.record(line)
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "uci":
			e.println("id name " + Name)
			e.println("id author " + Author)
			if behavior == Mute {
				break
			}
			e.println("option name Threads type spin default 1 min 1 max 512")
			e.println("option name Hash type spin default 16 min 1 max 33554432")
			e.println("option name Skill Level type spin default 20 min 0 max 20")
			e.println("uciok")
		case "isready":
			e.println("readyok")
		case "ucinewgame":
			e.game = nchess.NewGame()
		case "position":
			if err := e.setPosition(fields[1:]); err != nil {
				e.println("info string " + err.Error())
			}
		case "go":
			if behavior == Crash {
				_ = e.out.Flush()
				return errCrashed
			}
			e.search()
		case "stop":
			if e.pending != "" {
				e.println("bestmove " + e.pending)
				e.pending = ""
			}
		case "quit":
			return e.out.Flush()
		}
		if err := e.out.Flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (e *engine) println(s string) {
	_, _ = e.out.WriteString(s + "\n")
}

func (e *engine) setPosition(args []string) error {
	if len(args) == 0 {
		return errors.New("empty position")
	}
	movesAt := len(args)
	for i, a := range args {
		if a == "moves" {
			movesAt = i
			break
		}
	}

	var game *nchess.Game
	switch args[0] {
	case "startpos":
		game = nchess.NewGame()
	case "fen":
		opt, err := nchess.FEN(strings.Join(args[1:movesAt], " "))
		if err != nil {
			return fmt.Errorf("bad fen: %w", err)
		}
		game = nchess.NewGame(opt)
	default:
		return fmt.Errorf("unknown position kind %q", args[0])
	}
	if movesAt < len(args) {
		for _, mv := range args[movesAt+1:] {
			if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
				return fmt.Errorf("bad move %s: %w", mv, err)
			}
		}
	}
	e.game = game
	return nil
}

func (e *engine) search() {
	switch e.behavior {
	case Garbage:
		e.println("bestmove zz99")
		return
	case Illegal:
		e.println("bestmove a1a1")
		return
	case Silent:
		return
	}

	best := FirstLegalMove(e.game)
	if best == "" {
		e.println("info depth 0 score mate 0")
		e.println("bestmove (none)")
		return
	}
	e.println("info string searching")
	e.println("info depth 1 seldepth 1 score cp 13 nodes 20 pv " + best)
	if e.behavior == Hang {
		e.pending = best
		return
	}
	e.println("bestmove " + best)
}

// FirstLegalMove returns the smallest legal move of game in coordinate
// notation, or "" when there is none.
func FirstLegalMove(game *nchess.Game) string {
	moves := game.ValidMoves()
	if len(moves) == 0 {
		return ""
	}
	names := make([]string, 0, len(moves))
	for _, mv := range moves {
		names = append(names, mv.String())
	}
	sort.Strings(names)
	return names[0]
}

// Conn is an in-process fake engine connected through pipes.
type Conn struct {
	Stdin  io.WriteCloser
	Stdout io.Reader

	mu       sync.Mutex
	received []string
	done     chan struct{}
}

// Pipe starts a fake engine in a goroutine.
func Pipe(behavior Behavior) *Conn {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	c := &Conn{Stdin: inW, Stdout: outR, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		err := run(inR, outW, behavior, c.add)
		_ = outW.CloseWithError(io.EOF)
		_ = inR.CloseWithError(err)
	}()
	return c
}

func (c *Conn) add(line string) {
	c.mu.Lock()
	c.received = append(c.received, line)
	c.mu.Unlock()
}

// Received lists the commands the engine has read so far.
func (c *Conn) Received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.received...)
}

// Done is closed once the fake engine has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Command returns the executable, arguments and extra environment that start
// the running test binary as a fake engine. The test package must call
// MainIfHelper from TestMain.
func Command(behavior Behavior) (path string, args []string, env []string) {
	path, err := os.Executable()
	if err != nil {
		path = os.Args[0]
	}
	return path, []string{"-test.run=^$"}, []string{envBehavior + "=" + string(behavior)}
}

// MainIfHelper turns the current process into a fake engine when it was
// started through Command. It returns only in the normal test process.
func MainIfHelper() {
	behavior := os.Getenv(envBehavior)
	if behavior == "" {
		return
	}
	err := Run(os.Stdin, os.Stdout, Behavior(behavior))
	if errors.Is(err, errCrashed) {
		os.Exit(3)
	}
	os.Exit(0)
}
