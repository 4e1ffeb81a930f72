package game

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompatibleClient marks a request the server cannot decode at all.
	ErrIncompatibleClient = errors.New("incompatible client")
	// ErrInvalidMove marks a well-formed move that is not legal in the
	// authoritative position.
	ErrInvalidMove = errors.New("invalid move")
	// ErrGameOver is returned for moves after the game has ended.
	ErrGameOver = fmt.Errorf("%w: game is over", ErrInvalidMove)
	// ErrEngineUnavailable is the caller-facing form of every engine failure.
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrSessionBusy       = errors.New("session busy")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session closed")
	ErrInvalidColor      = errors.New("invalid color")

	// ErrMoveRequired and ErrNotYourTurn are causes of an ErrInvalidMove
	// rejection for a move sent on the wrong side's turn.
	ErrMoveRequired = errors.New("expected move in request body")
	ErrNotYourTurn  = errors.New("it is the engine's turn")
)

// Rejection is a failed request that still carries the authoritative position
// so the caller can resynchronise.
type Rejection struct {
	Err   error
	FEN   string
	Cause error
}

func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("%v: %v", r.Err, r.Cause)
	}
	return r.Err.Error()
}

func (r *Rejection) Unwrap() []error {
	if r.Cause == nil {
		return []error{r.Err}
	}
	return []error{r.Err, r.Cause}
}

func reject(err error, fen string, cause error) *Rejection {
	return &Rejection{Err: err, FEN: fen, Cause: cause}
}

// AuthoritativeFEN extracts the position carried by err, if any.
func AuthoritativeFEN(err error) (string, bool) {
	var r *Rejection
	if errors.As(err, &r) && r.FEN != "" {
		return r.FEN, true
	}
	return "", false
}
