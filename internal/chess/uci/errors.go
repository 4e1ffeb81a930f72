package uci

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout reports that the engine did not answer within its budget.
	// The process is terminated before this error is returned.
	ErrTimeout = errors.New("engine timeout")
	// ErrProtocol reports output that violates the UCI exchange.
	ErrProtocol   = errors.New("engine protocol error")
	ErrTerminated = errors.New("engine terminated")
	ErrBusy       = errors.New("engine busy")
	ErrPoolFull   = errors.New("engine pool at capacity")
	ErrPoolClosed = errors.New("engine pool closed")
)

// ProtocolError carries the offending engine line. It matches ErrProtocol.
type ProtocolError struct {
	Reason string
	Line   string
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("engine protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("engine protocol error: %s (line %q)", e.Reason, e.Line)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }
