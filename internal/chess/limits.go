package chess

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/park285/Cheese-WebChess/internal/chess/uci"
)

var ErrInvalidThinkTime = errors.New("invalid think time")

// SearchBudget bounds one engine reply.
type SearchBudget struct {
	ThinkTime time.Duration
	DepthCap  int
	NodeCap   int
}

func ValidateBudget(b SearchBudget) error {
	if b.ThinkTime < 0 || b.DepthCap < 0 || b.NodeCap < 0 {
		return fmt.Errorf("negative search limit: %+v", b)
	}
	if b.ThinkTime == 0 && b.DepthCap == 0 && b.NodeCap == 0 {
		return fmt.Errorf("search budget does not define limits")
	}
	return nil
}

func (b SearchBudget) Limits() uci.Limits {
	return uci.Limits{
		Depth:          b.DepthCap,
		MoveTimeMillis: int(b.ThinkTime / time.Millisecond),
		NodeCap:        b.NodeCap,
	}
}

// GoCommand renders the go command a budget sends to the engine.
func (b SearchBudget) GoCommand() (string, error) {
	if err := ValidateBudget(b); err != nil {
		return "", err
	}
	return b.Limits().GoCommand()
}

// ParseThinkTime reads a whole number of seconds in [1, max].
func ParseThinkTime(raw string, fallback, max time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number of seconds", ErrInvalidThinkTime, raw)
	}
	limit := int64(math.MaxInt64 / time.Second)
	if max > 0 {
		limit = int64(max / time.Second)
	}
	if n <= 0 || int64(n) > limit {
		return 0, fmt.Errorf("%w: %ds outside 1..%ds", ErrInvalidThinkTime, n, limit)
	}
	return time.Duration(n) * time.Second, nil
}
