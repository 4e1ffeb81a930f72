package uci

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type PoolConfig struct {
	// Capacity bounds the number of live engine processes. Zero derives a
	// value from the CPU count.
	Capacity int
	Logger   *zap.Logger
}

// Pool owns every engine process the server starts, so that shutdown can
// terminate all of them regardless of which game holds them.
type Pool struct {
	capacity int
	logger   *zap.Logger

	mu       sync.Mutex
	live     map[*Process]string
	starting int
	closed   bool
}

func NewPool(cfg PoolConfig) *Pool {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		capacity: capacity,
		logger:   logger,
		live:     make(map[*Process]string),
	}
}

// Acquire starts a new engine process for owner. It fails with ErrPoolFull
// instead of waiting when the pool is at capacity.
func (p *Pool) Acquire(ctx context.Context, owner string, cfg Config) (*Process, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if len(p.live)+p.starting >= p.capacity {
		p.mu.Unlock()
		return nil, ErrPoolFull
	}
	p.starting++
	p.mu.Unlock()

	if cfg.Logger == nil {
		cfg.Logger = p.logger
	}
	cfg.Logger = cfg.Logger.With(zap.String("owner", owner))
	proc, err := Start(ctx, cfg)

	p.mu.Lock()
	p.starting--
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		_ = proc.Close()
		return nil, ErrPoolClosed
	}
	p.live[proc] = owner
	p.mu.Unlock()
	return proc, nil
}

// Release terminates proc and frees its slot.
func (p *Pool) Release(proc *Process) error {
	if proc == nil {
		return nil
	}
	p.mu.Lock()
	delete(p.live, proc)
	p.mu.Unlock()
	return proc.Close()
}

// Live reports the number of tracked processes.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Owners lists the owner tags of live processes.
func (p *Pool) Owners() []string {
	p.mu.Lock()
	owners := make([]string, 0, len(p.live))
	for _, owner := range p.live {
		owners = append(owners, owner)
	}
	p.mu.Unlock()
	sort.Strings(owners)
	return owners
}

func (p *Pool) Capacity() int { return p.capacity }

// Close terminates every live process. Later Acquire calls fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	procs := make([]*Process, 0, len(p.live))
	for proc := range p.live {
		procs = append(procs, proc)
	}
	p.live = make(map[*Process]string)
	p.mu.Unlock()

	var errs []error
	for _, proc := range procs {
		if err := proc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
