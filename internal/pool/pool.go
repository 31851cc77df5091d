// Package pool manages a bounded set of leasable browser processes.
// Handles are slots in a fixed arena with a channel free list, so a stale
// caller holding a released handle can never corrupt the pool.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrExhausted means handle creation itself failed repeatedly. It is
	// never returned merely because all handles are busy.
	ErrExhausted = errors.New("browser pool exhausted: process creation failed")

	// ErrClosed is returned by Acquire after CloseAll.
	ErrClosed = errors.New("browser pool closed")
)

// createAttempts bounds in-pool process creation before ErrExhausted.
const createAttempts = 3

// Proc is one live browser process owned by the pool.
type Proc interface {
	// ControlURL returns the DevTools WebSocket endpoint.
	ControlURL() string
	// Alive probes the process cheaply, e.g. a version round-trip.
	Alive() bool
	Close() error
}

// Factory launches browser processes on demand.
type Factory interface {
	New(ctx context.Context) (Proc, error)
}

// Handle is a leased browser process. It is valid until Release; using it
// afterwards is a caller bug, detected by the slot generation counter.
type Handle struct {
	ID   string
	slot int
	gen  uint64
	proc Proc
}

// ControlURL exposes the DevTools endpoint of the leased process.
func (h *Handle) ControlURL() string { return h.proc.ControlURL() }

type slot struct {
	proc    Proc
	gen     uint64
	inUse   bool
	created time.Time
}

// Pool is a fixed-capacity browser process pool.
type Pool struct {
	factory Factory
	logger  *zap.Logger

	mu     sync.Mutex
	slots  []slot
	free   chan int
	closed bool
}

// New creates a pool of at most capacity processes. Processes launch
// lazily on first lease of their slot.
func New(capacity int, factory Factory, logger *zap.Logger) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		factory: factory,
		logger:  logger,
		slots:   make([]slot, capacity),
		free:    make(chan int, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.free <- i
	}
	return p
}

// Capacity returns the fixed maximum number of live processes.
func (p *Pool) Capacity() int { return len(p.slots) }

// Acquire leases a browser process, blocking until a slot frees or ctx is
// done. A slot whose process fails its liveness probe is destroyed and
// replaced before the handle is returned; the caller never sees the crash.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	var idx int
	select {
	case idx = <-p.free:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		// CloseAll won the race; the slot's process is already destroyed.
		return nil, ErrClosed
	}

	s := &p.slots[idx]
	if s.proc != nil && !s.proc.Alive() {
		p.logger.Warn("replacing dead browser process",
			zap.Int("slot", idx),
			zap.Duration("lifetime", time.Since(s.created)))
		_ = s.proc.Close()
		s.proc = nil
	}

	if s.proc == nil {
		proc, err := p.create(ctx)
		if err != nil {
			p.free <- idx
			return nil, fmt.Errorf("%w: %v", ErrExhausted, err)
		}
		s.proc = proc
		s.created = time.Now()
	}

	s.inUse = true
	s.gen++
	return &Handle{
		ID:   uuid.NewString(),
		slot: idx,
		gen:  s.gen,
		proc: s.proc,
	}, nil
}

func (p *Pool) create(ctx context.Context) (Proc, error) {
	var lastErr error
	for attempt := 1; attempt <= createAttempts; attempt++ {
		proc, err := p.factory.New(ctx)
		if err == nil {
			return proc, nil
		}
		lastErr = err
		p.logger.Warn("browser launch failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// Release returns a handle's slot to the free set. Releasing a stale or
// already-released handle is a no-op.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	s := &p.slots[h.slot]
	if !s.inUse || s.gen != h.gen {
		return
	}
	s.inUse = false
	p.free <- h.slot
}

// CloseAll forcibly destroys every process, leased or not. Idempotent.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	// Wake every blocked Acquire; each re-checks closed and fails with
	// ErrClosed. Release and the Acquire failure path only send while
	// holding the mutex with closed == false, so this close is safe.
	close(p.free)

	var errs []error
	for i := range p.slots {
		s := &p.slots[i]
		if s.proc != nil {
			if err := s.proc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("slot %d: %w", i, err))
			}
			s.proc = nil
		}
		s.inUse = false
	}
	return errors.Join(errs...)
}
