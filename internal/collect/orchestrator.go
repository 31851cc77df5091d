// Package collect orchestrates audit collection: cache consultation,
// browser leasing, engine invocation, persistence and batch scheduling
// with retry and memory backpressure.
package collect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"pagescope/internal/cache"
	"pagescope/internal/engine"
	"pagescope/internal/history"
	"pagescope/internal/pool"
)

// ValidationError rejects a malformed target before any resource is touched.
type ValidationError struct {
	Target engine.Target
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid target %q: %s", e.Target.URL, e.Reason)
}

// Config tunes the orchestrator.
type Config struct {
	// MaxAge bounds how stale a cached report may be to satisfy a request.
	MaxAge time.Duration
	// AttemptTimeout wraps each engine invocation. A timed-out attempt
	// releases its handle and counts as retryable.
	AttemptTimeout time.Duration
	// Attempts is the per-target bound in batch mode, including the first.
	Attempts int
	// BackoffBase is the first inter-retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// MemoryWarnBytes is the heap size past which a batch logs a
	// memory-pressure warning. Zero disables the watcher.
	MemoryWarnBytes uint64
	// MemoryCheckEvery is the watcher sampling interval.
	MemoryCheckEvery time.Duration
}

func (c Config) attempts() int {
	if c.Attempts < 1 {
		return 3
	}
	return c.Attempts
}

func (c Config) backoffBase() time.Duration {
	if c.BackoffBase <= 0 {
		return 500 * time.Millisecond
	}
	return c.BackoffBase
}

func (c Config) memoryCheckEvery() time.Duration {
	if c.MemoryCheckEvery <= 0 {
		return 2 * time.Second
	}
	return c.MemoryCheckEvery
}

// Outcome is the result of one successful collection.
type Outcome struct {
	Target  engine.Target `json:"target"`
	EntryID string        `json:"entry_id"`
	Cached  bool          `json:"cached"`
}

// Failure records a target that exhausted its attempts.
type Failure struct {
	Target engine.Target `json:"target"`
	Err    error         `json:"-"`
	Reason string        `json:"reason"`
}

// BatchResult partitions the input targets: every target lands in exactly
// one of the two slices, in completion order.
type BatchResult struct {
	Succeeded []Outcome `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// Orchestrator coordinates the cache, the pool and the external engine.
type Orchestrator struct {
	cache   *cache.Cache
	pool    *pool.Pool
	runner  engine.Runner
	history *history.Log // optional
	logger  *zap.Logger
	cfg     Config
}

// New wires an orchestrator. history may be nil.
func New(c *cache.Cache, p *pool.Pool, runner engine.Runner, hist *history.Log, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cache: c, pool: p, runner: runner, history: hist, logger: logger, cfg: cfg}
}

// CollectOne audits a single target. A fresh cached report satisfies the
// request without touching the browser unless forceRefresh is set.
func (o *Orchestrator) CollectOne(ctx context.Context, target engine.Target, forceRefresh bool) (*Outcome, error) {
	target, err := normalize(target)
	if err != nil {
		return nil, err
	}

	if !forceRefresh {
		if entry, ok := o.cache.Find(target, o.cfg.MaxAge); ok {
			o.logger.Debug("cache hit", zap.String("url", target.URL), zap.String("entry", entry.ID))
			o.record(target, entry.ID, true, 1, 0, nil)
			return &Outcome{Target: target, EntryID: entry.ID, Cached: true}, nil
		}
	}

	start := time.Now()
	entryID, err := o.collectFresh(ctx, target)
	o.record(target, entryID, false, 1, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &Outcome{Target: target, EntryID: entryID, Cached: false}, nil
}

// collectFresh leases a handle, runs the engine under the attempt timeout,
// and persists the result. The handle is released on every path.
func (o *Orchestrator) collectFresh(ctx context.Context, target engine.Target) (string, error) {
	handle, err := o.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer o.pool.Release(handle)

	runCtx := ctx
	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
	}

	rep, err := o.runner.Run(runCtx, handle, engine.Request{Target: target})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &engine.Error{Target: target, Err: err}
		}
		var engErr *engine.Error
		if !errors.As(err, &engErr) && ctx.Err() == nil {
			// Engine implementations may return bare errors; classify
			// anything that produced no report as an engine failure.
			err = &engine.Error{Target: target, Err: err}
		}
		return "", err
	}
	if rep == nil {
		return "", &engine.Error{Target: target, Err: errors.New("engine returned no report")}
	}

	entry, err := o.cache.Insert(target, rep)
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

// CollectBatch audits up to concurrency targets at once. Every input
// appears exactly once in the result partition; one bad target never
// aborts its siblings.
func (o *Orchestrator) CollectBatch(ctx context.Context, targets []engine.Target, concurrency int) *BatchResult {
	if concurrency < 1 {
		concurrency = 1
	}

	result := &BatchResult{}
	if len(targets) == 0 {
		return result
	}

	stopWatch := o.startMemoryWatcher()
	defer stopWatch()

	sem := semaphore.NewWeighted(int64(concurrency))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, t := range targets {
		wg.Add(1)
		go func(target engine.Target) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				result.Failed = append(result.Failed, Failure{Target: target, Err: err, Reason: err.Error()})
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			outcome, err := o.collectWithRetry(ctx, target)
			mu.Lock()
			if err != nil {
				result.Failed = append(result.Failed, Failure{Target: target, Err: err, Reason: err.Error()})
			} else {
				result.Succeeded = append(result.Succeeded, *outcome)
			}
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	o.logger.Info("batch complete",
		zap.Int("targets", len(targets)),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)))
	return result
}

// collectWithRetry retries pool-exhaustion and engine failures with
// doubling backoff. Validation and cache IO failures fail immediately.
func (o *Orchestrator) collectWithRetry(ctx context.Context, target engine.Target) (*Outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.attempts(); attempt++ {
		outcome, err := o.CollectOne(ctx, target, false)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !retryable(err) || attempt == o.cfg.attempts() {
			break
		}
		delay := o.cfg.backoffBase() << (attempt - 1)
		o.logger.Warn("collection attempt failed, retrying",
			zap.String("url", target.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// retryable reports whether batch-level retry applies. Only pool
// exhaustion and engine failures qualify.
func retryable(err error) bool {
	if errors.Is(err, pool.ErrExhausted) {
		return true
	}
	var engErr *engine.Error
	return errors.As(err, &engErr)
}

// startMemoryWatcher samples the heap while a batch runs and warns past
// the configured threshold. It surfaces pressure, it never aborts work.
func (o *Orchestrator) startMemoryWatcher() func() {
	if o.cfg.MemoryWarnBytes == 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.cfg.memoryCheckEvery())
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				if m.HeapAlloc > o.cfg.MemoryWarnBytes {
					o.logger.Warn("memory pressure during batch",
						zap.Uint64("heap_alloc", m.HeapAlloc),
						zap.Uint64("threshold", o.cfg.MemoryWarnBytes),
						zap.Uint32("gc_cycles", m.NumGC))
				}
			}
		}
	}()
	return func() { close(done) }
}

func (o *Orchestrator) record(target engine.Target, entryID string, cached bool, attempts int, took time.Duration, err error) {
	if o.history == nil {
		return
	}
	o.history.Record(target, entryID, cached, attempts, took, err)
}

// normalize validates the target and fills defaults: empty device means
// mobile, an empty category set means performance-only.
func normalize(t engine.Target) (engine.Target, error) {
	u, err := url.Parse(t.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return t, &ValidationError{Target: t, Reason: "url must be absolute"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return t, &ValidationError{Target: t, Reason: "url scheme must be http or https"}
	}
	if t.Device == "" {
		t.Device = engine.DeviceMobile
	}
	if !t.Device.Valid() {
		return t, &ValidationError{Target: t, Reason: fmt.Sprintf("unknown device %q", t.Device)}
	}
	if len(t.Categories) == 0 {
		t.Categories = []string{"performance"}
	}
	return t, nil
}
