// Package service wires the cache, pool, history log and orchestrator into
// the four operations exposed outward. Outer layers (CLI, protocol
// servers) call only this facade.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"pagescope/internal/analysis"
	"pagescope/internal/cache"
	"pagescope/internal/collect"
	"pagescope/internal/config"
	"pagescope/internal/engine"
	"pagescope/internal/history"
	"pagescope/internal/pool"
	"pagescope/internal/report"
)

// Service owns every stateful component of pagescope.
type Service struct {
	cfg     config.Config
	logger  *zap.Logger
	cache   *cache.Cache
	pool    *pool.Pool
	history *history.Log
	orch    *collect.Orchestrator
}

// New builds a service from configuration and an audit engine runner,
// launching real Chrome processes on demand.
func New(cfg config.Config, runner engine.Runner, logger *zap.Logger) (*Service, error) {
	factory := &pool.RodFactory{
		Bin:            cfg.Pool.ChromePath,
		Headless:       cfg.Pool.IsHeadless(),
		LaunchFlags:    cfg.Pool.LaunchFlags,
		ConnectTimeout: cfg.Pool.ConnectTimeout(),
	}
	if logger != nil {
		factory.Logger = logger.Named("pool")
	}
	return NewWithFactory(cfg, runner, factory, logger)
}

// NewWithFactory is New with an injectable browser factory. The cache
// handle is explicit here rather than a lazy global so tests can construct
// isolated instances.
func NewWithFactory(cfg config.Config, runner engine.Runner, factory pool.Factory, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reportCache := cache.New(cfg.Cache.Dir, cfg.Cache.MaxEntries, cfg.Cache.CacheMaxAge(), logger.Named("cache"))
	browserPool := pool.New(cfg.Pool.Capacity, factory, logger.Named("pool"))

	var hist *history.Log
	if cfg.History.IsEnabled() && cfg.History.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
		h, err := history.Open(cfg.History.Path, logger.Named("history"))
		if err != nil {
			return nil, err
		}
		hist = h
	}

	orch := collect.New(reportCache, browserPool, runner, hist, collect.Config{
		MaxAge:          cfg.Collect.FreshnessMaxAge(),
		AttemptTimeout:  cfg.Collect.AttemptTimeout(),
		Attempts:        cfg.Collect.Attempts,
		BackoffBase:     cfg.Collect.Backoff(),
		MemoryWarnBytes: cfg.Collect.MemoryWarnBytes(),
	}, logger.Named("collect"))

	return &Service{
		cfg:     cfg,
		logger:  logger,
		cache:   reportCache,
		pool:    browserPool,
		history: hist,
		orch:    orch,
	}, nil
}

// CollectOne audits one target, serving a fresh cached report unless
// forceRefresh is set.
func (s *Service) CollectOne(ctx context.Context, target engine.Target, forceRefresh bool) (*collect.Outcome, error) {
	return s.orch.CollectOne(ctx, target, forceRefresh)
}

// CollectBatch audits many targets with bounded concurrency. Zero
// concurrency uses the configured default.
func (s *Service) CollectBatch(ctx context.Context, targets []engine.Target, concurrency int) *collect.BatchResult {
	if concurrency < 1 {
		concurrency = s.cfg.Collect.Concurrency
	}
	return s.orch.CollectBatch(ctx, targets, concurrency)
}

// AnalyzeCriticalPath runs the critical-path analysis over a report.
func (s *Service) AnalyzeCriticalPath(rep *report.Report) *analysis.CriticalPathResult {
	return analysis.AnalyzeCriticalPath(rep)
}

// AnalyzeEntry loads a stored report by cache entry ID and analyzes it.
func (s *Service) AnalyzeEntry(entryID string) (*analysis.CriticalPathResult, error) {
	rep, err := s.loadEntry(entryID)
	if err != nil {
		return nil, err
	}
	return analysis.AnalyzeCriticalPath(rep), nil
}

// RankIssues weights a report's failing audits.
func (s *Service) RankIssues(rep *report.Report, topN int) *analysis.IssueRanking {
	return analysis.RankIssues(rep, topN)
}

// RankEntryIssues loads a stored report by cache entry ID and ranks its
// failing audits.
func (s *Service) RankEntryIssues(entryID string, topN int) (*analysis.IssueRanking, error) {
	rep, err := s.loadEntry(entryID)
	if err != nil {
		return nil, err
	}
	return analysis.RankIssues(rep, topN), nil
}

// Entries lists the cache index, newest first.
func (s *Service) Entries() []cache.Entry {
	return s.cache.Entries()
}

// Recent returns the latest collection history records.
func (s *Service) Recent(n int) ([]history.Record, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(n)
}

// Close destroys every browser process and releases the history database.
func (s *Service) Close() error {
	errPool := s.pool.CloseAll()
	if s.history != nil {
		if err := s.history.Close(); err != nil && errPool == nil {
			errPool = err
		}
	}
	return errPool
}

func (s *Service) loadEntry(entryID string) (*report.Report, error) {
	entry, ok := s.cache.Get(entryID)
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", entryID, cache.ErrNotFound)
	}
	return s.cache.Load(entry)
}
