package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagescope/internal/config"
	"pagescope/internal/engine"
	"pagescope/internal/pool"
	"pagescope/internal/report"
)

type fakeProc struct{}

func (fakeProc) ControlURL() string { return "ws://127.0.0.1:9222/fake" }
func (fakeProc) Alive() bool        { return true }
func (fakeProc) Close() error       { return nil }

type fakeFactory struct{}

func (fakeFactory) New(ctx context.Context) (pool.Proc, error) { return fakeProc{}, nil }

// fakeRunner serves a canned report with a critical chain and one
// weighted failing audit.
func fakeRunner() engine.Runner {
	score := 0.5
	return engine.RunnerFunc(func(ctx context.Context, b engine.Browser, req engine.Request) (*report.Report, error) {
		return &report.Report{
			FinalURL: req.Target.URL,
			Audits: map[string]report.Audit{
				"render-blocking-resources": {ID: "render-blocking-resources", Score: &score},
				"critical-request-chains": {
					Details: &report.Details{
						Chains: map[string]report.Chain{
							"root": {Request: report.ChainRequest{URL: req.Target.URL, StartTime: 0, EndTime: 2.6}},
						},
					},
				},
			},
			Categories: map[string]report.Category{
				"performance": {ID: "performance", AuditRefs: []report.AuditRef{
					{ID: "render-blocking-resources", Weight: 20},
				}},
			},
		}, nil
	})
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.History.Path = filepath.Join(dir, "history.db")

	svc, err := NewWithFactory(cfg, fakeRunner(), fakeFactory{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestCollectAnalyzeRankRoundTrip(t *testing.T) {
	svc := newTestService(t)

	outcome, err := svc.CollectOne(context.Background(), engine.Target{URL: "https://example.com"}, false)
	require.NoError(t, err)
	require.False(t, outcome.Cached)

	analysis, err := svc.AnalyzeEntry(outcome.EntryID)
	require.NoError(t, err)
	require.Len(t, analysis.CriticalPath, 1)
	require.Len(t, analysis.Bottlenecks, 1)
	assert.EqualValues(t, "critical", analysis.Bottlenecks[0].Severity)

	ranking, err := svc.RankEntryIssues(outcome.EntryID, 5)
	require.NoError(t, err)
	require.Len(t, ranking.Items, 1)
	assert.InDelta(t, 10.0, ranking.Items[0].Impact, 1e-9)

	entries := svc.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, outcome.EntryID, entries[0].ID)

	records, err := svc.Recent(5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].Outcome)
}

func TestAnalyzeUnknownEntry(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.AnalyzeEntry("no-such-entry")
	require.Error(t, err)
}

func TestBatchUsesConfiguredConcurrency(t *testing.T) {
	svc := newTestService(t)
	result := svc.CollectBatch(context.Background(), []engine.Target{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b"},
	}, 0)
	assert.Len(t, result.Succeeded, 2)
	assert.Empty(t, result.Failed)
}
