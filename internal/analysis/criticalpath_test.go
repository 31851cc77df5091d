package analysis

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagescope/internal/report"
)

func floatPtr(f float64) *float64 { return &f }

// chainReport builds root → a → b → hero.jpg (the paint resource) plus an
// unrelated root → analytics.js branch.
func chainReport() *report.Report {
	return &report.Report{
		FinalURL: "https://site.example/",
		Audits: map[string]report.Audit{
			"critical-request-chains": {
				ID: "critical-request-chains",
				Details: &report.Details{
					Chains: map[string]report.Chain{
						"root": {
							Request: report.ChainRequest{URL: "https://site.example/", StartTime: 0, EndTime: 0.2, TransferSize: 5_000},
							Children: map[string]report.Chain{
								"a": {
									Request: report.ChainRequest{URL: "https://site.example/css/app.css", StartTime: 0.2, EndTime: 0.4, TransferSize: 10_000},
									Children: map[string]report.Chain{
										"b": {
											Request: report.ChainRequest{URL: "https://site.example/js/bundle.js", StartTime: 0.45, EndTime: 1.4, TransferSize: 80_000},
											Children: map[string]report.Chain{
												"paint": {
													Request: report.ChainRequest{URL: "https://site.example/img/hero.jpg", StartTime: 1.5, EndTime: 1.9, TransferSize: 120_000},
												},
											},
										},
									},
								},
								"c": {
									Request: report.ChainRequest{URL: "https://site.example/js/analytics.js", StartTime: 0.25, EndTime: 0.5, TransferSize: 3_000},
								},
							},
						},
					},
				},
			},
			"largest-contentful-paint-element": {
				ID: "largest-contentful-paint-element",
				Details: &report.Details{
					Items: []map[string]any{
						{"node": map[string]any{"snippet": `<img class="hero" src="/img/hero.jpg">`}},
					},
				},
			},
			"network-requests": {
				ID: "network-requests",
				Details: &report.Details{
					Items: []map[string]any{
						{"url": "https://site.example/", "resourceType": "Document"},
						{"url": "https://site.example/css/app.css", "resourceType": "Stylesheet"},
						{"url": "https://site.example/js/bundle.js", "resourceType": "Script"},
						{"url": "https://site.example/js/analytics.js", "resourceType": "Script"},
						{"url": "https://site.example/img/hero.jpg", "resourceType": "Image"},
					},
				},
			},
		},
	}
}

func TestCriticalPathExcludesUnrelatedBranch(t *testing.T) {
	result := AnalyzeCriticalPath(chainReport())

	require.False(t, result.Fallback)
	assert.Equal(t, "https://site.example/img/hero.jpg", result.PaintResourceURL)

	urls := make([]string, 0, len(result.CriticalPath))
	for _, n := range result.CriticalPath {
		urls = append(urls, n.URL)
	}
	assert.Equal(t, []string{
		"https://site.example/",
		"https://site.example/css/app.css",
		"https://site.example/js/bundle.js",
		"https://site.example/img/hero.jpg",
	}, urls, "path is root→a→b→paint in start-time order, analytics excluded")
}

func TestFallbackWholeChainWithoutPaintResource(t *testing.T) {
	rep := chainReport()
	delete(rep.Audits, "largest-contentful-paint-element")

	result := AnalyzeCriticalPath(rep)
	require.True(t, result.Fallback)
	assert.Len(t, result.CriticalPath, 5, "with no paint resource the whole chain is reported")
}

func TestEmptyReport(t *testing.T) {
	result := AnalyzeCriticalPath(&report.Report{})
	assert.Empty(t, result.CriticalPath)
	assert.Empty(t, result.Bottlenecks)
	assert.Empty(t, result.Suggestions)
}

func singleNodeReport(durationMs float64, transferSize int64) *report.Report {
	return &report.Report{
		FinalURL: "https://site.example/",
		Audits: map[string]report.Audit{
			"critical-request-chains": {
				Details: &report.Details{
					Chains: map[string]report.Chain{
						"root": {
							Request: report.ChainRequest{
								URL:          "https://site.example/slow.bin",
								StartTime:    0,
								EndTime:      durationMs / 1000,
								TransferSize: transferSize,
							},
						},
					},
				},
			},
		},
	}
}

func TestSeverityThresholds(t *testing.T) {
	tests := []struct {
		name       string
		durationMs float64
		bytes      int64
		want       Severity
		excluded   bool
	}{
		{"critical duration", 2600, 1_000, SeverityCritical, false},
		{"high duration", 1200, 1_000, SeverityHigh, false},
		{"medium duration", 700, 1_000, SeverityMedium, false},
		{"below all thresholds", 300, 1_000, "", true},
		{"small duration but heavy transfer", 300, 600 * 1024, SeverityHigh, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AnalyzeCriticalPath(singleNodeReport(tt.durationMs, tt.bytes))
			if tt.excluded {
				assert.Empty(t, result.Bottlenecks)
				return
			}
			require.Len(t, result.Bottlenecks, 1)
			b := result.Bottlenecks[0]
			assert.Equal(t, tt.want, b.Severity)
			assert.NotEmpty(t, b.Reasons)
		})
	}
}

func TestDeepChainEscalatesAndSuggestsPrefetch(t *testing.T) {
	// Build a 6-deep chain of fast, small requests.
	leaf := report.Chain{Request: report.ChainRequest{URL: "https://site.example/d6", StartTime: 0.5, EndTime: 0.55}}
	chain := leaf
	for i := 5; i >= 1; i-- {
		chain = report.Chain{
			Request:  report.ChainRequest{URL: "https://site.example/d" + string(rune('0'+i)), StartTime: float64(i) * 0.05, EndTime: float64(i)*0.05 + 0.04},
			Children: map[string]report.Chain{"next": chain},
		}
	}
	rep := &report.Report{
		FinalURL: "https://site.example/",
		Audits: map[string]report.Audit{
			"critical-request-chains": {Details: &report.Details{Chains: map[string]report.Chain{"root": chain}}},
		},
	}

	result := AnalyzeCriticalPath(rep)
	require.NotEmpty(t, result.Bottlenecks)
	deepest := result.Bottlenecks[len(result.Bottlenecks)-1]
	assert.Equal(t, SeverityMedium, deepest.Severity)
	assert.Equal(t, 6, deepest.Depth)

	var prefetch []Suggestion
	for _, s := range result.Suggestions {
		if s.Kind == "prefetch" {
			prefetch = append(prefetch, s)
		}
	}
	require.Len(t, prefetch, 2, "nodes beyond depth 4 get a prefetch suggestion")
}

func TestSuggestionRuleTable(t *testing.T) {
	result := AnalyzeCriticalPath(chainReport())

	kinds := make(map[string]Suggestion)
	for _, s := range result.Suggestions {
		kinds[s.Kind] = s
	}

	preload, ok := kinds["preload"]
	require.True(t, ok, "late-starting paint resource must yield a preload suggestion")
	assert.Equal(t, "high", preload.Priority)
	assert.Equal(t, "https://site.example/img/hero.jpg", preload.URL)

	inline, ok := kinds["inline"]
	require.True(t, ok, "shallow render-blocking stylesheet must yield an inline suggestion")
	assert.Equal(t, "https://site.example/css/app.css", inline.URL)

	deferS, ok := kinds["defer"]
	require.True(t, ok, "off-path script must yield a defer suggestion")
	assert.Equal(t, "https://site.example/js/analytics.js", deferS.URL)
	assert.Equal(t, "low", deferS.Priority)

	// Priority ordering: high before medium before low.
	lastRank := -1
	for _, s := range result.Suggestions {
		rank := priorityRank[s.Priority]
		assert.GreaterOrEqual(t, rank, lastRank)
		lastRank = rank
	}
}

func TestAnalysisIsReproducible(t *testing.T) {
	a := AnalyzeCriticalPath(chainReport())
	b := AnalyzeCriticalPath(chainReport())

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("analysis not deterministic (-first +second):\n%s", diff)
	}

	aJSON, err := json.Marshal(a)
	require.NoError(t, err)
	bJSON, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, aJSON, bJSON, "output must be reproducible bit for bit")
}

func TestCycleGuard(t *testing.T) {
	// a → b → a would recurse forever without the on-path URL guard.
	rep := &report.Report{
		Audits: map[string]report.Audit{
			"critical-request-chains": {
				Details: &report.Details{
					Chains: map[string]report.Chain{
						"a": {
							Request: report.ChainRequest{URL: "https://site.example/a", StartTime: 0, EndTime: 0.1},
							Children: map[string]report.Chain{
								"b": {
									Request: report.ChainRequest{URL: "https://site.example/b", StartTime: 0.1, EndTime: 0.2},
									Children: map[string]report.Chain{
										"a-again": {
											Request: report.ChainRequest{URL: "https://site.example/a", StartTime: 0.2, EndTime: 0.3},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
	result := AnalyzeCriticalPath(rep)
	assert.Len(t, result.CriticalPath, 2, "revisited URL on the traversal path is skipped")
}
