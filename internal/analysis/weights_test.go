package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagescope/internal/report"
)

func weightedReport() *report.Report {
	return &report.Report{
		Audits: map[string]report.Audit{
			"render-blocking-resources": {ID: "render-blocking-resources", Title: "Eliminate render-blocking resources", Score: floatPtr(0.5)},
			"unused-javascript":         {ID: "unused-javascript", Title: "Reduce unused JavaScript", Score: floatPtr(0.75)},
			"uses-http2":                {ID: "uses-http2", Title: "Use HTTP/2", Score: floatPtr(1.0)},
			"informational":             {ID: "informational", Title: "Diagnostics", Score: nil},
			"color-contrast":            {ID: "color-contrast", Title: "Background and foreground colors", Score: floatPtr(0)},
		},
		Categories: map[string]report.Category{
			"performance": {
				ID: "performance",
				AuditRefs: []report.AuditRef{
					{ID: "render-blocking-resources", Weight: 20},
					{ID: "unused-javascript", Weight: 20},
					{ID: "uses-http2", Weight: 10},
					{ID: "informational", Weight: 0},
				},
			},
			"accessibility": {
				ID: "accessibility",
				AuditRefs: []report.AuditRef{
					{ID: "color-contrast", Weight: 3},
				},
			},
		},
	}
}

func TestRankIssuesWeighting(t *testing.T) {
	ranking := RankIssues(weightedReport(), 10)

	require.Len(t, ranking.Items, 3)
	top := ranking.Items[0]
	assert.Equal(t, "render-blocking-resources", top.AuditID)
	assert.InDelta(t, 10.0, top.Impact, 1e-9, "score 0.5 with weight 20 weighs 10.0")

	assert.Equal(t, "unused-javascript", ranking.Items[1].AuditID)
	assert.InDelta(t, 5.0, ranking.Items[1].Impact, 1e-9)

	assert.Equal(t, "color-contrast", ranking.Items[2].AuditID)
	assert.InDelta(t, 3.0, ranking.Items[2].Impact, 1e-9)
}

func TestRankIssuesSkipsPassingNullAndUnweighted(t *testing.T) {
	ranking := RankIssues(weightedReport(), 10)
	for _, item := range ranking.Items {
		assert.NotEqual(t, "uses-http2", item.AuditID, "perfect scores are not issues")
		assert.NotEqual(t, "informational", item.AuditID, "null scores are not issues")
	}
}

func TestRankIssuesTopN(t *testing.T) {
	ranking := RankIssues(weightedReport(), 1)
	require.Len(t, ranking.Items, 1)
	assert.Equal(t, "render-blocking-resources", ranking.Items[0].AuditID)

	// Totals aggregate everything, not just the returned slice.
	assert.InDelta(t, 15.0, ranking.CategoryTotals["performance"], 1e-9)
	assert.InDelta(t, 3.0, ranking.CategoryTotals["accessibility"], 1e-9)
}

func TestRankIssuesEmptyReport(t *testing.T) {
	ranking := RankIssues(&report.Report{}, 5)
	assert.Empty(t, ranking.Items)
	assert.Empty(t, ranking.CategoryTotals)
}
