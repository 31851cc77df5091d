package analysis

import (
	"sort"

	"pagescope/internal/report"
)

// Issue is one failing audit weighted by its category membership.
type Issue struct {
	AuditID  string  `json:"audit_id"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Impact   float64 `json:"impact"` // (1 - score) * weight
}

// IssueRanking holds the top weighted issues and per-category aggregates.
type IssueRanking struct {
	Items          []Issue            `json:"items"`
	CategoryTotals map[string]float64 `json:"category_totals"`
}

// RankIssues weights every audit with a non-null score below 1 by
// (1 − score) × weight, returning the top n plus category totals.
// Pure function over the report; no side effects.
func RankIssues(rep *report.Report, topN int) *IssueRanking {
	ranking := &IssueRanking{
		Items:          []Issue{},
		CategoryTotals: make(map[string]float64),
	}

	categoryIDs := make([]string, 0, len(rep.Categories))
	for id := range rep.Categories {
		categoryIDs = append(categoryIDs, id)
	}
	sort.Strings(categoryIDs)

	for _, catID := range categoryIDs {
		cat := rep.Categories[catID]
		for _, ref := range cat.AuditRefs {
			audit, ok := rep.Audits[ref.ID]
			if !ok || audit.Score == nil || *audit.Score >= 1 || ref.Weight <= 0 {
				continue
			}
			impact := (1 - *audit.Score) * ref.Weight
			ranking.Items = append(ranking.Items, Issue{
				AuditID:  ref.ID,
				Title:    audit.Title,
				Category: catID,
				Score:    *audit.Score,
				Weight:   ref.Weight,
				Impact:   impact,
			})
			ranking.CategoryTotals[catID] += impact
		}
	}

	sort.SliceStable(ranking.Items, func(i, j int) bool {
		if ranking.Items[i].Impact != ranking.Items[j].Impact {
			return ranking.Items[i].Impact > ranking.Items[j].Impact
		}
		return ranking.Items[i].AuditID < ranking.Items[j].AuditID
	})
	if topN > 0 && len(ranking.Items) > topN {
		ranking.Items = ranking.Items[:topN]
	}
	return ranking
}
