// Package report models the structured output of the external audit engine.
// The engine's JSON is treated read-only; missing fields degrade to zero
// values rather than errors.
package report

import (
	"encoding/json"
	"fmt"
)

// Report is one completed page audit as produced by the engine.
type Report struct {
	RequestedURL string              `json:"requestedUrl"`
	FinalURL     string              `json:"finalUrl"`
	FetchTime    string              `json:"fetchTime"`
	Audits       map[string]Audit    `json:"audits"`
	Categories   map[string]Category `json:"categories"`
}

// Audit is a single check with an optional score in [0,1].
// Score is nil for informational audits.
type Audit struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Score        *float64 `json:"score"`
	NumericValue float64  `json:"numericValue"`
	Details      *Details `json:"details,omitempty"`
}

// Details carries the resource-level rows attached to an audit.
type Details struct {
	Type                string           `json:"type"`
	Items               []map[string]any `json:"items,omitempty"`
	Chains              map[string]Chain `json:"chains,omitempty"`
	LongestChain        *ChainSummary    `json:"longestChain,omitempty"`
	OverallSavingsMs    float64          `json:"overallSavingsMs"`
	OverallSavingsBytes float64          `json:"overallSavingsBytes"`
}

// Chain is one node of the nested critical-request tree, keyed by request ID.
type Chain struct {
	Request  ChainRequest     `json:"request"`
	Children map[string]Chain `json:"children,omitempty"`
}

// ChainRequest holds the timing and size of a chain node.
// Times are seconds relative to navigation start.
type ChainRequest struct {
	URL                  string  `json:"url"`
	StartTime            float64 `json:"startTime"`
	EndTime              float64 `json:"endTime"`
	ResponseReceivedTime float64 `json:"responseReceivedTime"`
	TransferSize         int64   `json:"transferSize"`
}

// ChainSummary is the engine's own longest-chain rollup.
type ChainSummary struct {
	Duration     float64 `json:"duration"`
	Length       int     `json:"length"`
	TransferSize int64   `json:"transferSize"`
}

// Category groups audits with ordered weight references.
type Category struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Score     *float64   `json:"score"`
	AuditRefs []AuditRef `json:"auditRefs"`
}

// AuditRef ties an audit into a category with its scoring weight.
type AuditRef struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
	Group  string  `json:"group,omitempty"`
}

// NetworkRequest is one row of the engine's network-request list.
type NetworkRequest struct {
	URL          string
	StartMs      float64
	EndMs        float64
	TransferSize int64
	ResourceType string
	MimeType     string
}

// Parse decodes an engine report payload.
func Parse(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// Audit returns the audit with the given id, if present.
func (r *Report) Audit(id string) (Audit, bool) {
	a, ok := r.Audits[id]
	return a, ok
}

// CriticalChains returns the nested request-chain roots, or nil when the
// engine produced none.
func (r *Report) CriticalChains() map[string]Chain {
	a, ok := r.Audits["critical-request-chains"]
	if !ok || a.Details == nil {
		return nil
	}
	return a.Details.Chains
}

// NetworkRequests flattens the network-requests audit rows into typed
// records. Rows missing fields yield zero values.
func (r *Report) NetworkRequests() []NetworkRequest {
	a, ok := r.Audits["network-requests"]
	if !ok || a.Details == nil {
		return nil
	}
	out := make([]NetworkRequest, 0, len(a.Details.Items))
	for _, item := range a.Details.Items {
		req := NetworkRequest{
			URL:          itemString(item, "url"),
			StartMs:      itemFloat(item, "networkRequestTime"),
			EndMs:        itemFloat(item, "networkEndTime"),
			TransferSize: int64(itemFloat(item, "transferSize")),
			ResourceType: itemString(item, "resourceType"),
			MimeType:     itemString(item, "mimeType"),
		}
		if req.StartMs == 0 {
			req.StartMs = itemFloat(item, "startTime")
		}
		if req.EndMs == 0 {
			req.EndMs = itemFloat(item, "endTime")
		}
		out = append(out, req)
	}
	return out
}

// PaintElement returns the explicit resource URL and the element snippet
// reported for the largest visual paint. Either may be empty.
func (r *Report) PaintElement() (url, snippet string) {
	if a, ok := r.Audits["largest-contentful-paint-element"]; ok && a.Details != nil {
		for _, item := range a.Details.Items {
			if u := itemString(item, "url"); u != "" && url == "" {
				url = u
			}
			if node, ok := item["node"].(map[string]any); ok {
				if s := itemString(node, "snippet"); s != "" && snippet == "" {
					snippet = s
				}
			}
			// Older engines nest element rows one table deeper.
			if sub, ok := item["items"].([]any); ok {
				for _, raw := range sub {
					row, ok := raw.(map[string]any)
					if !ok {
						continue
					}
					if node, ok := row["node"].(map[string]any); ok {
						if s := itemString(node, "snippet"); s != "" && snippet == "" {
							snippet = s
						}
					}
				}
			}
		}
	}
	if url == "" {
		if a, ok := r.Audits["lcp-lazy-loaded"]; ok && a.Details != nil {
			for _, item := range a.Details.Items {
				if u := itemString(item, "url"); u != "" {
					url = u
					break
				}
			}
		}
	}
	return url, snippet
}

func itemString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func itemFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}
