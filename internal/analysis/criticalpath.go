// Package analysis turns a stored audit report into ranked findings:
// the request chain gating the largest visual paint, its bottlenecks,
// and a deterministic set of optimization suggestions.
package analysis

import (
	"fmt"
	"sort"

	"pagescope/internal/report"
)

// Severity tiers for a bottleneck, worst first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
}

// ChainNode is one request in the dependency graph derived from the
// report's nested chain structure.
type ChainNode struct {
	ID             string   `json:"id"`
	URL            string   `json:"url"`
	StartMs        float64  `json:"start_ms"`
	EndMs          float64  `json:"end_ms"`
	TransferSize   int64    `json:"transfer_size"`
	Depth          int      `json:"depth"`
	ResourceType   string   `json:"resource_type"`
	OnCriticalPath bool     `json:"on_critical_path"`
	Children       []string `json:"children,omitempty"`
}

// DurationMs is the node's wall time on the network.
func (n *ChainNode) DurationMs() float64 { return n.EndMs - n.StartMs }

// Bottleneck is a critical-path node exceeding severity thresholds.
type Bottleneck struct {
	URL          string   `json:"url"`
	Severity     Severity `json:"severity"`
	DurationMs   float64  `json:"duration_ms"`
	TransferSize int64    `json:"transfer_size"`
	Depth        int      `json:"depth"`
	Reasons      []string `json:"reasons"`
}

// Suggestion is one rule-table optimization hint.
type Suggestion struct {
	Priority    string `json:"priority"` // high, medium, low
	Kind        string `json:"kind"`     // preload, inline, defer, prefetch
	URL         string `json:"url"`
	Description string `json:"description"`
}

var priorityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

// CriticalPathResult is the full analyzer output. For identical input it
// is reproducible bit for bit.
type CriticalPathResult struct {
	PaintResourceURL string       `json:"paint_resource_url,omitempty"`
	Fallback         bool         `json:"fallback"`
	CriticalPath     []ChainNode  `json:"critical_path"`
	Bottlenecks      []Bottleneck `json:"bottlenecks"`
	Suggestions      []Suggestion `json:"suggestions"`
}

// Severity thresholds.
const (
	durationCriticalMs = 2000.0
	durationHighMs     = 1000.0
	durationMediumMs   = 500.0
	bytesHigh          = 500 * 1024
	depthMedium        = 5
	lateStartMs        = 1000.0
	prefetchDepth      = 4
	shallowDepth       = 2
)

// AnalyzeCriticalPath reconstructs the request-dependency graph of rep,
// attributes it to the largest visual paint, and ranks bottlenecks and
// suggestions.
func AnalyzeCriticalPath(rep *report.Report) *CriticalPathResult {
	g := buildGraph(rep)
	result := &CriticalPathResult{
		CriticalPath: []ChainNode{},
		Bottlenecks:  []Bottleneck{},
		Suggestions:  []Suggestion{},
	}
	if len(g.nodes) == 0 {
		return result
	}

	paintURL := resolvePaintResource(rep)
	paintID := g.nodeByURL(paintURL)
	if paintID == "" {
		// No identifiable paint resource: report the whole chain.
		result.Fallback = true
		for _, id := range g.order {
			g.nodes[id].OnCriticalPath = true
		}
	} else {
		result.PaintResourceURL = g.nodes[paintID].URL
		for _, root := range g.roots {
			g.markCriticalPath(root, paintID)
		}
	}

	for _, id := range g.order {
		if g.nodes[id].OnCriticalPath {
			result.CriticalPath = append(result.CriticalPath, *g.nodes[id])
		}
	}
	sort.SliceStable(result.CriticalPath, func(i, j int) bool {
		a, b := result.CriticalPath[i], result.CriticalPath[j]
		if a.StartMs != b.StartMs {
			return a.StartMs < b.StartMs
		}
		return a.URL < b.URL
	})

	result.Bottlenecks = findBottlenecks(result.CriticalPath)
	result.Suggestions = suggest(g, result)
	return result
}

type graph struct {
	nodes map[string]*ChainNode
	roots []string
	order []string // deterministic node order (sorted insertion keys)
}

// buildGraph flattens the nested chain tree into an id → node map with
// child-id lists. A URL already on the current traversal path is not
// revisited, which makes cycle safety explicit.
func buildGraph(rep *report.Report) *graph {
	g := &graph{nodes: make(map[string]*ChainNode)}
	chains := rep.CriticalChains()
	if len(chains) == 0 {
		return g
	}

	types := make(map[string]string)
	for _, nr := range rep.NetworkRequests() {
		if nr.URL != "" && nr.ResourceType != "" {
			types[nr.URL] = nr.ResourceType
		}
	}

	var walk func(id string, chain report.Chain, depth int, onPath map[string]bool) string
	walk = func(id string, chain report.Chain, depth int, onPath map[string]bool) string {
		node := &ChainNode{
			ID:           id,
			URL:          chain.Request.URL,
			StartMs:      chain.Request.StartTime * 1000,
			EndMs:        chain.Request.EndTime * 1000,
			TransferSize: chain.Request.TransferSize,
			Depth:        depth,
			ResourceType: types[chain.Request.URL],
		}
		g.nodes[id] = node
		g.order = append(g.order, id)

		onPath[chain.Request.URL] = true
		for _, childKey := range sortedKeys(chain.Children) {
			child := chain.Children[childKey]
			if onPath[child.Request.URL] {
				continue
			}
			childID := walk(id+"/"+childKey, child, depth+1, onPath)
			node.Children = append(node.Children, childID)
		}
		delete(onPath, chain.Request.URL)
		return id
	}

	for _, key := range sortedKeys(chains) {
		g.roots = append(g.roots, walk(key, chains[key], 1, make(map[string]bool)))
	}
	return g
}

// nodeByURL finds the node whose URL matches, preferring the earliest in
// deterministic order. Empty url yields "".
func (g *graph) nodeByURL(url string) string {
	if url == "" {
		return ""
	}
	for _, id := range g.order {
		if g.nodes[id].URL == url {
			return id
		}
	}
	return ""
}

// markCriticalPath marks id when it is the paint resource or an ancestor
// of it, and reports whether its subtree leads there. A node is marked as
// soon as any child leads to the paint resource; siblings of that child
// are not marked, but temporal precedence is not checked. This keeps the
// known over-inclusive ancestor behavior of the source data.
func (g *graph) markCriticalPath(id, paintID string) bool {
	node := g.nodes[id]
	leads := id == paintID
	for _, child := range node.Children {
		if g.markCriticalPath(child, paintID) {
			leads = true
		}
	}
	if leads {
		node.OnCriticalPath = true
	}
	return leads
}

// findBottlenecks classifies critical-path nodes by the worst tier any of
// the three signals triggers; nodes triggering none are excluded.
func findBottlenecks(path []ChainNode) []Bottleneck {
	out := []Bottleneck{}
	for _, n := range path {
		var (
			tier    = -1
			reasons []string
		)
		bump := func(s Severity, reason string) {
			if tier == -1 || severityRank[s] < tier {
				tier = severityRank[s]
			}
			reasons = append(reasons, reason)
		}

		d := n.DurationMs()
		switch {
		case d > durationCriticalMs:
			bump(SeverityCritical, fmt.Sprintf("duration %.0fms exceeds %.0fms", d, durationCriticalMs))
		case d > durationHighMs:
			bump(SeverityHigh, fmt.Sprintf("duration %.0fms exceeds %.0fms", d, durationHighMs))
		case d > durationMediumMs:
			bump(SeverityMedium, fmt.Sprintf("duration %.0fms exceeds %.0fms", d, durationMediumMs))
		}
		if n.TransferSize > bytesHigh {
			bump(SeverityHigh, fmt.Sprintf("transfer size %dKB exceeds %dKB", n.TransferSize/1024, bytesHigh/1024))
		}
		if n.Depth > depthMedium {
			bump(SeverityMedium, fmt.Sprintf("chain depth %d exceeds %d", n.Depth, depthMedium))
		}
		if tier == -1 {
			continue
		}

		var sev Severity
		for s, r := range severityRank {
			if r == tier {
				sev = s
			}
		}
		out = append(out, Bottleneck{
			URL:          n.URL,
			Severity:     sev,
			DurationMs:   d,
			TransferSize: n.TransferSize,
			Depth:        n.Depth,
			Reasons:      reasons,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if severityRank[out[i].Severity] != severityRank[out[j].Severity] {
			return severityRank[out[i].Severity] < severityRank[out[j].Severity]
		}
		if out[i].DurationMs != out[j].DurationMs {
			return out[i].DurationMs > out[j].DurationMs
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// suggest applies the deterministic rule table: late paint resource →
// preload, shallow render-blocking stylesheet → inline, off-path script →
// defer, deep node → prefetch.
func suggest(g *graph, result *CriticalPathResult) []Suggestion {
	out := []Suggestion{}
	seen := make(map[string]bool)
	add := func(s Suggestion) {
		key := s.Kind + "|" + s.URL
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	if result.PaintResourceURL != "" {
		if id := g.nodeByURL(result.PaintResourceURL); id != "" {
			if n := g.nodes[id]; n.StartMs > lateStartMs {
				add(Suggestion{
					Priority:    "high",
					Kind:        "preload",
					URL:         n.URL,
					Description: fmt.Sprintf("paint resource starts %.0fms into the timeline; preload it", n.StartMs),
				})
			}
		}
	}

	for _, id := range g.order {
		n := g.nodes[id]
		switch {
		case isStylesheet(n.ResourceType) && n.OnCriticalPath && n.Depth <= shallowDepth:
			add(Suggestion{
				Priority:    "high",
				Kind:        "inline",
				URL:         n.URL,
				Description: "shallow render-blocking stylesheet; inline its critical rules",
			})
		case isScript(n.ResourceType) && !n.OnCriticalPath:
			add(Suggestion{
				Priority:    "low",
				Kind:        "defer",
				URL:         n.URL,
				Description: "script is off the critical path; load it with defer",
			})
		}
		if n.Depth > prefetchDepth {
			add(Suggestion{
				Priority:    "medium",
				Kind:        "prefetch",
				URL:         n.URL,
				Description: fmt.Sprintf("request sits %d levels deep in the chain; prefetch it earlier", n.Depth),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if priorityRank[out[i].Priority] != priorityRank[out[j].Priority] {
			return priorityRank[out[i].Priority] < priorityRank[out[j].Priority]
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].URL < out[j].URL
	})
	return out
}

func isStylesheet(resourceType string) bool {
	return resourceType == "Stylesheet" || resourceType == "stylesheet" || resourceType == "css"
}

func isScript(resourceType string) bool {
	return resourceType == "Script" || resourceType == "script"
}

func sortedKeys(m map[string]report.Chain) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
