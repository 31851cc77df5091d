// Package engine defines the contract with the external audit engine that
// drives the browser and computes raw scores. pagescope never implements
// the instrumentation itself; it leases a browser process to the engine and
// consumes the resulting report.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pagescope/internal/report"
)

// Device selects the emulation profile for a run.
type Device string

const (
	DeviceMobile  Device = "mobile"
	DeviceDesktop Device = "desktop"
)

// Valid reports whether d is a known device profile.
func (d Device) Valid() bool {
	return d == DeviceMobile || d == DeviceDesktop
}

// Target identifies one audit request. Category order is irrelevant for
// identity; Key and SortedCategories normalize it.
type Target struct {
	URL        string   `json:"url" yaml:"url"`
	Device     Device   `json:"device" yaml:"device"`
	Categories []string `json:"categories" yaml:"categories"`
}

// SortedCategories returns the category set sorted and deduplicated.
func (t Target) SortedCategories() []string {
	seen := make(map[string]struct{}, len(t.Categories))
	out := make([]string, 0, len(t.Categories))
	for _, c := range t.Categories {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Key is the normalized identity string hashed by the cache.
func (t Target) Key() string {
	return t.URL + "\n" + string(t.Device) + "\n" + strings.Join(t.SortedCategories(), ",")
}

// Request is the full input to one engine invocation.
type Request struct {
	Target      Target
	Throttling  string   // optional network-throttling profile name
	BlockedURLs []string // optional URL patterns the engine must block
}

// Browser is the leased process the engine drives. The pool owns the
// concrete type; the engine only needs its DevTools endpoint.
type Browser interface {
	// ControlURL returns the WebSocket debugger URL of the process.
	ControlURL() string
}

// Runner produces one report per invocation. Implementations must honor
// ctx cancellation; a cancelled run counts as a retryable failure.
type Runner interface {
	Run(ctx context.Context, browser Browser, req Request) (*report.Report, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, browser Browser, req Request) (*report.Report, error)

func (f RunnerFunc) Run(ctx context.Context, browser Browser, req Request) (*report.Report, error) {
	return f(ctx, browser, req)
}

// Error wraps any engine failure that produced no usable report.
type Error struct {
	Target Target
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("audit engine failed for %s: %v", e.Target.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
