package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pagescope/internal/report"
)

// CLIRunner invokes an external audit engine binary (lighthouse by
// default) against the DevTools port of a leased browser process and
// decodes its JSON report.
type CLIRunner struct {
	// Bin is the engine executable; empty means "lighthouse" on PATH.
	Bin string
	// ExtraArgs are appended verbatim to every invocation.
	ExtraArgs []string

	Logger *zap.Logger
}

func (r *CLIRunner) bin() string {
	if r.Bin == "" {
		return "lighthouse"
	}
	return r.Bin
}

// Run executes one audit. Any failure to produce a usable report comes
// back as *Error so the orchestrator can classify it as retryable.
func (r *CLIRunner) Run(ctx context.Context, browser Browser, req Request) (*report.Report, error) {
	port, err := devtoolsPort(browser.ControlURL())
	if err != nil {
		return nil, &Error{Target: req.Target, Err: err}
	}

	args := []string{
		req.Target.URL,
		"--output=json",
		"--quiet",
		"--port=" + strconv.Itoa(port),
	}
	if req.Target.Device == DeviceDesktop {
		args = append(args, "--preset=desktop")
	}
	if cats := req.Target.SortedCategories(); len(cats) > 0 {
		args = append(args, "--only-categories="+strings.Join(cats, ","))
	}
	if req.Throttling != "" {
		args = append(args, "--throttling-method="+req.Throttling)
	}
	for _, pattern := range req.BlockedURLs {
		args = append(args, "--blocked-url-patterns="+pattern)
	}
	args = append(args, r.ExtraArgs...)

	if r.Logger != nil {
		r.Logger.Debug("invoking audit engine",
			zap.String("bin", r.bin()),
			zap.String("url", req.Target.URL),
			zap.Int("port", port))
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, r.bin(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Target: req.Target, Err: ctx.Err()}
		}
		return nil, &Error{Target: req.Target, Err: fmt.Errorf("engine exited: %w: %s", err, firstLine(stderr.String()))}
	}

	rep, err := report.Parse(stdout.Bytes())
	if err != nil {
		return nil, &Error{Target: req.Target, Err: err}
	}
	if r.Logger != nil {
		r.Logger.Info("audit complete",
			zap.String("url", req.Target.URL),
			zap.Duration("took", time.Since(start)))
	}
	return rep, nil
}

// devtoolsPort extracts the port from a ws:// DevTools control URL.
func devtoolsPort(controlURL string) (int, error) {
	u, err := url.Parse(controlURL)
	if err != nil {
		return 0, fmt.Errorf("parse control url: %w", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0, fmt.Errorf("control url %q has no port", controlURL)
	}
	return port, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
