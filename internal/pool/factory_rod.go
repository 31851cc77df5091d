package pool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"go.uber.org/zap"
)

// RodFactory launches headless Chrome processes via rod's launcher.
type RodFactory struct {
	// Bin is the Chrome executable path; empty uses rod's lookup.
	Bin string
	// Headless controls the launch mode. Audits normally run headless.
	Headless bool
	// LaunchFlags are extra Chrome flags, with or without leading dashes,
	// "name=value" or bare "name".
	LaunchFlags []string
	// ConnectTimeout bounds the DevTools handshake.
	ConnectTimeout time.Duration

	Logger *zap.Logger
}

type rodProc struct {
	browser    *rod.Browser
	launch     *launcher.Launcher
	controlURL string
}

// New launches one Chrome process and connects to its DevTools endpoint.
func (f *RodFactory) New(ctx context.Context) (Proc, error) {
	launch := launcher.New().Headless(f.Headless)
	if f.Bin != "" {
		launch = launch.Bin(f.Bin)
	}
	for _, rawFlag := range f.LaunchFlags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			launch = launch.Set(flags.Flag(name), val)
		} else {
			launch = launch.Set(flags.Flag(name))
		}
	}

	// The process must outlive ctx (it is one caller's acquire context);
	// ctx only gates starting a new launch at all.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if f.ConnectTimeout > 0 {
		browser = browser.Timeout(f.ConnectTimeout)
	}
	if err := browser.Connect(); err != nil {
		launch.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	if f.ConnectTimeout > 0 {
		browser = browser.CancelTimeout()
	}

	if f.Logger != nil {
		f.Logger.Debug("browser process launched",
			zap.String("control_url", controlURL))
	}
	return &rodProc{browser: browser, launch: launch, controlURL: controlURL}, nil
}

func (p *rodProc) ControlURL() string { return p.controlURL }

// Alive does a version round-trip over the DevTools socket.
func (p *rodProc) Alive() bool {
	_, err := p.browser.Version()
	return err == nil
}

func (p *rodProc) Close() error {
	err := p.browser.Close()
	p.launch.Kill()
	p.launch.Cleanup()
	return err
}
