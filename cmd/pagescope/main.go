package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pagescope/internal/config"
	"pagescope/internal/engine"
	"pagescope/internal/service"
)

var (
	// Global flags
	verbose    string
	configPath string
	device     string
	categories []string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pagescope",
	Short: "pagescope - page performance audit orchestrator",
	Long: `pagescope drives real Chrome processes to audit web pages and turns
the results into ranked diagnostics: the critical request path gating the
largest visual paint, its bottlenecks, and weighted audit issues.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose == "debug" {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect [url]",
	Short: "Audit a single page, serving a fresh cached report when possible",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollect,
}

var batchCmd = &cobra.Command{
	Use:   "batch [url...]",
	Short: "Audit many pages concurrently with per-target retry",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBatch,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [entry-id]",
	Short: "Compute the critical path, bottlenecks and suggestions for a stored report",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var issuesCmd = &cobra.Command{
	Use:   "issues [entry-id]",
	Short: "Rank a stored report's failing audits by weighted impact",
	Args:  cobra.ExactArgs(1),
	RunE:  runIssues,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached report entries, newest first",
	RunE:  runList,
}

var (
	forceRefresh bool
	concurrency  int
	topN         int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&verbose, "log-level", "l", "info", "log level (info, debug)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", "mobile", "device profile (mobile, desktop)")
	rootCmd.PersistentFlags().StringSliceVar(&categories, "categories", nil, "audit categories (default: performance)")

	collectCmd.Flags().BoolVar(&forceRefresh, "force", false, "bypass the report cache")
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "max concurrent audits (default from config)")
	issuesCmd.Flags().IntVar(&topN, "top", 10, "number of issues to return")

	rootCmd.AddCommand(collectCmd, batchCmd, analyzeCmd, issuesCmd, listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newService loads config and wires the service with the engine binding
// configured at build time.
func newService() (*service.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return service.New(cfg, newRunner(logger), logger)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func target(url string) engine.Target {
	return engine.Target{URL: url, Device: engine.Device(device), Categories: categories}
}

func runCollect(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	outcome, err := svc.CollectOne(ctx, target(args[0]), forceRefresh)
	if err != nil {
		return err
	}
	return printJSON(outcome)
}

func runBatch(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	targets := make([]engine.Target, 0, len(args))
	for _, url := range args {
		targets = append(targets, target(url))
	}
	result := svc.CollectBatch(ctx, targets, concurrency)
	if err := printJSON(result); err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		urls := make([]string, 0, len(result.Failed))
		for _, f := range result.Failed {
			urls = append(urls, f.Target.URL)
		}
		logger.Warn("some targets failed", zap.String("urls", strings.Join(urls, ", ")))
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.AnalyzeEntry(args[0])
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runIssues(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ranking, err := svc.RankEntryIssues(args[0], topN)
	if err != nil {
		return err
	}
	return printJSON(ranking)
}

func runList(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()
	return printJSON(svc.Entries())
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
