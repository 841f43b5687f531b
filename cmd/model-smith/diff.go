package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wonderfulspam/model-smith/pkg/analyzer"
	"github.com/wonderfulspam/model-smith/pkg/comparer"
	"github.com/wonderfulspam/model-smith/pkg/config"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/renderer"
	"github.com/wonderfulspam/model-smith/pkg/statcache"
	"github.com/wonderfulspam/model-smith/pkg/telemetry"
)

type diffOptions struct {
	epsilon         float64
	ignoreKeysRegex string
	arrayIDKey      string
	path            string
	sortByChange    bool
	output          string
	format          string
	history         []string
	disable         []string
	enable          []string
	workers         int
	cacheDir        string
	quiet           bool
	brief           bool
	trace           bool
	metricsOut      string
}

func newDiffCmd(root *rootOptions) *cobra.Command {
	opts := &diffOptions{}
	cmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Compare two files or directories",
		Long: `Compares two files of the same format, or two directory trees file by file.
The exit status is 0 when there are no differences, 1 when there are and 2
on error.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, root, opts, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.Float64Var(&opts.epsilon, "epsilon", 0, "Ignore numeric differences up to this absolute tolerance")
	f.StringVar(&opts.ignoreKeysRegex, "ignore-keys-regex", "", "Skip map keys matching this regular expression")
	f.StringVar(&opts.arrayIDKey, "array-id-key", "", "Match sequence elements by this key instead of by position")
	f.StringVar(&opts.path, "path", "", "Only report differences at or below this path, e.g. layers[0].weight or cfg[\"a.b\"]; an index also selects elements matched by --array-id-key at that position")
	f.BoolVar(&opts.sortByChange, "sort-by-change", false, "Order differences by size of change")
	f.StringVarP(&opts.output, "output", "o", "", "Output format (text, json, yaml)")
	f.StringVar(&opts.format, "format", "", "Input format, overriding detection by file extension")
	f.StringSliceVar(&opts.history, "history", nil, "Earlier checkpoints, oldest first, for convergence analysis")
	f.StringSliceVar(&opts.disable, "disable-analysis", nil, "Analyses to skip (see 'config list')")
	f.StringSliceVar(&opts.enable, "enable-analysis", nil, "Analyses to run even if the configuration disables them")
	f.IntVar(&opts.workers, "workers", 0, "Concurrent workers (default: number of CPUs)")
	f.StringVar(&opts.cacheDir, "cache-dir", "", "Persist tensor statistics in this directory")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Print nothing; report through the exit status only")
	f.BoolVar(&opts.brief, "brief", false, "Only report whether the inputs differ")
	f.BoolVar(&opts.trace, "trace", false, "Write trace spans to stderr")
	f.StringVar(&opts.metricsOut, "metrics-out", "", "Write Prometheus metrics to this file")
	return cmd
}

// applyDiffFlags overrides configuration values with the flags that were set.
func applyDiffFlags(cmd *cobra.Command, cfg *config.Config, opts *diffOptions) error {
	f := cmd.Flags()
	if f.Changed("epsilon") {
		cfg.Diff.Epsilon = opts.epsilon
	}
	if f.Changed("ignore-keys-regex") {
		cfg.Diff.IgnoreKeysRegex = opts.ignoreKeysRegex
	}
	if f.Changed("array-id-key") {
		cfg.Diff.ArrayIDKey = opts.arrayIDKey
	}
	if f.Changed("path") {
		cfg.Diff.Path = opts.path
	}
	if f.Changed("sort-by-change") {
		cfg.Diff.SortByMagnitude = opts.sortByChange
	}
	if f.Changed("output") {
		cfg.Output.Format = opts.output
	}
	if f.Changed("workers") {
		cfg.Stats.Workers = opts.workers
	}
	if f.Changed("cache-dir") {
		cfg.Stats.CacheDir = opts.cacheDir
	}

	known := analyzer.DefaultRegistry()
	for _, name := range opts.enable {
		name = strings.TrimSpace(name)
		if _, ok := known.Get(name); !ok {
			return fmt.Errorf("unknown analysis %q (see 'model-smith config list')", name)
		}
		cfg.Analysis.EnableAnalysis(name)
	}
	for _, name := range opts.disable {
		name = strings.TrimSpace(name)
		if _, ok := known.Get(name); !ok {
			return fmt.Errorf("unknown analysis %q (see 'model-smith config list')", name)
		}
		cfg.Analysis.DisableAnalysis(name)
	}
	return cfg.Validate()
}

func runDiff(cmd *cobra.Command, root *rootOptions, opts *diffOptions, oldPath, newPath string) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if err := applyDiffFlags(cmd, cfg, opts); err != nil {
		return err
	}
	policy, err := differ.NewPolicy(cfg.PolicyOptions())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := root.log()

	if opts.trace {
		shutdown, err := telemetry.SetupTracing(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("flushing traces", zap.Error(err))
			}
		}()
	}

	var metrics *telemetry.Metrics
	if opts.metricsOut != "" {
		metrics = telemetry.NewMetrics()
	}

	registry := analyzer.DefaultRegistry()
	registry.ApplyConfig(cfg.Analysis)

	copts := []comparer.Option{
		comparer.WithPolicy(policy),
		comparer.WithWorkers(cfg.Stats.Workers),
		comparer.WithChunkSize(cfg.Stats.ChunkSize),
		comparer.WithHistory(opts.history...),
		comparer.WithLogger(logger),
		comparer.WithMetrics(metrics),
		comparer.WithAnalyzer(analyzer.NewEngine(
			analyzer.WithRegistry(registry),
			analyzer.WithWorkers(cfg.Stats.Workers),
			analyzer.WithLogger(logger),
			analyzer.WithMetrics(metrics),
		)),
	}
	if opts.format != "" {
		format, err := parser.ParseFormat(opts.format)
		if err != nil {
			return err
		}
		copts = append(copts, comparer.WithFormat(format))
	}
	if cfg.Stats.CacheDir != "" {
		cache, err := statcache.Open(cfg.Stats.CacheDir, logger)
		if err != nil {
			return err
		}
		defer cache.Close()
		copts = append(copts, comparer.WithCache(cache))
	}

	report, err := comparer.New(copts...).Compare(ctx, oldPath, newPath)
	if err != nil {
		return err
	}

	if opts.metricsOut != "" {
		if err := metrics.WriteFile(opts.metricsOut); err != nil {
			return err
		}
	}

	if !opts.quiet {
		out := cmd.OutOrStdout()
		r := renderer.New(renderer.Options{
			Color:   root.useColor(out, cfg.Output.Color),
			Verbose: root.verbose,
		})
		if opts.brief {
			err = r.RenderBrief(out, report)
		} else {
			err = r.Render(out, report, cfg.Output.Format)
		}
		if err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}

	if report.HasChanges {
		return errDifferences
	}
	return nil
}
