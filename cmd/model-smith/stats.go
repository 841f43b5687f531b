package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonderfulspam/model-smith/pkg/comparer"
	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/renderer"
	"github.com/wonderfulspam/model-smith/pkg/statcache"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

func newStatsCmd(root *rootOptions) *cobra.Command {
	var (
		output  string
		format  string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "stats <file>",
		Short: "Show per-tensor statistics of a model file",
		Long: `Reads a tensor file and prints shape, dtype, mean, standard deviation,
range and sparsity for every tensor, independent of any comparison.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("output") {
				cfg.Output.Format = output
			}
			if cmd.Flags().Changed("workers") {
				cfg.Stats.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			path := args[0]
			var f parser.Format
			if format != "" {
				f, err = parser.ParseFormat(format)
			} else {
				f, err = parser.DetectFormat(path)
			}
			if err != nil {
				return err
			}
			if f.Kind() != parser.KindTensor {
				return fmt.Errorf("%s is not a tensor format; use 'model-smith parse' for structured files", f)
			}

			copts := []comparer.Option{
				comparer.WithWorkers(cfg.Stats.Workers),
				comparer.WithChunkSize(cfg.Stats.ChunkSize),
				comparer.WithLogger(root.log()),
			}
			if cfg.Stats.CacheDir != "" {
				cache, err := statcache.Open(cfg.Stats.CacheDir, root.log())
				if err != nil {
					return err
				}
				defer cache.Close()
				copts = append(copts, comparer.WithCache(cache))
			}

			cat, err := comparer.New(copts...).Catalogue(cmd.Context(), path, f)
			if err != nil {
				return err
			}
			defer func(c *tensor.Catalogue) { _ = c.Close() }(cat)

			out := cmd.OutOrStdout()
			r := renderer.New(renderer.Options{Color: root.useColor(out, cfg.Output.Color)})
			return r.RenderStats(out, renderer.NewCatalogue(path, f, cat), cfg.Output.Format)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format (text, json, yaml)")
	cmd.Flags().StringVar(&format, "format", "", "Input format, overriding detection by file extension")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent workers (default: number of CPUs)")
	return cmd
}
