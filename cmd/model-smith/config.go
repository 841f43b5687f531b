package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonderfulspam/model-smith/pkg/analyzer"
	"github.com/wonderfulspam/model-smith/pkg/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage model-smith configuration",
		Long:  `Manage model-smith configuration files, including initialization and validation.`,
	}

	var analysisFile string
	initCmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file listing every analysis and the
diff, output and statistics settings. If no file is specified, creates
.model-smith.yml in the current directory. A .json file name writes JSON.

With --analysis-file the analyses are written to that file instead and the
configuration refers to it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, args, analysisFile)
		},
	}
	initCmd.Flags().StringVar(&analysisFile, "analysis-file", "", "Write analyses to this separate file")
	cmd.AddCommand(initCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigValidate,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all available analyses",
		Long:  `List all model analyses grouped by category, with their state in the active configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return runConfigList(cmd, cfg)
		},
	})
	return cmd
}

func runConfigInit(cmd *cobra.Command, args []string, analysisFile string) error {
	outputFile := config.DefaultFileNames[0]
	if len(args) > 0 {
		outputFile = args[0]
	}

	for _, f := range []string{outputFile, analysisFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err == nil {
			return fmt.Errorf("configuration file %s already exists", f)
		}
	}

	if analysisFile != "" {
		if err := analyzer.SaveConfig(analyzer.DefaultConfig(), analysisFile); err != nil {
			return fmt.Errorf("failed to write analysis file: %w", err)
		}
	}

	var err error
	switch {
	case filepath.Ext(outputFile) == ".json":
		cfg := config.Default()
		if analysisFile != "" {
			cfg.Analysis, cfg.AnalysisFile = nil, relativeTo(outputFile, analysisFile)
		}
		err = config.Save(cfg, outputFile)
	default:
		err = os.WriteFile(outputFile, []byte(config.Template(relativeTo(outputFile, analysisFile))), 0o644)
	}
	if err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created: %s\n", outputFile)
	fmt.Fprintf(out, "\nYou can now:\n")
	fmt.Fprintf(out, "1. Edit the file to customize diff and analysis behavior\n")
	fmt.Fprintf(out, "2. Use it with: model-smith --config=%s diff <old> <new>\n", outputFile)
	fmt.Fprintf(out, "3. Validate it with: model-smith config validate %s\n", outputFile)
	return nil
}

// relativeTo expresses target relative to the directory of file, since
// analysis_file is resolved that way.
func relativeTo(file, target string) string {
	if target == "" || filepath.IsAbs(target) {
		return target
	}
	absFile, err1 := filepath.Abs(file)
	absTarget, err2 := filepath.Abs(target)
	if err1 != nil || err2 != nil {
		return target
	}
	rel, err := filepath.Rel(filepath.Dir(absFile), absTarget)
	if err != nil {
		return target
	}
	return rel
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration is valid!\n\n")
	fmt.Fprintf(out, "Summary:\n")
	fmt.Fprintf(out, "  Epsilon: %g\n", cfg.Diff.Epsilon)
	if cfg.Diff.IgnoreKeysRegex != "" {
		fmt.Fprintf(out, "  Ignored keys: %s\n", cfg.Diff.IgnoreKeysRegex)
	}
	if cfg.Diff.ArrayIDKey != "" {
		fmt.Fprintf(out, "  Array identity key: %s\n", cfg.Diff.ArrayIDKey)
	}
	if cfg.Diff.Path != "" {
		fmt.Fprintf(out, "  Path scope: %s\n", cfg.Diff.Path)
	}
	fmt.Fprintf(out, "  Output: %s\n", cfg.Output.Format)
	fmt.Fprintf(out, "  Total Analyses: %d\n", len(cfg.Analysis.Analyses))
	fmt.Fprintf(out, "  Enabled Analyses: %d\n", len(cfg.Analysis.GetEnabledAnalyses()))
	for _, c := range categoryLabels {
		if names := cfg.Analysis.GetAnalysesByCategory(c.category); len(names) > 0 {
			fmt.Fprintf(out, "    %s: %s\n", c.label, strings.Join(names, ", "))
		}
	}
	return nil
}

var categoryLabels = []struct {
	category analyzer.Category
	label    string
}{
	{analyzer.CategoryTraining, "Training"},
	{analyzer.CategoryGradient, "Gradient"},
	{analyzer.CategoryQuantization, "Quantization"},
	{analyzer.CategoryConvergence, "Convergence"},
	{analyzer.CategoryArchitecture, "Architecture"},
	{analyzer.CategoryWeights, "Weights"},
}

func runConfigList(cmd *cobra.Command, cfg *config.Config) error {
	registry := analyzer.DefaultRegistry()
	registry.ApplyConfig(cfg.Analysis)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Available Analyses\n")
	fmt.Fprintf(out, "==================\n\n")

	for _, c := range categoryLabels {
		analyses := registry.GetAnalysesByCategory(c.category)
		if len(analyses) == 0 {
			continue
		}

		heading := fmt.Sprintf("%s (%d)", c.label, len(analyses))
		fmt.Fprintf(out, "%s\n%s\n", heading, strings.Repeat("-", len(heading)))
		for _, a := range analyses {
			status := "on "
			if !cfg.Analysis.IsAnalysisEnabled(a.Name()) {
				status = "off"
			}
			description := ""
			if b, ok := registry.Get(a.Name()); ok {
				description = b.Description()
			}
			fmt.Fprintf(out, "[%s] %-22s %s\n", status, a.Name(), description)
		}
		fmt.Fprintf(out, "\n")
	}

	fmt.Fprintf(out, "Analyses run automatically for model files and never for structured data.\n")
	fmt.Fprintf(out, "Use 'model-smith config init' to create a configuration file\n")
	fmt.Fprintf(out, "Use 'model-smith diff --disable-analysis=<name>' to skip specific analyses\n")
	fmt.Fprintf(out, "Use 'model-smith diff --enable-analysis=<name>' to run analyses the configuration disables\n")
	return nil
}
