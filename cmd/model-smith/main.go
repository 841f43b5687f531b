package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wonderfulspam/model-smith/pkg/config"
	"github.com/wonderfulspam/model-smith/pkg/logging"
)

// Exit statuses, as in diff(1).
const (
	exitSame    = 0
	exitDiffers = 1
	exitError   = 2
)

// errDifferences makes the process exit with exitDiffers without printing
// anything.
var errDifferences = errors.New("differences found")

// rootOptions holds the global flags and what is derived from them.
type rootOptions struct {
	configFile string
	verbose    bool
	noColor    bool

	logger *zap.Logger
	config *config.Config
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model-smith",
		Short: "Structural diff for ML models and configuration files",
		Long: `model-smith compares two versions of a structured file (JSON, YAML, TOML,
XML, CSV, INI) or of a model file (safetensors, PyTorch, NumPy, MATLAB) and
reports typed differences. For model files it also compares per-tensor
statistics and runs training, gradient, quantization, convergence and
architecture analyses automatically.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(opts.verbose)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Configuration file (default: .model-smith.yml in the working directory)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging and detailed output")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newDiffCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newParseCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}

// loadConfig reads the configuration once per invocation.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.config != nil {
		return o.config, nil
	}
	cfg, err := config.LoadOrDefault(o.configFile)
	if err != nil {
		return nil, err
	}
	o.config = cfg
	return cfg, nil
}

func (o *rootOptions) log() *zap.Logger {
	if o.logger == nil {
		return logging.Nop()
	}
	return o.logger
}

// useColor resolves the color setting for w. NO_COLOR and --no-color win
// over the configuration.
func (o *rootOptions) useColor(w io.Writer, setting string) bool {
	if o.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	switch setting {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// execute runs the CLI and returns the process exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &rootOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if opts.logger != nil {
		_ = opts.logger.Sync()
	}

	switch {
	case err == nil:
		return exitSame
	case errors.Is(err, errDifferences):
		return exitDiffers
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
