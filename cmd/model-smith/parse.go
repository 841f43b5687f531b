package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wonderfulspam/model-smith/pkg/formats"
	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/renderer"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

func newParseCmd(root *rootOptions) *cobra.Command {
	var (
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a file and display its normalized value tree",
		Long: `Parses a file the way diff reads it and prints the resulting tree. Tensors
of model files appear as {"tensor": <name>} references.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := args[0]

			var f parser.Format
			var err error
			if format != "" {
				f, err = parser.ParseFormat(format)
			} else {
				f, err = parser.DetectFormat(filename)
			}
			if err != nil {
				return err
			}

			var tree value.Value
			if f.Kind() == parser.KindTensor {
				cat, err := formats.Open(cmd.Context(), filename, f)
				if err != nil {
					return err
				}
				defer cat.Close()
				tree = cat.Root()
			} else {
				tree, err = parser.ParseFile(filename, f)
				if err != nil {
					return err
				}
			}

			root.log().Debug("parsed file", zap.String("file", filename), zap.String("format", string(f)))
			return renderer.New(renderer.Options{}).RenderValue(cmd.OutOrStdout(), tree, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", renderer.FormatJSON, "Output format (json, yaml)")
	cmd.Flags().StringVar(&format, "format", "", "Input format, overriding detection by file extension")
	return cmd
}
