// Package renderer formats comparison reports, statistics catalogues and
// value trees as colored text, JSON or YAML.
package renderer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"gopkg.in/yaml.v3"
)

// Formats accepted by the Render functions.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var SupportedFormats = []string{FormatText, FormatJSON, FormatYAML}

// Options controls text output.
type Options struct {
	// Color enables ANSI styling regardless of the destination.
	Color bool
	// Verbose adds the full statistics of changed tensors to text output.
	Verbose bool
}

type Renderer struct {
	opts   Options
	styles styles
}

func New(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// styles is bound to one output writer so that forced color survives pipes.
type styles struct {
	added      lipgloss.Style
	removed    lipgloss.Style
	modified   lipgloss.Style
	structural lipgloss.Style
	analysis   lipgloss.Style
	path       lipgloss.Style
	header     lipgloss.Style
	muted      lipgloss.Style
}

func (r *Renderer) stylesFor(w io.Writer) styles {
	lr := lipgloss.NewRenderer(w)
	if r.opts.Color {
		lr.SetColorProfile(termenv.ANSI256)
	} else {
		lr.SetColorProfile(termenv.Ascii)
	}
	return styles{
		added:      lr.NewStyle().Foreground(lipgloss.Color("2")),
		removed:    lr.NewStyle().Foreground(lipgloss.Color("1")),
		modified:   lr.NewStyle().Foreground(lipgloss.Color("3")),
		structural: lr.NewStyle().Foreground(lipgloss.Color("5")).Bold(true),
		analysis:   lr.NewStyle().Foreground(lipgloss.Color("6")),
		path:       lr.NewStyle().Bold(true),
		header:     lr.NewStyle().Bold(true).Underline(true),
		muted:      lr.NewStyle().Faint(true),
	}
}

// CheckFormat reports whether format is one of SupportedFormats.
func CheckFormat(format string) error {
	for _, f := range SupportedFormats {
		if f == format {
			return nil
		}
	}
	return fmt.Errorf("unsupported output format: %s (supported: %s)", format, strings.Join(SupportedFormats, ", "))
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result to JSON: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshaling result to YAML: %w", err)
	}
	return enc.Close()
}
