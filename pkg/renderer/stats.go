package renderer

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/wonderfulspam/model-smith/pkg/comparer"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

// Catalogue is the raw statistics of one tensor file.
type Catalogue struct {
	Path        string                `json:"path" yaml:"path"`
	Format      parser.Format         `json:"format" yaml:"format"`
	Tensors     []tensor.Stats        `json:"tensors" yaml:"tensors"`
	Metadata    value.Value           `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Annotations []comparer.Annotation `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

// NewCatalogue snapshots cat for rendering.
func NewCatalogue(path string, format parser.Format, cat *tensor.Catalogue) *Catalogue {
	c := &Catalogue{Path: path, Format: format, Tensors: cat.AllStats()}
	if cat.Metadata.Len() > 0 {
		c.Metadata = cat.Metadata
	}
	notes := cat.Annotations()
	for _, name := range cat.AnnotatedNames() {
		c.Annotations = append(c.Annotations, comparer.Annotation{Tensor: name, Note: notes[name]})
	}
	return c
}

// RenderStats writes a statistics catalogue.
func (r *Renderer) RenderStats(w io.Writer, cat *Catalogue, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, cat)
	case FormatYAML:
		return writeYAML(w, cat)
	case FormatText, "":
		_, err := io.WriteString(w, r.formatCatalogue(cat, r.stylesFor(w)))
		return err
	default:
		return CheckFormat(format)
	}
}

func (r *Renderer) formatCatalogue(cat *Catalogue, st styles) string {
	var b strings.Builder
	b.WriteString(st.header.Render(fmt.Sprintf("%s (%s)", cat.Path, cat.Format)))
	b.WriteString("\n\n")

	if len(cat.Tensors) == 0 {
		b.WriteString("No tensors with statistics\n")
	} else {
		rows := make([][]string, 0, len(cat.Tensors))
		var params, bytes uint64
		for _, s := range cat.Tensors {
			rows = append(rows, []string{
				s.Name,
				string(s.DType),
				differ.FormatShape(s.Shape),
				fmt.Sprintf("%.6g", s.Mean),
				fmt.Sprintf("%.6g", s.Std),
				fmt.Sprintf("%.6g", s.Min),
				fmt.Sprintf("%.6g", s.Max),
				fmt.Sprintf("%.1f%%", s.Sparsity()*100),
			})
			params += s.ElementCount
			bytes += s.Bytes()
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(st.muted).
			Headers("TENSOR", "DTYPE", "SHAPE", "MEAN", "STD", "MIN", "MAX", "ZEROS").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return st.path
				}
				return lipgloss.NewStyle()
			})
		b.WriteString(t.String())
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("%d tensors, %d parameters, %s\n", len(cat.Tensors), params, FormatBytes(bytes)))
	}

	if m, ok := cat.Metadata.AsMap(); ok && m.Len() > 0 {
		b.WriteString("\nMetadata:\n")
		m.Range(func(key string, v value.Value) bool {
			b.WriteString(fmt.Sprintf("  %s: %s\n", key, v.String()))
			return true
		})
	}

	if len(cat.Annotations) > 0 {
		b.WriteString("\nNotes:\n")
		for _, a := range cat.Annotations {
			b.WriteString(st.muted.Render(fmt.Sprintf("  %s: %s", a.Tensor, a.Note)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderValue writes a parsed value tree. Text output is indented JSON.
func (r *Renderer) RenderValue(w io.Writer, v value.Value, format string) error {
	switch format {
	case FormatYAML:
		return writeYAML(w, v)
	case FormatJSON, FormatText, "":
		return writeJSON(w, v)
	default:
		return CheckFormat(format)
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
