package renderer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/wonderfulspam/model-smith/pkg/comparer"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

// Render writes a comparison report in the given format.
func (r *Renderer) Render(w io.Writer, report *comparer.Report, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, report)
	case FormatYAML:
		return writeYAML(w, report)
	case FormatText, "":
		_, err := io.WriteString(w, r.formatReport(report, r.stylesFor(w)))
		return err
	default:
		return CheckFormat(format)
	}
}

// RenderBrief writes the one-line verdict used by --brief.
func (r *Renderer) RenderBrief(w io.Writer, report *comparer.Report) error {
	if !report.HasChanges {
		return nil
	}
	_, err := fmt.Fprintf(w, "Files %s and %s differ\n", report.OldPath, report.NewPath)
	return err
}

func (r *Renderer) formatReport(report *comparer.Report, st styles) string {
	var buf bytes.Buffer

	title := fmt.Sprintf("%s -> %s", report.OldPath, report.NewPath)
	if report.Format != "" {
		title += fmt.Sprintf(" (%s)", report.Format)
	}
	if report.OldPath != "" || report.NewPath != "" {
		buf.WriteString(st.header.Render(title))
		buf.WriteString("\n\n")
	}

	for _, rec := range report.Records {
		buf.WriteString(r.formatRecord(rec, st))
		buf.WriteString("\n")
		if r.opts.Verbose && rec.Kind == differ.KindTensorStatsChanged {
			buf.WriteString(st.muted.Render("    old: " + formatStatsLine(*rec.OldStats)))
			buf.WriteString("\n")
			buf.WriteString(st.muted.Render("    new: " + formatStatsLine(*rec.NewStats)))
			buf.WriteString("\n")
		}
	}

	if len(report.Annotations) > 0 {
		buf.WriteString("\nNotes:\n")
		for _, a := range report.Annotations {
			buf.WriteString(st.muted.Render(fmt.Sprintf("  [%s] %s: %s", a.Side, a.Tensor, a.Note)))
			buf.WriteString("\n")
		}
	}

	if len(report.Records) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString(fmt.Sprintf("Summary: %s\n", report.Summary))
	return buf.String()
}

func (r *Renderer) formatRecord(rec differ.Record, st styles) string {
	marker := recordMarker(rec.Kind)
	style := st.styleFor(rec.Kind)
	return style.Render(marker) + " " + st.path.Render(rec.Path) + ": " + style.Render(rec.Describe())
}

func recordMarker(kind differ.Kind) string {
	switch kind {
	case differ.KindAdded:
		return "+"
	case differ.KindRemoved:
		return "-"
	case differ.KindModified, differ.KindTensorStatsChanged:
		return "~"
	case differ.KindTypeChanged, differ.KindTensorShapeChanged:
		return "!"
	case differ.KindAnalysis:
		return "*"
	default:
		return "?"
	}
}

func (st styles) styleFor(kind differ.Kind) lipgloss.Style {
	switch kind {
	case differ.KindAdded:
		return st.added
	case differ.KindRemoved:
		return st.removed
	case differ.KindModified, differ.KindTensorStatsChanged:
		return st.modified
	case differ.KindTypeChanged, differ.KindTensorShapeChanged:
		return st.structural
	default:
		return st.analysis
	}
}

func formatStatsLine(s tensor.Stats) string {
	line := fmt.Sprintf("%s %s mean=%.6g std=%.6g min=%.6g max=%.6g n=%d",
		s.DType, differ.FormatShape(s.Shape), s.Mean, s.Std, s.Min, s.Max, s.ElementCount)
	if s.HasNonFinite {
		line += fmt.Sprintf(" non-finite=%d", s.NonFiniteCount)
	}
	return line
}
