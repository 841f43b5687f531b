package renderer

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/comparer"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

func sampleReport() *comparer.Report {
	old := tensor.Stats{Name: "w", Shape: []int{2}, DType: tensor.F32, Mean: 1, Std: 0.5, Min: 0.5, Max: 1.5, ElementCount: 2}
	new := old
	new.Mean = 1.25

	records := []differ.Record{
		differ.Added("layers[2]", value.String("dense")),
		differ.Removed("dropout", value.Number(0.1)),
		differ.Modified("epochs", value.Number(10), value.Number(12)),
		differ.TensorShapeChanged("emb", []int{64, 64}, []int{128, 64}),
		differ.TensorStatsChanged("w", old, new),
		differ.Analysis(&types.QuantizationAnalysis{
			OldDTypes:   map[string]int{"f32": 1},
			NewDTypes:   map[string]int{"f16": 1},
			OldBytes:    16,
			NewBytes:    8,
			Compression: 0.5,
		}),
	}
	return &comparer.Report{
		ID:          uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		OldPath:     "old.safetensors",
		NewPath:     "new.safetensors",
		Format:      parser.FormatSafetensors,
		Records:     records,
		HasChanges:  true,
		Summary:     differ.Summarize(records),
		Annotations: []comparer.Annotation{{Side: "new", Tensor: "empty", Note: "empty tensor, statistics unavailable"}},
	}
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	if err := New(Options{}).Render(&buf, sampleReport(), FormatText); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	out := buf.String()

	expected := []string{
		"old.safetensors -> new.safetensors (safetensors)",
		`+ layers[2]: "dense"`,
		"- dropout: 0.1",
		"~ epochs: 10 -> 12",
		"! emb: shape: [64, 64] -> [128, 64]",
		"~ w: stats: mean 1 -> 1.25",
		"* analysis.quantization: ",
		"[new] empty: empty tensor",
		"Summary: 1 added, 1 removed, 1 modified",
	}
	for _, s := range expected {
		if !strings.Contains(out, s) {
			t.Errorf("Expected output to contain %q, got:\n%s", s, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("Expected no escape sequences without color")
	}
}

func TestRenderTextColor(t *testing.T) {
	var buf bytes.Buffer
	if err := New(Options{Color: true}).Render(&buf, sampleReport(), FormatText); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Error("Expected ANSI escape sequences with color enabled")
	}
}

func TestRenderTextVerbose(t *testing.T) {
	var buf bytes.Buffer
	if err := New(Options{Verbose: true}).Render(&buf, sampleReport(), FormatText); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(buf.String(), "new: f32 [2] mean=1.25") {
		t.Errorf("Expected full stats line, got:\n%s", buf.String())
	}
}

func TestRenderNoChanges(t *testing.T) {
	report := &comparer.Report{OldPath: "a.json", NewPath: "b.json", Summary: differ.Summarize(nil)}
	var buf bytes.Buffer
	if err := New(Options{}).Render(&buf, report, ""); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(buf.String(), "Summary: No differences found") {
		t.Errorf("Expected summary line, got:\n%s", buf.String())
	}

	buf.Reset()
	if err := New(Options{}).RenderBrief(&buf, report); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no brief output for identical files, got %q", buf.String())
	}
}

func TestRenderBrief(t *testing.T) {
	var buf bytes.Buffer
	if err := New(Options{}).RenderBrief(&buf, sampleReport()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := buf.String(); got != "Files old.safetensors and new.safetensors differ\n" {
		t.Errorf("Expected brief verdict, got %q", got)
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := New(Options{}).Render(&buf, sampleReport(), FormatJSON); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var decoded struct {
		ID      string `json:"id"`
		Records []struct {
			Type     string                 `json:"type"`
			Path     string                 `json:"path"`
			New      interface{}            `json:"new"`
			Analysis map[string]interface{} `json:"analysis"`
		} `json:"records"`
		HasChanges bool `json:"has_changes"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Expected valid JSON, got error: %v", err)
	}
	if decoded.ID != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Errorf("Expected report ID, got %q", decoded.ID)
	}
	if len(decoded.Records) != 6 {
		t.Fatalf("Expected 6 records, got %d", len(decoded.Records))
	}
	if decoded.Records[0].Type != "added" || decoded.Records[0].New != "dense" {
		t.Errorf("Expected added record with new value, got %+v", decoded.Records[0])
	}
	if decoded.Records[5].Analysis["compression"] != 0.5 {
		t.Errorf("Expected compression 0.5, got %v", decoded.Records[5].Analysis["compression"])
	}
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := New(Options{}).Render(&buf, sampleReport(), FormatYAML); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var decoded map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Expected valid YAML, got error: %v", err)
	}
	records, ok := decoded["records"].([]interface{})
	if !ok || len(records) != 6 {
		t.Fatalf("Expected 6 records, got %v", decoded["records"])
	}
	first := records[0].(map[string]interface{})
	if first["type"] != "added" || first["path"] != "layers[2]" {
		t.Errorf("Expected first record added at layers[2], got %v", first)
	}
}

func TestRenderUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	err := New(Options{}).Render(&buf, sampleReport(), "table")
	if err == nil || !strings.Contains(err.Error(), "unsupported output format") {
		t.Errorf("Expected unsupported format error, got %v", err)
	}
}

func TestRecordMarker(t *testing.T) {
	tests := []struct {
		kind differ.Kind
		want string
	}{
		{differ.KindAdded, "+"},
		{differ.KindRemoved, "-"},
		{differ.KindModified, "~"},
		{differ.KindTensorStatsChanged, "~"},
		{differ.KindTypeChanged, "!"},
		{differ.KindTensorShapeChanged, "!"},
		{differ.KindAnalysis, "*"},
		{differ.Kind("other"), "?"},
	}
	for _, tt := range tests {
		if got := recordMarker(tt.kind); got != tt.want {
			t.Errorf("recordMarker(%s): expected %q, got %q", tt.kind, tt.want, got)
		}
	}
}
