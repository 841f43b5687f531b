package renderer

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

func sampleCatalogue() *tensor.Catalogue {
	cat := tensor.NewCatalogue()
	cat.Add(&tensor.Handle{Name: "layer.weight", Shape: []int{2, 2}, DType: tensor.F32})
	cat.Add(&tensor.Handle{Name: "layer.bias", Shape: []int{2}, DType: tensor.F16})
	cat.Add(&tensor.Handle{Name: "empty", Shape: []int{0}, DType: tensor.F32})
	cat.SetStats("layer.weight", tensor.Stats{
		Name: "layer.weight", Shape: []int{2, 2}, DType: tensor.F32,
		Mean: 0.25, Std: 0.5, Min: -0.5, Max: 1, ElementCount: 4, ZeroCount: 1,
	})
	cat.SetStats("layer.bias", tensor.Stats{
		Name: "layer.bias", Shape: []int{2}, DType: tensor.F16,
		Mean: 0, Std: 0, ElementCount: 2, ZeroCount: 2,
	})
	cat.Annotate("empty", "empty tensor, statistics unavailable")

	meta := value.NewMap()
	meta.Set("epoch", value.String("7"))
	cat.Metadata = value.MapValue(meta)
	return cat
}

func TestRenderStatsText(t *testing.T) {
	cat := NewCatalogue("model.safetensors", parser.FormatSafetensors, sampleCatalogue())
	var buf bytes.Buffer
	if err := New(Options{}).RenderStats(&buf, cat, FormatText); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	out := buf.String()

	expected := []string{
		"model.safetensors (safetensors)",
		"TENSOR",
		"layer.weight",
		"[2, 2]",
		"25.0%",
		"100.0%",
		"2 tensors, 6 parameters, 20 B",
		"epoch: \"7\"",
		"empty: empty tensor",
	}
	for _, s := range expected {
		if !strings.Contains(out, s) {
			t.Errorf("Expected output to contain %q, got:\n%s", s, out)
		}
	}
}

func TestRenderStatsJSON(t *testing.T) {
	cat := NewCatalogue("model.safetensors", parser.FormatSafetensors, sampleCatalogue())
	var buf bytes.Buffer
	if err := New(Options{}).RenderStats(&buf, cat, FormatJSON); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var decoded struct {
		Format   string                   `json:"format"`
		Tensors  []map[string]interface{} `json:"tensors"`
		Metadata map[string]interface{}   `json:"metadata"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Expected valid JSON, got error: %v", err)
	}
	if decoded.Format != "safetensors" {
		t.Errorf("Expected format safetensors, got %q", decoded.Format)
	}
	if len(decoded.Tensors) != 2 {
		t.Fatalf("Expected 2 tensors, got %d", len(decoded.Tensors))
	}
	if decoded.Tensors[0]["name"] != "layer.weight" || decoded.Tensors[0]["mean"] != 0.25 {
		t.Errorf("Expected layer.weight first with mean 0.25, got %v", decoded.Tensors[0])
	}
	if decoded.Metadata["epoch"] != "7" {
		t.Errorf("Expected metadata epoch 7, got %v", decoded.Metadata)
	}
}

func TestRenderValue(t *testing.T) {
	m := value.NewMap()
	m.Set("zeta", value.Number(1))
	m.Set("alpha", value.Sequence(value.Bool(true), value.Null()))

	var buf bytes.Buffer
	if err := New(Options{}).RenderValue(&buf, value.MapValue(m), FormatJSON); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	out := buf.String()
	if strings.Index(out, "zeta") > strings.Index(out, "alpha") {
		t.Errorf("Expected key order preserved, got:\n%s", out)
	}

	buf.Reset()
	if err := New(Options{}).RenderValue(&buf, value.MapValue(m), FormatYAML); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "zeta: 1\n") {
		t.Errorf("Expected YAML in document order, got:\n%s", buf.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d): expected %q, got %q", tt.n, tt.want, got)
		}
	}
}
