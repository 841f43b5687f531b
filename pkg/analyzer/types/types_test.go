package types

import (
	"testing"

	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

func TestCategoryConstants(t *testing.T) {
	if CategoryTraining != Category("training") {
		t.Errorf("Expected CategoryTraining to be 'training', got %s", CategoryTraining)
	}
	if CategoryWeights != Category("weights") {
		t.Errorf("Expected CategoryWeights to be 'weights', got %s", CategoryWeights)
	}
	if len(Categories) != 6 {
		t.Errorf("Expected 6 categories, got %d", len(Categories))
	}
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		old, new float64
		want     Trend
	}{
		{1, 1.005, TrendStable},
		{1, 2, TrendIncreasing},
		{1, 0.5, TrendDecreasing},
		{0, 0, TrendStable},
		{-1, -2, TrendDecreasing},
	}
	for _, tt := range tests {
		if got := ClassifyTrend(tt.old, tt.new); got != tt.want {
			t.Errorf("ClassifyTrend(%g, %g) = %s, expected %s", tt.old, tt.new, got, tt.want)
		}
	}
}

func mustValue(t *testing.T, x interface{}) value.Value {
	t.Helper()
	v, err := value.FromInterface(x)
	if err != nil {
		t.Fatalf("FromInterface: %v", err)
	}
	return v
}

func TestFind(t *testing.T) {
	meta := mustValue(t, map[string]interface{}{
		"epoch": 3,
		"optimizer": map[string]interface{}{
			"type":         "adam",
			"param_groups": []interface{}{map[string]interface{}{"lr": 0.01}},
		},
		"weights": value.TensorRef("weights"),
	})

	tests := []struct {
		name     string
		keys     []string
		wantPath string
		wantOK   bool
	}{
		{"top level", []string{"epoch"}, "epoch", true},
		{"dotted path", []string{"optimizer.type"}, "optimizer.type", true},
		{"nested search", []string{"lr"}, "optimizer.param_groups[0].lr", true},
		{"first key wins", []string{"missing", "epoch"}, "epoch", true},
		{"tensors are not metadata", []string{"weights"}, "", false},
		{"absent", []string{"loss"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, _, ok := Find(meta, tt.keys...)
			if ok != tt.wantOK || path != tt.wantPath {
				t.Errorf("Find(%v) = (%q, %v), expected (%q, %v)", tt.keys, path, ok, tt.wantPath, tt.wantOK)
			}
		})
	}
}

func TestAsNumber(t *testing.T) {
	tests := []struct {
		v    value.Value
		want float64
		ok   bool
	}{
		{value.Number(2.5), 2.5, true},
		{value.String(" 1e-3 "), 0.001, true},
		{value.Bool(true), 1, true},
		{value.String("adam"), 0, false},
		{value.Null(), 0, false},
	}
	for _, tt := range tests {
		got, ok := AsNumber(tt.v)
		if ok != tt.ok || got != tt.want {
			t.Errorf("AsNumber(%s) = (%g, %v), expected (%g, %v)", tt.v, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFindString(t *testing.T) {
	meta := mustValue(t, map[string]interface{}{"optimizer": "adam", "version": 2})
	if _, s, ok := FindString(meta, "optimizer"); !ok || s != "adam" {
		t.Errorf("Expected optimizer 'adam', got %q (%v)", s, ok)
	}
	if _, s, ok := FindString(meta, "version"); !ok || s != "2" {
		t.Errorf("Expected version '2', got %q (%v)", s, ok)
	}
}

func TestLayerType(t *testing.T) {
	tests := []struct {
		layer string
		want  string
	}{
		{"encoder.layers.0.self_attn.q_proj", "attention"},
		{"bn1", "normalization"},
		{"encoder.layer_norm", "normalization"},
		{"embeddings.word_embeddings", "embedding"},
		{"features.conv1", "convolution"},
		{"rnn.lstm", "recurrent"},
		{"classifier", "linear"},
		{"layers.0.fc", "linear"},
		{"scale", "other"},
	}
	for _, tt := range tests {
		if got := LayerType(tt.layer); got != tt.want {
			t.Errorf("LayerType(%q) = %s, expected %s", tt.layer, got, tt.want)
		}
	}
}

func catalogue(names ...string) *tensor.Catalogue {
	c := tensor.NewCatalogue()
	for _, n := range names {
		c.Add(&tensor.Handle{Name: n, Shape: []int{2, 3}, DType: tensor.F32})
	}
	return c
}

func TestLayersAndTotals(t *testing.T) {
	c := catalogue("fc.weight", "fc.bias", "head.weight")
	layers := Layers(c)
	if len(layers) != 2 || layers[0] != "fc" || layers[1] != "head" {
		t.Errorf("Expected layers [fc head], got %v", layers)
	}
	if got := TotalParameters(c); got != 18 {
		t.Errorf("Expected 18 parameters, got %d", got)
	}
	if got := TotalBytes(c); got != 72 {
		t.Errorf("Expected 72 bytes, got %d", got)
	}
}

func TestChangedLayers(t *testing.T) {
	old := catalogue("fc.weight", "fc.bias", "old_head.weight")
	new := catalogue("fc.weight", "fc.bias", "fc.scale", "new_head.weight")
	records := []differ.Record{
		differ.Added("fc.scale", value.TensorRef("fc.scale")),
		differ.Added("new_head.weight", value.TensorRef("new_head.weight")),
		differ.Removed("old_head.weight", value.TensorRef("old_head.weight")),
		differ.Added("epoch", value.Number(3)),
	}

	added, removed := ChangedLayers(records, old, new)
	if len(added) != 1 || added[0] != "new_head" {
		t.Errorf("Expected added [new_head], got %v", added)
	}
	if len(removed) != 1 || removed[0] != "old_head" {
		t.Errorf("Expected removed [old_head], got %v", removed)
	}
}

func TestChangedLayersFromSubtrees(t *testing.T) {
	old := catalogue("fc.weight", "decoder.proj.weight", "decoder.proj.bias")
	new := catalogue("fc.weight")
	proj := value.NewMap()
	proj.Set("weight", value.TensorRef("decoder.proj.weight"))
	proj.Set("bias", value.TensorRef("decoder.proj.bias"))
	decoder := value.NewMap()
	decoder.Set("proj", value.MapValue(proj))

	records := []differ.Record{differ.Removed("decoder", value.MapValue(decoder))}
	added, removed := ChangedLayers(records, old, new)
	if len(added) != 0 {
		t.Errorf("Expected no added layers, got %v", added)
	}
	if len(removed) != 1 || removed[0] != "decoder.proj" {
		t.Errorf("Expected removed [decoder.proj], got %v", removed)
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 || std != 2 {
		t.Errorf("Expected mean 5 std 2, got %g %g", mean, std)
	}
	if m, s := MeanStd(nil); m != 0 || s != 0 {
		t.Errorf("Expected zeros for empty input, got %g %g", m, s)
	}
}

func TestPayloadMagnitudes(t *testing.T) {
	critical := &GradientAnalysis{Status: GradientCritical, DeltaNorm: 0.5}
	if critical.Magnitude() != 100 {
		t.Errorf("Expected critical gradients to rank at least 100, got %g", critical.Magnitude())
	}
	conv := &ConvergenceAnalysis{Stability: 0.75}
	if conv.Magnitude() != 0.25 {
		t.Errorf("Expected convergence magnitude 0.25, got %g", conv.Magnitude())
	}
	text := &TextChange{Name: "optimizer", Old: "adam", New: "sgd"}
	if text.Describe() != "optimizer adam -> sgd" {
		t.Errorf("Unexpected description %q", text.Describe())
	}
}
