package architecture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/testutil"
	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

func TestAnalyzeArchitecture(t *testing.T) {
	in := &types.Input{
		Old: testutil.Catalogue(nil,
			testutil.T("fc1.weight", 1, 2, 3, 4),
			testutil.T("fc1.bias", 0, 0),
		),
		New: testutil.Catalogue(nil,
			testutil.T("conv1.weight", 1, 2, 3),
			testutil.T("fc1.weight", 1, 2, 3, 4),
			testutil.T("fc1.bias", 0, 0),
		),
		Diffs: []differ.Record{
			differ.Added("conv1.weight", value.TensorRef("conv1.weight")),
		},
	}

	p, ok := AnalyzeArchitecture(in)
	require.True(t, ok)
	a := p.(*types.ArchitectureAnalysis)
	assert.Equal(t, map[string]int{"linear": 1}, a.OldLayers)
	assert.Equal(t, map[string]int{"linear": 1, "convolution": 1}, a.NewLayers)
	assert.Equal(t, uint64(6), a.OldParameters)
	assert.Equal(t, uint64(9), a.NewParameters)
	assert.Equal(t, []string{"conv1"}, a.AddedLayers)
	assert.Empty(t, a.RemovedLayers)
}

func TestAnalyzeArchitectureUnchanged(t *testing.T) {
	in := &types.Input{
		Old: testutil.Catalogue(nil, testutil.T("fc.weight", 1, 2)),
		New: testutil.Catalogue(nil, testutil.T("fc.weight", 5, 6)),
	}
	_, ok := AnalyzeArchitecture(in)
	assert.False(t, ok, "value changes alone are not architectural")
}

func TestAttentionModule(t *testing.T) {
	tests := []struct {
		name   string
		module string
		ok     bool
	}{
		{"layers.0.self_attn.q_proj.weight", "layers.0.self_attn", true},
		{"encoder.attention.output.dense.weight", "encoder.attention", true},
		{"blocks.3.q_proj.weight", "blocks.3", true},
		{"fc.weight", "", false},
	}
	for _, tt := range tests {
		m, ok := attentionModule(tt.name)
		if ok != tt.ok || m != tt.module {
			t.Errorf("attentionModule(%q) = (%q, %v), expected (%q, %v)", tt.name, m, ok, tt.module, tt.ok)
		}
	}
}

func TestAnalyzeAttention(t *testing.T) {
	oldCat := testutil.Catalogue(nil,
		testutil.T("layers.0.attn.q.weight", 1, 2),
		testutil.T("layers.0.mlp.weight", 1, 2),
	)
	grown := testutil.Catalogue(nil,
		testutil.T("layers.0.attn.q.weight", 1, 2),
		testutil.T("layers.1.attn.q.weight", 1, 2),
		testutil.T("layers.0.mlp.weight", 1, 2),
	)

	p, ok := AnalyzeAttention(&types.Input{Old: oldCat, New: grown})
	require.True(t, ok)
	a := p.(*types.AttentionAnalysis)
	assert.Equal(t, 1, a.OldModules)
	assert.Equal(t, 2, a.NewModules)
	assert.Equal(t, 1, a.Tensors)

	_, ok = AnalyzeAttention(&types.Input{Old: oldCat, New: oldCat})
	assert.False(t, ok)

	noAttention := testutil.Catalogue(nil, testutil.T("fc.weight", 1))
	_, ok = AnalyzeAttention(&types.Input{Old: noAttention, New: noAttention})
	assert.False(t, ok)
}

func TestAnalyzeActivation(t *testing.T) {
	in := &types.Input{
		Old: testutil.Catalogue(map[string]interface{}{"config": map[string]interface{}{"hidden_act": "relu"}},
			testutil.T("fc.weight", 1, 2)),
		New: testutil.Catalogue(map[string]interface{}{"config": map[string]interface{}{"hidden_act": "GELU"}},
			testutil.T("fc.weight", 1, 2)),
	}
	p, ok := AnalyzeActivation(in)
	require.True(t, ok)
	a := p.(*types.ActivationAnalysis)
	assert.Equal(t, []string{"relu"}, a.OldActivations)
	assert.Equal(t, []string{"gelu"}, a.NewActivations)
}

func TestAnalyzeActivationDeadUnits(t *testing.T) {
	in := &types.Input{
		Old: testutil.Catalogue(nil, testutil.T("fc.weight", 1, 2, 3, 4)),
		New: testutil.Catalogue(nil, testutil.T("fc.weight", 0, 0, 3, 4)),
	}
	p, ok := AnalyzeActivation(in)
	require.True(t, ok)
	a := p.(*types.ActivationAnalysis)
	assert.InDelta(t, 0, a.OldDeadRatio, 1e-12)
	assert.InDelta(t, 0.5, a.NewDeadRatio, 1e-12)
}

func TestAnalyzeBatchNorm(t *testing.T) {
	in := &types.Input{
		Old: testutil.Catalogue(nil,
			testutil.T("bn1.running_mean", 0, 0),
			testutil.T("bn1.running_var", 1, 1),
			testutil.T("bn1.weight", 1, 1),
		),
		New: testutil.Catalogue(nil,
			testutil.T("bn1.running_mean", 0.5, 0.5),
			testutil.T("bn1.running_var", 1, 1),
			testutil.T("bn1.weight", 1, 1),
		),
	}
	p, ok := AnalyzeBatchNorm(in)
	require.True(t, ok)
	b := p.(*types.BatchNormAnalysis)
	assert.Equal(t, 1, b.OldLayers)
	assert.Equal(t, 1, b.NewLayers)
	assert.InDelta(t, 0.5, b.MeanShift, 1e-12)
	assert.InDelta(t, 0, b.VarShift, 1e-12)

	_, ok = AnalyzeBatchNorm(&types.Input{Old: in.Old, New: in.Old})
	assert.False(t, ok)
}

func TestAnalyzeEnsemble(t *testing.T) {
	two := testutil.Catalogue(nil,
		testutil.T("models.0.fc.weight", 1, 2),
		testutil.T("models.1.fc.weight", 3, 4),
	)
	three := testutil.Catalogue(nil,
		testutil.T("models.0.fc.weight", 1, 2),
		testutil.T("models.1.fc.weight", 3, 4),
		testutil.T("models.2.fc.weight", 5, 6),
	)

	p, ok := AnalyzeEnsemble(&types.Input{Old: two, New: three})
	require.True(t, ok)
	e := p.(*types.EnsembleAnalysis)
	assert.Equal(t, 2, e.OldMembers)
	assert.Equal(t, 3, e.NewMembers)
	assert.InDelta(t, 0, e.MaxDrift, 1e-12)

	_, ok = AnalyzeEnsemble(&types.Input{Old: two, New: two})
	assert.False(t, ok)

	single := testutil.Catalogue(nil, testutil.T("models.0.fc.weight", 1, 2))
	_, ok = AnalyzeEnsemble(&types.Input{Old: single, New: single})
	assert.False(t, ok)
}
