package weights

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/testutil"
	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
)

func TestAnalyzeWeightDistribution(t *testing.T) {
	in := &types.Input{
		Old: testutil.Catalogue(nil,
			testutil.T("fc.weight", 1, 2, 3, 4),
			testutil.T("fc.bias", 1, 1),
		),
		New: testutil.Catalogue(nil,
			testutil.T("fc.weight", 2, 3, 4, 5),
			testutil.T("fc.bias", 1, 1),
		),
	}
	p, ok := AnalyzeWeightDistribution(in)
	require.True(t, ok)
	w := p.(*types.WeightDistributionAnalysis)
	assert.Equal(t, 1, w.Changed)
	assert.Equal(t, 2, w.Total)
	require.Len(t, w.Top, 1)
	assert.Equal(t, "fc.weight", w.Top[0].Tensor)
	// mean 2.5 -> 3.5 relative to max(|2.5|, std)
	assert.InDelta(t, 0.4, w.Top[0].MeanChange, 1e-9)
	assert.InDelta(t, 0, w.Top[0].StdChange, 1e-9)
}

func TestAnalyzeWeightDistributionKeepsTop(t *testing.T) {
	var oldTensors, newTensors []testutil.Tensor
	for i := 0; i < 15; i++ {
		name := string(rune('a'+i)) + ".weight"
		oldTensors = append(oldTensors, testutil.T(name, 1, 2))
		newTensors = append(newTensors, testutil.T(name, 1+float64(i+1), 2+float64(i+1)))
	}
	p, ok := AnalyzeWeightDistribution(&types.Input{
		Old: testutil.Catalogue(nil, oldTensors...),
		New: testutil.Catalogue(nil, newTensors...),
	})
	require.True(t, ok)
	w := p.(*types.WeightDistributionAnalysis)
	assert.Equal(t, 15, w.Changed)
	assert.Len(t, w.Top, 10)
	assert.Equal(t, "o.weight", w.Top[0].Tensor, "largest shift first")
}

func TestAnalyzeRegularization(t *testing.T) {
	in := &types.Input{
		Old: testutil.Catalogue(map[string]interface{}{
			"weight_decay": 0.01,
			"dropout":      0.1,
		}, testutil.T("w", 1)),
		New: testutil.Catalogue(map[string]interface{}{
			"weight_decay": 0.001,
			"dropout":      0.1,
		}, testutil.T("w", 1)),
	}
	p, ok := AnalyzeRegularization(in)
	require.True(t, ok)
	r := p.(*types.RegularizationAnalysis)
	require.Len(t, r.Changes, 1)
	assert.Equal(t, "weight_decay", r.Changes[0].Key)
	assert.Equal(t, 0.01, r.Changes[0].Old)
	assert.Equal(t, 0.001, r.Changes[0].New)

	_, ok = AnalyzeRegularization(&types.Input{Old: in.Old, New: in.Old})
	assert.False(t, ok)
}

func TestAnalyzeMemory(t *testing.T) {
	in := &types.Input{
		Old: testutil.Catalogue(nil,
			testutil.T("fc.weight", 1, 2, 3, 4),
			testutil.T("dropped", 1),
		),
		New: testutil.Catalogue(nil,
			testutil.T("fc.weight", 1, 2, 3, 4, 5, 6, 7, 8),
		),
	}
	p, ok := AnalyzeMemory(in)
	require.True(t, ok)
	m := p.(*types.MemoryAnalysis)
	assert.Equal(t, uint64(20), m.OldBytes)
	assert.Equal(t, uint64(32), m.NewBytes)
	assert.Equal(t, int64(12), m.Delta)
	require.Len(t, m.Largest, 2)
	assert.Equal(t, types.TensorGrowth{Tensor: "fc.weight", Delta: 16}, m.Largest[0])
	assert.Equal(t, types.TensorGrowth{Tensor: "dropped", Delta: -4}, m.Largest[1])
}

func TestComplexityScore(t *testing.T) {
	tests := []struct {
		params uint64
		want   float64
	}{
		{0, 0},
		{1, 0},
		{1000, 3},
		{1_000_000, 6},
	}
	for _, tt := range tests {
		if got := ComplexityScore(tt.params); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ComplexityScore(%d) = %g, expected %g", tt.params, got, tt.want)
		}
	}
}

func TestAnalyzeComplexity(t *testing.T) {
	small := testutil.Catalogue(nil, testutil.T("fc.weight", 1, 2))
	large := testutil.Catalogue(nil,
		testutil.T("fc.weight", 1, 2),
		testutil.T("head.weight", 1, 2, 3, 4, 5, 6, 7, 8),
	)
	p, ok := AnalyzeComplexity(&types.Input{Old: small, New: large})
	require.True(t, ok)
	c := p.(*types.ComplexityAnalysis)
	assert.Equal(t, uint64(2), c.OldParameters)
	assert.Equal(t, uint64(10), c.NewParameters)
	assert.Equal(t, 1, c.OldLayers)
	assert.Equal(t, 2, c.NewLayers)
	assert.InDelta(t, 1, c.NewScore, 1e-12)

	_, ok = AnalyzeComplexity(&types.Input{Old: small, New: small})
	assert.False(t, ok)
}
