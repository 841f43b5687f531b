package weights

import (
	"math"
	"sort"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
)

// AnalysisRegistry interface to avoid import cycles
type AnalysisRegistry interface {
	Register(name string, category types.Category, fn types.AnalysisFunc)
}

func RegisterAnalyses(registry AnalysisRegistry) {
	registry.Register("weight_distribution", types.CategoryWeights, AnalyzeWeightDistribution)
	registry.Register("regularization", types.CategoryWeights, AnalyzeRegularization)
	registry.Register("memory", types.CategoryWeights, AnalyzeMemory)
	registry.Register("complexity", types.CategoryWeights, AnalyzeComplexity)
}

const (
	// SignificantChange is the relative shift that marks a tensor as changed.
	SignificantChange = 0.01
	topWeights        = 10
	topGrowth         = 5
)

// AnalyzeWeightDistribution lists tensors whose mean or std moved by more
// than SignificantChange. The mean shift is relative to max(|mean|, std)
// so near-zero means of weight matrices do not dominate.
func AnalyzeWeightDistribution(in *types.Input) (differ.Payload, bool) {
	pairs := types.CommonStats(in.Old, in.New, nil)
	var changes []types.WeightChange
	for _, p := range pairs {
		scale := math.Max(math.Max(math.Abs(p.Old.Mean), p.Old.Std), 1e-12)
		c := types.WeightChange{
			Tensor:     p.Name,
			MeanChange: math.Abs(p.New.Mean-p.Old.Mean) / scale,
			StdChange:  math.Abs(p.New.Std-p.Old.Std) / math.Max(p.Old.Std, 1e-12),
		}
		if p.Old.Std == 0 && p.New.Std == 0 {
			c.StdChange = 0
		}
		if c.MeanChange > SignificantChange || c.StdChange > SignificantChange {
			changes = append(changes, c)
		}
	}
	if len(changes) == 0 {
		return nil, false
	}
	sort.SliceStable(changes, func(i, j int) bool {
		return math.Max(changes[i].MeanChange, changes[i].StdChange) >
			math.Max(changes[j].MeanChange, changes[j].StdChange)
	})
	top := changes
	if len(top) > topWeights {
		top = top[:topWeights]
	}
	return &types.WeightDistributionAnalysis{
		Changed: len(changes),
		Total:   len(pairs),
		Top:     top,
	}, true
}

var regularizationKeys = []string{"weight_decay", "dropout", "l1_lambda", "l2_lambda"}

func AnalyzeRegularization(in *types.Input) (differ.Payload, bool) {
	var changes []types.ParamChange
	for _, k := range regularizationKeys {
		path, oldVal, ok := types.FindNumber(types.Metadata(in.Old), k)
		if !ok {
			continue
		}
		_, newVal, ok := types.FindNumber(types.Metadata(in.New), k)
		if !ok || oldVal == newVal {
			continue
		}
		changes = append(changes, types.ParamChange{Key: path, Old: oldVal, New: newVal})
	}
	if len(changes) == 0 {
		return nil, false
	}
	return &types.RegularizationAnalysis{Changes: changes}, true
}

func AnalyzeMemory(in *types.Input) (differ.Payload, bool) {
	oldBytes := types.TotalBytes(in.Old)
	newBytes := types.TotalBytes(in.New)
	if oldBytes == newBytes {
		return nil, false
	}

	var growth []types.TensorGrowth
	seen := make(map[string]bool)
	for _, n := range in.New.Names() {
		seen[n] = true
		nh, _ := in.New.Get(n)
		var before uint64
		if oh, ok := in.Old.Get(n); ok {
			before = oh.Bytes()
		}
		if d := int64(nh.Bytes()) - int64(before); d != 0 {
			growth = append(growth, types.TensorGrowth{Tensor: n, Delta: d})
		}
	}
	for _, n := range in.Old.Names() {
		if seen[n] {
			continue
		}
		oh, _ := in.Old.Get(n)
		growth = append(growth, types.TensorGrowth{Tensor: n, Delta: -int64(oh.Bytes())})
	}
	sort.SliceStable(growth, func(i, j int) bool {
		return abs64(growth[i].Delta) > abs64(growth[j].Delta)
	})
	if len(growth) > topGrowth {
		growth = growth[:topGrowth]
	}

	return &types.MemoryAnalysis{
		OldBytes: oldBytes,
		NewBytes: newBytes,
		Delta:    int64(newBytes) - int64(oldBytes),
		Largest:  growth,
	}, true
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// ComplexityScore is log10 of the parameter count.
func ComplexityScore(params uint64) float64 {
	if params == 0 {
		return 0
	}
	return math.Log10(float64(params))
}

func AnalyzeComplexity(in *types.Input) (differ.Payload, bool) {
	oldParams := types.TotalParameters(in.Old)
	newParams := types.TotalParameters(in.New)
	oldLayers := len(types.Layers(in.Old))
	newLayers := len(types.Layers(in.New))
	if oldParams == newParams && oldLayers == newLayers {
		return nil, false
	}
	return &types.ComplexityAnalysis{
		OldParameters: oldParams,
		NewParameters: newParams,
		OldLayers:     oldLayers,
		NewLayers:     newLayers,
		OldScore:      ComplexityScore(oldParams),
		NewScore:      ComplexityScore(newParams),
	}, true
}
