package architecture

import (
	"math"
	"regexp"
	"strings"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

var batchNormPattern = regexp.MustCompile(`(?i)(\bbn\d*\b|batch_?norm|running_mean|running_var)`)

func isBatchNorm(name string) bool {
	return batchNormPattern.MatchString(strings.ReplaceAll(name, ".", " "))
}

func batchNormLayers(c *tensor.Catalogue) int {
	layers := make(map[string]bool)
	for _, n := range c.Names() {
		if isBatchNorm(n) {
			layers[types.LayerName(n)] = true
		}
	}
	return len(layers)
}

// runningShift averages |delta mean| over the running statistics buffers
// whose names end in suffix.
func runningShift(in *types.Input, suffix string) float64 {
	pairs := types.CommonStats(in.Old, in.New, func(n string) bool {
		return strings.HasSuffix(n, suffix)
	})
	if len(pairs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pairs {
		sum += math.Abs(p.New.Mean - p.Old.Mean)
	}
	return sum / float64(len(pairs))
}

func AnalyzeBatchNorm(in *types.Input) (differ.Payload, bool) {
	oldLayers := batchNormLayers(in.Old)
	newLayers := batchNormLayers(in.New)
	if oldLayers == 0 && newLayers == 0 {
		return nil, false
	}
	meanShift := runningShift(in, "running_mean")
	varShift := runningShift(in, "running_var")

	if oldLayers == newLayers && meanShift <= ChangeThreshold && varShift <= ChangeThreshold {
		return nil, false
	}
	return &types.BatchNormAnalysis{
		OldLayers: oldLayers,
		NewLayers: newLayers,
		MeanShift: meanShift,
		VarShift:  varShift,
	}, true
}
