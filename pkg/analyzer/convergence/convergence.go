package convergence

import (
	"math"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

// AnalysisRegistry interface to avoid import cycles
type AnalysisRegistry interface {
	Register(name string, category types.Category, fn types.AnalysisFunc)
}

func RegisterAnalyses(registry AnalysisRegistry) {
	registry.Register("convergence", types.CategoryConvergence, AnalyzeConvergence)
}

const (
	// PlateauLookback is the number of trailing steps inspected for a plateau.
	PlateauLookback = 3
	// PlateauThreshold is the step size under which training has stalled.
	PlateauThreshold = 1e-4
	// minLossPoints is the shortest loss history worth classifying.
	minLossPoints = 3
)

var lossHistoryKeys = []string{"loss_history", "losses", "train_losses", "training_loss_history"}

// AnalyzeConvergence classifies the trajectory of a run. It needs either
// earlier checkpoints or a loss history in the new metadata, and is skipped
// otherwise.
func AnalyzeConvergence(in *types.Input) (differ.Payload, bool) {
	if len(in.History) > 0 {
		chain := append(append([]*tensor.Catalogue{}, in.History...), in.Old, in.New)
		steps := checkpointSteps(chain)
		if len(steps) >= 2 {
			return classifySteps(steps, nil, "checkpoints", len(chain)), true
		}
	}

	losses, ok := lossHistory(in.New)
	if !ok {
		losses, ok = lossHistory(in.Old)
	}
	if !ok {
		return nil, false
	}
	signed := make([]float64, len(losses)-1)
	steps := make([]float64, len(losses)-1)
	for i := 1; i < len(losses); i++ {
		signed[i-1] = losses[i] - losses[i-1]
		steps[i-1] = math.Abs(signed[i-1])
	}
	return classifySteps(steps, signed, "loss values", len(losses)), true
}

// checkpointSteps is the mean stats delta between consecutive checkpoints.
func checkpointSteps(chain []*tensor.Catalogue) []float64 {
	var steps []float64
	for i := 1; i < len(chain); i++ {
		pairs := types.CommonStats(chain[i-1], chain[i], nil)
		if len(pairs) == 0 {
			continue
		}
		var sum float64
		for _, p := range pairs {
			sum += differ.StatsDelta(p.Old, p.New)
		}
		steps = append(steps, sum/float64(len(pairs)))
	}
	return steps
}

func lossHistory(c *tensor.Catalogue) ([]float64, bool) {
	_, v, ok := types.Find(types.Metadata(c), lossHistoryKeys...)
	if !ok {
		return nil, false
	}
	items, ok := v.AsSequence()
	if !ok || len(items) < minLossPoints {
		return nil, false
	}
	out := make([]float64, 0, len(items))
	for _, it := range items {
		n, ok := types.AsNumber(it)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// classifySteps turns step magnitudes into a status. signed carries the
// direction of each step for loss histories and is nil for checkpoints.
func classifySteps(steps, signed []float64, source string, points int) *types.ConvergenceAnalysis {
	mean, std := types.MeanStd(steps)
	stability := 1.0
	if mean > 0 {
		stability = 1 / (1 + std/mean)
	}
	last := steps[len(steps)-1]

	p := &types.ConvergenceAnalysis{
		Source:    source,
		Points:    points,
		Stability: stability,
		LastDelta: last,
		Plateau:   plateau(steps),
	}

	switch {
	case last < PlateauThreshold:
		p.Status = types.StatusConverged
	case oscillates(steps, signed):
		p.Status = types.StatusOscillating
	case diverges(steps, signed):
		p.Status = types.StatusDiverging
	default:
		p.Status = types.StatusConverging
	}
	return p
}

func plateau(steps []float64) bool {
	if len(steps) < PlateauLookback {
		return false
	}
	for _, s := range steps[len(steps)-PlateauLookback:] {
		if s >= PlateauThreshold {
			return false
		}
	}
	return true
}

// oscillates reports direction changes on at least half of the
// opportunities. For loss histories that is the sign of each step; for
// checkpoints it is whether step sizes grow or shrink.
func oscillates(steps, signed []float64) bool {
	series := signed
	if series == nil {
		series = make([]float64, 0, len(steps)-1)
		for i := 1; i < len(steps); i++ {
			series = append(series, steps[i]-steps[i-1])
		}
	}
	if len(series) < 3 {
		return false
	}
	flips := 0
	for i := 1; i < len(series); i++ {
		if series[i]*series[i-1] < 0 {
			flips++
		}
	}
	return 2*flips >= len(series)-1
}

func diverges(steps, signed []float64) bool {
	if signed != nil {
		var sum float64
		for _, s := range signed {
			sum += s
		}
		return sum > 0 && signed[len(signed)-1] > 0
	}
	return steps[len(steps)-1] > steps[0]
}
