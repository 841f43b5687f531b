package architecture

import (
	"math"
	"regexp"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

var memberPattern = regexp.MustCompile(`^((?:models|estimators|members|ensemble)\.\d+)\.`)

func memberOf(name string) (string, bool) {
	m := memberPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func members(c *tensor.Catalogue) map[string]bool {
	set := make(map[string]bool)
	for _, n := range c.Names() {
		if m, ok := memberOf(n); ok {
			set[m] = true
		}
	}
	return set
}

// AnalyzeEnsemble needs at least two members on one side. Drift is the mean
// relative stats change of each member's tensors.
func AnalyzeEnsemble(in *types.Input) (differ.Payload, bool) {
	oldMembers := members(in.Old)
	newMembers := members(in.New)
	if len(oldMembers) < 2 && len(newMembers) < 2 {
		return nil, false
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, p := range types.CommonStats(in.Old, in.New, nil) {
		m, ok := memberOf(p.Name)
		if !ok {
			continue
		}
		sums[m] += types.RelativeStatsChange(p.Old, p.New)
		counts[m]++
	}
	drift := make(map[string]float64, len(sums))
	var maxDrift float64
	for m, s := range sums {
		d := s / float64(counts[m])
		drift[m] = d
		maxDrift = math.Max(maxDrift, d)
	}

	if len(oldMembers) == len(newMembers) && maxDrift <= ChangeThreshold {
		return nil, false
	}
	return &types.EnsembleAnalysis{
		OldMembers: len(oldMembers),
		NewMembers: len(newMembers),
		Drift:      drift,
		MaxDrift:   maxDrift,
	}, true
}
