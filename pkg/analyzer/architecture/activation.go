package architecture

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

var activationKeys = []string{"activation", "hidden_act", "activation_function", "hidden_activation"}

var activationNames = regexp.MustCompile(`(?i)\b(leaky_relu|relu6?|gelu(?:_new)?|silu|swish|tanh|sigmoid|prelu|elu|selu|mish|softmax|softplus)\b`)

// activations collects activation function names from metadata and tensor
// names, lowercased and sorted.
func activations(c *tensor.Catalogue) []string {
	set := make(map[string]bool)
	for _, k := range activationKeys {
		if _, s, ok := types.FindString(types.Metadata(c), k); ok && s != "" {
			set[strings.ToLower(s)] = true
		}
	}
	for _, n := range c.Names() {
		spaced := strings.ReplaceAll(n, ".", " ")
		for _, m := range activationNames.FindAllString(spaced, -1) {
			set[strings.ToLower(m)] = true
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// zeroRatio is the fraction of exactly-zero elements across all tensors
// with statistics, a proxy for dead units.
func zeroRatio(c *tensor.Catalogue) float64 {
	var zeros, total uint64
	for _, s := range c.AllStats() {
		zeros += s.ZeroCount
		total += s.ElementCount
	}
	if total == 0 {
		return 0
	}
	return float64(zeros) / float64(total)
}

func AnalyzeActivation(in *types.Input) (differ.Payload, bool) {
	oldActs := activations(in.Old)
	newActs := activations(in.New)
	oldRatio := zeroRatio(in.Old)
	newRatio := zeroRatio(in.New)

	sameSet := strings.Join(oldActs, ",") == strings.Join(newActs, ",")
	if sameSet && math.Abs(newRatio-oldRatio) <= ChangeThreshold {
		return nil, false
	}
	return &types.ActivationAnalysis{
		OldActivations: oldActs,
		NewActivations: newActs,
		OldDeadRatio:   oldRatio,
		NewDeadRatio:   newRatio,
	}, true
}
