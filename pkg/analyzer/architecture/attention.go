package architecture

import (
	"strings"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

var (
	attentionBlocks      = []string{"attn", "attention"}
	attentionProjections = []string{"q_proj", "k_proj", "v_proj", "o_proj", "query", "key", "value"}
)

// attentionModule returns the module a tensor belongs to when it is part of
// an attention block: the prefix up to the attn/attention segment, or the
// parent of a projection segment.
func attentionModule(name string) (string, bool) {
	segs := strings.Split(name, ".")
	for i, s := range segs {
		ls := strings.ToLower(s)
		for _, b := range attentionBlocks {
			if strings.Contains(ls, b) {
				return strings.Join(segs[:i+1], "."), true
			}
		}
	}
	for i, s := range segs {
		ls := strings.ToLower(s)
		for _, p := range attentionProjections {
			if ls == p {
				return strings.Join(segs[:i], "."), true
			}
		}
	}
	return "", false
}

func isAttention(name string) bool {
	_, ok := attentionModule(name)
	return ok
}

func attentionModules(c *tensor.Catalogue) int {
	modules := make(map[string]bool)
	for _, n := range c.Names() {
		if m, ok := attentionModule(n); ok {
			modules[m] = true
		}
	}
	return len(modules)
}

func AnalyzeAttention(in *types.Input) (differ.Payload, bool) {
	oldModules := attentionModules(in.Old)
	newModules := attentionModules(in.New)
	if oldModules == 0 && newModules == 0 {
		return nil, false
	}

	pairs := types.CommonStats(in.Old, in.New, isAttention)
	var sum float64
	for _, p := range pairs {
		sum += types.RelativeStatsChange(p.Old, p.New)
	}
	var mean float64
	if len(pairs) > 0 {
		mean = sum / float64(len(pairs))
	}

	if oldModules == newModules && mean <= ChangeThreshold {
		return nil, false
	}
	return &types.AttentionAnalysis{
		OldModules: oldModules,
		NewModules: newModules,
		Tensors:    len(pairs),
		MeanChange: mean,
	}, true
}
