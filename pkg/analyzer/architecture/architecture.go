package architecture

import (
	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
)

// AnalysisRegistry interface to avoid import cycles
type AnalysisRegistry interface {
	Register(name string, category types.Category, fn types.AnalysisFunc)
}

// RegisterAnalyses registers the analyses that read model structure from
// tensor naming conventions
func RegisterAnalyses(registry AnalysisRegistry) {
	registry.Register("architecture", types.CategoryArchitecture, AnalyzeArchitecture)
	registry.Register("attention", types.CategoryArchitecture, AnalyzeAttention)
	registry.Register("activation", types.CategoryArchitecture, AnalyzeActivation)
	registry.Register("batch_norm", types.CategoryArchitecture, AnalyzeBatchNorm)
	registry.Register("ensemble", types.CategoryArchitecture, AnalyzeEnsemble)
}

// ChangeThreshold is the relative change above which a structural signal
// counts as changed.
const ChangeThreshold = 0.01

func AnalyzeArchitecture(in *types.Input) (differ.Payload, bool) {
	oldLayers := types.LayerCounts(in.Old)
	newLayers := types.LayerCounts(in.New)
	oldParams := types.TotalParameters(in.Old)
	newParams := types.TotalParameters(in.New)
	added, removed := types.ChangedLayers(in.Diffs, in.Old, in.New)

	if types.CountsEqual(oldLayers, newLayers) && oldParams == newParams && len(added) == 0 && len(removed) == 0 {
		return nil, false
	}
	return &types.ArchitectureAnalysis{
		OldLayers:     oldLayers,
		NewLayers:     newLayers,
		OldParameters: oldParams,
		NewParameters: newParams,
		AddedLayers:   added,
		RemovedLayers: removed,
	}, true
}
