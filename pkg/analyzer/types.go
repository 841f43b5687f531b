package analyzer

import (
	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
)

// Re-export types for callers that only import the engine
type Category = types.Category
type Input = types.Input
type AnalysisFunc = types.AnalysisFunc
type AnalysisConfig = types.AnalysisConfig

const (
	CategoryTraining     = types.CategoryTraining
	CategoryGradient     = types.CategoryGradient
	CategoryQuantization = types.CategoryQuantization
	CategoryConvergence  = types.CategoryConvergence
	CategoryArchitecture = types.CategoryArchitecture
	CategoryWeights      = types.CategoryWeights
)
