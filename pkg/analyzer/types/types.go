package types

import (
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

type Category string

const (
	CategoryTraining     Category = "training"
	CategoryGradient     Category = "gradient"
	CategoryQuantization Category = "quantization"
	CategoryConvergence  Category = "convergence"
	CategoryArchitecture Category = "architecture"
	CategoryWeights      Category = "weights"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryTraining,
	CategoryGradient,
	CategoryQuantization,
	CategoryConvergence,
	CategoryArchitecture,
	CategoryWeights,
}

// Input is the read-only view every analysis receives. Catalogues carry
// computed statistics and metadata; History holds earlier checkpoints,
// oldest first, and may be empty.
type Input struct {
	Old     *tensor.Catalogue
	New     *tensor.Catalogue
	Diffs   []differ.Record
	History []*tensor.Catalogue
}

// AnalysisFunc inspects both sides and returns a payload, or false when the
// signals it needs are absent.
type AnalysisFunc func(in *Input) (differ.Payload, bool)

// AnalysisConfig holds configuration for an individual analysis
type AnalysisConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Category    Category `yaml:"category" json:"category"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

type GradientStatus string

const (
	GradientHealthy  GradientStatus = "healthy"
	GradientWarning  GradientStatus = "warning"
	GradientCritical GradientStatus = "critical"
)

type ConvergenceStatus string

const (
	StatusConverging  ConvergenceStatus = "converging"
	StatusConverged   ConvergenceStatus = "converged"
	StatusDiverging   ConvergenceStatus = "diverging"
	StatusOscillating ConvergenceStatus = "oscillating"
)
