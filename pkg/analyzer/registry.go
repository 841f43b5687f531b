package analyzer

import (
	"github.com/wonderfulspam/model-smith/pkg/analyzer/architecture"
	"github.com/wonderfulspam/model-smith/pkg/analyzer/convergence"
	"github.com/wonderfulspam/model-smith/pkg/analyzer/gradient"
	"github.com/wonderfulspam/model-smith/pkg/analyzer/quantization"
	"github.com/wonderfulspam/model-smith/pkg/analyzer/training"
	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/analyzer/weights"
	"github.com/wonderfulspam/model-smith/pkg/differ"
)

// Analysis interface for all analysis functions
type Analysis interface {
	Analyze(in *types.Input) (differ.Payload, bool)
	Name() string
	Category() types.Category
	Enabled() bool
}

// AnalysisRegistry manages all available analyses. Registration order is
// the order results are reported in.
type AnalysisRegistry struct {
	order    []string
	analyses map[string]*BaseAnalysis
}

func NewAnalysisRegistry() *AnalysisRegistry {
	return &AnalysisRegistry{
		analyses: make(map[string]*BaseAnalysis),
	}
}

// DefaultRegistry returns a registry with every built-in analysis.
func DefaultRegistry() *AnalysisRegistry {
	r := NewAnalysisRegistry()
	training.RegisterAnalyses(r)
	gradient.RegisterAnalyses(r)
	quantization.RegisterAnalyses(r)
	convergence.RegisterAnalyses(r)
	architecture.RegisterAnalyses(r)
	weights.RegisterAnalyses(r)
	return r
}

// Register adds an analysis. Registering a name again replaces the function
// but keeps its position.
func (r *AnalysisRegistry) Register(name string, category types.Category, fn types.AnalysisFunc) {
	if _, exists := r.analyses[name]; !exists {
		r.order = append(r.order, name)
	}
	r.analyses[name] = NewBaseAnalysis(name, category, fn)
}

func (r *AnalysisRegistry) Get(name string) (*BaseAnalysis, bool) {
	a, ok := r.analyses[name]
	return a, ok
}

func (r *AnalysisRegistry) GetAnalyses() []Analysis {
	analyses := make([]Analysis, 0, len(r.order))
	for _, name := range r.order {
		analyses = append(analyses, r.analyses[name])
	}
	return analyses
}

func (r *AnalysisRegistry) GetAnalysesByCategory(category types.Category) []Analysis {
	analyses := make([]Analysis, 0)
	for _, name := range r.order {
		if a := r.analyses[name]; a.Category() == category {
			analyses = append(analyses, a)
		}
	}
	return analyses
}

// Names returns analysis names in registration order.
func (r *AnalysisRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

// ApplyConfig enables exactly the analyses the configuration enables.
// Analyses missing from the configuration stay enabled.
func (r *AnalysisRegistry) ApplyConfig(config *Config) {
	for _, name := range r.order {
		if ac, listed := config.Analyses[name]; listed {
			r.analyses[name].SetEnabled(ac.Enabled)
			if ac.Description != "" {
				r.analyses[name].SetDescription(ac.Description)
			}
		}
	}
}

// BaseAnalysis provides common functionality for all analyses
type BaseAnalysis struct {
	name        string
	category    types.Category
	enabled     bool
	analyzeFunc types.AnalysisFunc
	description string
}

func NewBaseAnalysis(name string, category types.Category, fn types.AnalysisFunc) *BaseAnalysis {
	return &BaseAnalysis{
		name:        name,
		category:    category,
		enabled:     true,
		analyzeFunc: fn,
	}
}

func (a *BaseAnalysis) Analyze(in *types.Input) (differ.Payload, bool) {
	if !a.enabled {
		return nil, false
	}
	return a.analyzeFunc(in)
}

func (a *BaseAnalysis) Name() string {
	return a.name
}

func (a *BaseAnalysis) Category() types.Category {
	return a.category
}

func (a *BaseAnalysis) Enabled() bool {
	return a.enabled
}

func (a *BaseAnalysis) SetEnabled(enabled bool) {
	a.enabled = enabled
}

func (a *BaseAnalysis) Description() string {
	return a.description
}

func (a *BaseAnalysis) SetDescription(description string) {
	a.description = description
}
