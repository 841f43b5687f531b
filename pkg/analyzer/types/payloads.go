package types

import (
	"fmt"
	"math"
	"strings"
)

// MetricChange reports a scalar training metric found in metadata. It backs
// the learning_rate, loss and accuracy analyses.
type MetricChange struct {
	Metric   string  `json:"metric" yaml:"metric"`
	Key      string  `json:"key" yaml:"key"`
	Old      float64 `json:"old" yaml:"old"`
	New      float64 `json:"new" yaml:"new"`
	Delta    float64 `json:"delta" yaml:"delta"`
	Relative float64 `json:"relative_change" yaml:"relative_change"`
	Trend    Trend   `json:"trend" yaml:"trend"`
	// Improved is unset for metrics without a preferred direction.
	Improved *bool `json:"improved,omitempty" yaml:"improved,omitempty"`
}

func (p *MetricChange) Capability() string { return p.Metric }

func (p *MetricChange) Magnitude() float64 { return math.Abs(p.Relative) }

func (p *MetricChange) Describe() string {
	s := fmt.Sprintf("%s %.6g -> %.6g (%s, %+.1f%%)", strings.ReplaceAll(p.Metric, "_", " "),
		p.Old, p.New, p.Trend, 100*p.Relative)
	if p.Improved != nil {
		if *p.Improved {
			s += ", improved"
		} else {
			s += ", worse"
		}
	}
	return s
}

// TextChange reports a categorical value such as the optimizer or the model
// version.
type TextChange struct {
	Name string `json:"-" yaml:"-"`
	Key  string `json:"key" yaml:"key"`
	Old  string `json:"old" yaml:"old"`
	New  string `json:"new" yaml:"new"`
}

func (p *TextChange) Capability() string { return p.Name }

func (p *TextChange) Magnitude() float64 { return 1 }

func (p *TextChange) Describe() string {
	return fmt.Sprintf("%s %s -> %s", strings.ReplaceAll(p.Name, "_", " "), p.Old, p.New)
}

type GradientAnalysis struct {
	Tensors       int            `json:"gradient_tensors" yaml:"gradient_tensors"`
	Norm          float64        `json:"norm" yaml:"norm"`
	OldNorm       float64        `json:"old_norm" yaml:"old_norm"`
	DeltaNorm     float64        `json:"delta_norm" yaml:"delta_norm"`
	DeltaVariance float64        `json:"delta_variance" yaml:"delta_variance"`
	Vanishing     []string       `json:"vanishing,omitempty" yaml:"vanishing,omitempty"`
	Exploding     []string       `json:"exploding,omitempty" yaml:"exploding,omitempty"`
	Status        GradientStatus `json:"status" yaml:"status"`
}

func (p *GradientAnalysis) Capability() string { return "gradient" }

func (p *GradientAnalysis) Magnitude() float64 {
	switch p.Status {
	case GradientCritical:
		return math.Max(p.DeltaNorm, 100)
	case GradientWarning:
		return math.Max(p.DeltaNorm, 1)
	}
	return p.DeltaNorm
}

func (p *GradientAnalysis) Describe() string {
	s := fmt.Sprintf("gradient flow %s: norm %.4g -> %.4g over %d tensors (delta norm %.4g)",
		p.Status, p.OldNorm, p.Norm, p.Tensors, p.DeltaNorm)
	if len(p.Vanishing) > 0 {
		s += fmt.Sprintf(", %d vanishing", len(p.Vanishing))
	}
	if len(p.Exploding) > 0 {
		s += fmt.Sprintf(", %d exploding", len(p.Exploding))
	}
	return s
}

type QuantizationAnalysis struct {
	OldDTypes      map[string]int `json:"old_dtypes" yaml:"old_dtypes"`
	NewDTypes      map[string]int `json:"new_dtypes" yaml:"new_dtypes"`
	OldBytes       uint64         `json:"old_bytes" yaml:"old_bytes"`
	NewBytes       uint64         `json:"new_bytes" yaml:"new_bytes"`
	Compression    float64        `json:"compression" yaml:"compression"`
	OldMixed       bool           `json:"old_mixed_precision" yaml:"old_mixed_precision"`
	NewMixed       bool           `json:"new_mixed_precision" yaml:"new_mixed_precision"`
	ChangedTensors int            `json:"changed_tensors" yaml:"changed_tensors"`
	PrecisionLoss  float64        `json:"precision_loss" yaml:"precision_loss"`
}

func (p *QuantizationAnalysis) Capability() string { return "quantization" }

func (p *QuantizationAnalysis) Magnitude() float64 {
	return math.Abs(1-p.Compression) + p.PrecisionLoss
}

func (p *QuantizationAnalysis) Describe() string {
	s := fmt.Sprintf("dtypes %s -> %s, size ratio %.3f, precision loss %.4g",
		FormatCounts(p.OldDTypes), FormatCounts(p.NewDTypes), p.Compression, p.PrecisionLoss)
	if p.NewMixed {
		s += ", mixed precision"
	}
	return s
}

type ConvergenceAnalysis struct {
	Source    string            `json:"source" yaml:"source"`
	Points    int               `json:"points" yaml:"points"`
	Stability float64           `json:"stability" yaml:"stability"`
	Status    ConvergenceStatus `json:"status" yaml:"status"`
	Plateau   bool              `json:"plateau" yaml:"plateau"`
	LastDelta float64           `json:"last_delta" yaml:"last_delta"`
}

func (p *ConvergenceAnalysis) Capability() string { return "convergence" }

func (p *ConvergenceAnalysis) Magnitude() float64 { return 1 - p.Stability }

func (p *ConvergenceAnalysis) Describe() string {
	s := fmt.Sprintf("%s over %d %s, stability %.3f", p.Status, p.Points, p.Source, p.Stability)
	if p.Plateau {
		s += ", plateau"
	}
	return s
}

type ArchitectureAnalysis struct {
	OldLayers     map[string]int `json:"old_layers" yaml:"old_layers"`
	NewLayers     map[string]int `json:"new_layers" yaml:"new_layers"`
	OldParameters uint64         `json:"old_parameters" yaml:"old_parameters"`
	NewParameters uint64         `json:"new_parameters" yaml:"new_parameters"`
	AddedLayers   []string       `json:"added_layers,omitempty" yaml:"added_layers,omitempty"`
	RemovedLayers []string       `json:"removed_layers,omitempty" yaml:"removed_layers,omitempty"`
}

func (p *ArchitectureAnalysis) Capability() string { return "architecture" }

func (p *ArchitectureAnalysis) Magnitude() float64 {
	rel := math.Abs(float64(p.NewParameters)-float64(p.OldParameters)) / math.Max(float64(p.OldParameters), 1)
	return rel + float64(len(p.AddedLayers)+len(p.RemovedLayers))
}

func (p *ArchitectureAnalysis) Describe() string {
	s := fmt.Sprintf("layers %s -> %s, parameters %d -> %d",
		FormatCounts(p.OldLayers), FormatCounts(p.NewLayers), p.OldParameters, p.NewParameters)
	if len(p.AddedLayers) > 0 {
		s += ", added " + strings.Join(p.AddedLayers, ", ")
	}
	if len(p.RemovedLayers) > 0 {
		s += ", removed " + strings.Join(p.RemovedLayers, ", ")
	}
	return s
}

type AttentionAnalysis struct {
	OldModules int     `json:"old_modules" yaml:"old_modules"`
	NewModules int     `json:"new_modules" yaml:"new_modules"`
	Tensors    int     `json:"tensors" yaml:"tensors"`
	MeanChange float64 `json:"mean_change" yaml:"mean_change"`
}

func (p *AttentionAnalysis) Capability() string { return "attention" }

func (p *AttentionAnalysis) Magnitude() float64 {
	return p.MeanChange + math.Abs(float64(p.NewModules-p.OldModules))
}

func (p *AttentionAnalysis) Describe() string {
	return fmt.Sprintf("attention modules %d -> %d, mean relative change %.2f%% over %d tensors",
		p.OldModules, p.NewModules, 100*p.MeanChange, p.Tensors)
}

type ActivationAnalysis struct {
	OldActivations []string `json:"old_activations" yaml:"old_activations,flow"`
	NewActivations []string `json:"new_activations" yaml:"new_activations,flow"`
	OldDeadRatio   float64  `json:"old_dead_ratio" yaml:"old_dead_ratio"`
	NewDeadRatio   float64  `json:"new_dead_ratio" yaml:"new_dead_ratio"`
}

func (p *ActivationAnalysis) Capability() string { return "activation" }

func (p *ActivationAnalysis) Magnitude() float64 {
	m := math.Abs(p.NewDeadRatio - p.OldDeadRatio)
	if strings.Join(p.OldActivations, ",") != strings.Join(p.NewActivations, ",") {
		m += 1
	}
	return m
}

func (p *ActivationAnalysis) Describe() string {
	return fmt.Sprintf("activations [%s] -> [%s], zero ratio %.2f%% -> %.2f%%",
		strings.Join(p.OldActivations, ", "), strings.Join(p.NewActivations, ", "),
		100*p.OldDeadRatio, 100*p.NewDeadRatio)
}

type BatchNormAnalysis struct {
	OldLayers int     `json:"old_layers" yaml:"old_layers"`
	NewLayers int     `json:"new_layers" yaml:"new_layers"`
	MeanShift float64 `json:"running_mean_shift" yaml:"running_mean_shift"`
	VarShift  float64 `json:"running_var_shift" yaml:"running_var_shift"`
}

func (p *BatchNormAnalysis) Capability() string { return "batch_norm" }

func (p *BatchNormAnalysis) Magnitude() float64 {
	return p.MeanShift + p.VarShift + math.Abs(float64(p.NewLayers-p.OldLayers))
}

func (p *BatchNormAnalysis) Describe() string {
	return fmt.Sprintf("batch norm layers %d -> %d, running mean shift %.4g, running var shift %.4g",
		p.OldLayers, p.NewLayers, p.MeanShift, p.VarShift)
}

type EnsembleAnalysis struct {
	OldMembers int                `json:"old_members" yaml:"old_members"`
	NewMembers int                `json:"new_members" yaml:"new_members"`
	Drift      map[string]float64 `json:"member_drift,omitempty" yaml:"member_drift,omitempty"`
	MaxDrift   float64            `json:"max_drift" yaml:"max_drift"`
}

func (p *EnsembleAnalysis) Capability() string { return "ensemble" }

func (p *EnsembleAnalysis) Magnitude() float64 {
	return p.MaxDrift + math.Abs(float64(p.NewMembers-p.OldMembers))
}

func (p *EnsembleAnalysis) Describe() string {
	return fmt.Sprintf("ensemble members %d -> %d, max member drift %.2f%%",
		p.OldMembers, p.NewMembers, 100*p.MaxDrift)
}

// WeightChange is the relative movement of one tensor's distribution.
type WeightChange struct {
	Tensor     string  `json:"tensor" yaml:"tensor"`
	MeanChange float64 `json:"mean_change" yaml:"mean_change"`
	StdChange  float64 `json:"std_change" yaml:"std_change"`
}

type WeightDistributionAnalysis struct {
	Changed int            `json:"changed_tensors" yaml:"changed_tensors"`
	Total   int            `json:"compared_tensors" yaml:"compared_tensors"`
	Top     []WeightChange `json:"top" yaml:"top"`
}

func (p *WeightDistributionAnalysis) Capability() string { return "weight_distribution" }

func (p *WeightDistributionAnalysis) Magnitude() float64 {
	if len(p.Top) == 0 {
		return 0
	}
	return math.Max(p.Top[0].MeanChange, p.Top[0].StdChange)
}

func (p *WeightDistributionAnalysis) Describe() string {
	s := fmt.Sprintf("%d of %d tensors shifted significantly", p.Changed, p.Total)
	if len(p.Top) > 0 {
		t := p.Top[0]
		s += fmt.Sprintf(", largest %s (mean %.1f%%, std %.1f%%)", t.Tensor, 100*t.MeanChange, 100*t.StdChange)
	}
	return s
}

// ParamChange is one hyperparameter that differs between the sides.
type ParamChange struct {
	Key string  `json:"key" yaml:"key"`
	Old float64 `json:"old" yaml:"old"`
	New float64 `json:"new" yaml:"new"`
}

type RegularizationAnalysis struct {
	Changes []ParamChange `json:"changes" yaml:"changes"`
}

func (p *RegularizationAnalysis) Capability() string { return "regularization" }

func (p *RegularizationAnalysis) Magnitude() float64 {
	var m float64
	for _, c := range p.Changes {
		m = math.Max(m, math.Abs(c.New-c.Old)/math.Max(math.Abs(c.Old), 1e-12))
	}
	return m
}

func (p *RegularizationAnalysis) Describe() string {
	parts := make([]string, len(p.Changes))
	for i, c := range p.Changes {
		parts[i] = fmt.Sprintf("%s %.6g -> %.6g", c.Key, c.Old, c.New)
	}
	return "regularization " + strings.Join(parts, ", ")
}

// TensorGrowth is the change in storage size of one tensor.
type TensorGrowth struct {
	Tensor string `json:"tensor" yaml:"tensor"`
	Delta  int64  `json:"delta_bytes" yaml:"delta_bytes"`
}

type MemoryAnalysis struct {
	OldBytes uint64         `json:"old_bytes" yaml:"old_bytes"`
	NewBytes uint64         `json:"new_bytes" yaml:"new_bytes"`
	Delta    int64          `json:"delta_bytes" yaml:"delta_bytes"`
	Largest  []TensorGrowth `json:"largest_changes,omitempty" yaml:"largest_changes,omitempty"`
}

func (p *MemoryAnalysis) Capability() string { return "memory" }

func (p *MemoryAnalysis) Magnitude() float64 {
	return math.Abs(float64(p.Delta)) / math.Max(float64(p.OldBytes), 1)
}

func (p *MemoryAnalysis) Describe() string {
	return fmt.Sprintf("memory %s -> %s (%+d bytes)", FormatBytes(p.OldBytes), FormatBytes(p.NewBytes), p.Delta)
}

type ComplexityAnalysis struct {
	OldParameters uint64  `json:"old_parameters" yaml:"old_parameters"`
	NewParameters uint64  `json:"new_parameters" yaml:"new_parameters"`
	OldLayers     int     `json:"old_layers" yaml:"old_layers"`
	NewLayers     int     `json:"new_layers" yaml:"new_layers"`
	OldScore      float64 `json:"old_score" yaml:"old_score"`
	NewScore      float64 `json:"new_score" yaml:"new_score"`
}

func (p *ComplexityAnalysis) Capability() string { return "complexity" }

func (p *ComplexityAnalysis) Magnitude() float64 { return math.Abs(p.NewScore - p.OldScore) }

func (p *ComplexityAnalysis) Describe() string {
	return fmt.Sprintf("complexity %.2f -> %.2f (%d -> %d parameters, %d -> %d layers)",
		p.OldScore, p.NewScore, p.OldParameters, p.NewParameters, p.OldLayers, p.NewLayers)
}

// FormatCounts renders a count map as "{a: 1, b: 2}" with sorted keys.
func FormatCounts(m map[string]int) string {
	keys := SortedKeys(m)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", k, m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
