package gradient

import (
	"math"
	"strings"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

// AnalysisRegistry interface to avoid import cycles
type AnalysisRegistry interface {
	Register(name string, category types.Category, fn types.AnalysisFunc)
}

func RegisterAnalyses(registry AnalysisRegistry) {
	registry.Register("gradient", types.CategoryGradient, AnalyzeGradients)
}

// Flow thresholds on the L2 norm of the gradient tensors.
const (
	VanishingWarning  = 1e-7
	ExplodingWarning  = 100
	VanishingCritical = 1e-10
	ExplodingCritical = 1e4
)

// IsGradient reports whether a tensor name follows a gradient naming
// convention ("grad", "grads", "weight.grad", "gradients.fc").
func IsGradient(name string) bool {
	return strings.Contains(strings.ToLower(name), "grad")
}

// gradientSelector picks the gradient tensors of a catalogue. Metadata
// "gradients: true" marks a whole file as gradients.
func gradientSelector(c *tensor.Catalogue) func(string) bool {
	if _, v, ok := types.Find(types.Metadata(c), "gradients"); ok {
		if b, isBool := v.AsBool(); isBool && b {
			return func(string) bool { return true }
		}
	}
	return IsGradient
}

// l2 estimates the L2 norm of a tensor from its moments:
// sum(x^2) = n * (mean^2 + var).
func l2(s tensor.Stats) float64 {
	n := float64(s.ElementCount - s.NonFiniteCount)
	return math.Sqrt(n * (s.Mean*s.Mean + s.Std*s.Std))
}

func catalogueNorm(c *tensor.Catalogue, selected func(string) bool) (norm float64, count int, nonFinite bool, vanishing, exploding []string) {
	var sum float64
	for _, n := range c.Names() {
		if !selected(n) {
			continue
		}
		s, ok := c.Stats(n)
		if !ok {
			continue
		}
		count++
		if s.HasNonFinite {
			nonFinite = true
		}
		t := l2(s)
		sum += t * t
		switch {
		case t < VanishingWarning:
			vanishing = append(vanishing, n)
		case t > ExplodingWarning:
			exploding = append(exploding, n)
		}
	}
	return math.Sqrt(sum), count, nonFinite, vanishing, exploding
}

// AnalyzeGradients reports gradient flow health. The norm is that of the
// new side's gradient tensors; deltas are per-tensor stats deltas between
// the sides.
func AnalyzeGradients(in *types.Input) (differ.Payload, bool) {
	newSel := gradientSelector(in.New)
	norm, count, nonFinite, vanishing, exploding := catalogueNorm(in.New, newSel)
	if count == 0 {
		return nil, false
	}
	oldNorm, _, _, _, _ := catalogueNorm(in.Old, gradientSelector(in.Old))

	var deltas []float64
	var sq float64
	for _, p := range types.CommonStats(in.Old, in.New, newSel) {
		d := differ.StatsDelta(p.Old, p.New)
		deltas = append(deltas, d)
		sq += d * d
	}
	_, std := types.MeanStd(deltas)

	return &types.GradientAnalysis{
		Tensors:       count,
		Norm:          norm,
		OldNorm:       oldNorm,
		DeltaNorm:     math.Sqrt(sq),
		DeltaVariance: std * std,
		Vanishing:     vanishing,
		Exploding:     exploding,
		Status:        classify(norm, nonFinite),
	}, true
}

func classify(norm float64, nonFinite bool) types.GradientStatus {
	switch {
	case nonFinite || math.IsNaN(norm) || math.IsInf(norm, 0):
		return types.GradientCritical
	case norm < VanishingCritical || norm > ExplodingCritical:
		return types.GradientCritical
	case norm < VanishingWarning || norm > ExplodingWarning:
		return types.GradientWarning
	}
	return types.GradientHealthy
}
