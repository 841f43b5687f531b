package quantization

import (
	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

// AnalysisRegistry interface to avoid import cycles
type AnalysisRegistry interface {
	Register(name string, category types.Category, fn types.AnalysisFunc)
}

func RegisterAnalyses(registry AnalysisRegistry) {
	registry.Register("quantization", types.CategoryQuantization, AnalyzeQuantization)
}

// DTypeCounts counts tensors per dtype.
func DTypeCounts(c *tensor.Catalogue) map[string]int {
	counts := make(map[string]int)
	for _, n := range c.Names() {
		h, _ := c.Get(n)
		counts[string(h.DType)]++
	}
	return counts
}

// IsMixedPrecision reports more than one floating point dtype among the
// tensors.
func IsMixedPrecision(c *tensor.Catalogue) bool {
	floats := make(map[tensor.DType]bool)
	for _, n := range c.Names() {
		h, _ := c.Get(n)
		if h.DType.IsFloat() {
			floats[h.DType] = true
		}
	}
	return len(floats) > 1
}

// AnalyzeQuantization compares dtype distributions. Compression is
// new_bytes/old_bytes; precision loss averages the stats delta relative to
// the old std over tensors whose dtype changed.
func AnalyzeQuantization(in *types.Input) (differ.Payload, bool) {
	oldCounts := DTypeCounts(in.Old)
	newCounts := DTypeCounts(in.New)
	if types.CountsEqual(oldCounts, newCounts) {
		return nil, false
	}
	oldBytes := types.TotalBytes(in.Old)
	if oldBytes == 0 {
		return nil, false
	}
	newBytes := types.TotalBytes(in.New)

	changed := 0
	var loss float64
	var measured int
	for _, n := range in.New.Names() {
		nh, _ := in.New.Get(n)
		oh, ok := in.Old.Get(n)
		if !ok || oh.DType == nh.DType {
			continue
		}
		changed++
		os, okOld := in.Old.Stats(n)
		ns, okNew := in.New.Stats(n)
		if !okOld || !okNew {
			continue
		}
		scale := os.Std
		if scale < 1e-12 {
			scale = 1e-12
		}
		loss += differ.StatsDelta(os, ns) / scale
		measured++
	}
	if measured > 0 {
		loss /= float64(measured)
	}

	return &types.QuantizationAnalysis{
		OldDTypes:      oldCounts,
		NewDTypes:      newCounts,
		OldBytes:       oldBytes,
		NewBytes:       newBytes,
		Compression:    float64(newBytes) / float64(oldBytes),
		OldMixed:       IsMixedPrecision(in.Old),
		NewMixed:       IsMixedPrecision(in.New),
		ChangedTensors: changed,
		PrecisionLoss:  loss,
	}, true
}
