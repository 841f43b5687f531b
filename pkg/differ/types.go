package differ

import (
	"fmt"
	"strings"

	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

type Kind string

const (
	KindAdded              Kind = "added"
	KindRemoved            Kind = "removed"
	KindModified           Kind = "modified"
	KindTypeChanged        Kind = "type_changed"
	KindTensorShapeChanged Kind = "tensor_shape_changed"
	KindTensorStatsChanged Kind = "tensor_stats_changed"
	KindAnalysis           Kind = "analysis"
)

// Payload is the typed body of an analysis record.
type Payload interface {
	Capability() string
	Magnitude() float64
	Describe() string
}

// Record is one difference. Which optional fields are set depends on Kind.
type Record struct {
	Kind       Kind          `json:"type" yaml:"type"`
	Path       string        `json:"path" yaml:"path"`
	Old        *value.Value  `json:"old,omitempty" yaml:"old,omitempty"`
	New        *value.Value  `json:"new,omitempty" yaml:"new,omitempty"`
	OldShape   []int         `json:"old_shape,omitempty" yaml:"old_shape,omitempty,flow"`
	NewShape   []int         `json:"new_shape,omitempty" yaml:"new_shape,omitempty,flow"`
	OldStats   *tensor.Stats `json:"old_stats,omitempty" yaml:"old_stats,omitempty"`
	NewStats   *tensor.Stats `json:"new_stats,omitempty" yaml:"new_stats,omitempty"`
	Capability string        `json:"capability,omitempty" yaml:"capability,omitempty"`
	Analysis   Payload       `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

type Result struct {
	Records    []Record `json:"records"`
	HasChanges bool     `json:"has_changes"`
	Summary    string   `json:"summary"`
}

func Added(path string, v value.Value) Record {
	return Record{Kind: KindAdded, Path: path, New: &v}
}

func Removed(path string, v value.Value) Record {
	return Record{Kind: KindRemoved, Path: path, Old: &v}
}

func Modified(path string, old, new value.Value) Record {
	return Record{Kind: KindModified, Path: path, Old: &old, New: &new}
}

func TypeChanged(path string, old, new value.Value) Record {
	return Record{Kind: KindTypeChanged, Path: path, Old: &old, New: &new}
}

func TensorShapeChanged(path string, old, new []int) Record {
	return Record{Kind: KindTensorShapeChanged, Path: path, OldShape: old, NewShape: new}
}

func TensorStatsChanged(path string, old, new tensor.Stats) Record {
	return Record{Kind: KindTensorStatsChanged, Path: path, OldStats: &old, NewStats: &new}
}

// Analysis wraps a payload as a record at analysis.<capability>.
func Analysis(p Payload) Record {
	return Record{
		Kind:       KindAnalysis,
		Path:       "analysis." + p.Capability(),
		Capability: p.Capability(),
		Analysis:   p,
	}
}

// WithPathPrefix returns a copy of r whose path is rooted under prefix.
func (r Record) WithPathPrefix(prefix string) Record {
	if prefix == "" {
		return r
	}
	if r.Path == "" {
		r.Path = prefix
		return r
	}
	r.Path = prefix + "/" + r.Path
	return r
}

// Describe renders the change on one line without the path.
func (r Record) Describe() string {
	switch r.Kind {
	case KindAdded:
		return r.New.String()
	case KindRemoved:
		return r.Old.String()
	case KindModified, KindTypeChanged:
		return r.Old.String() + " -> " + r.New.String()
	case KindTensorShapeChanged:
		return "shape: " + FormatShape(r.OldShape) + " -> " + FormatShape(r.NewShape)
	case KindTensorStatsChanged:
		return describeStats(*r.OldStats, *r.NewStats)
	case KindAnalysis:
		if r.Analysis != nil {
			return r.Analysis.Describe()
		}
	}
	return ""
}

func describeStats(o, n tensor.Stats) string {
	var parts []string
	if o.DType != n.DType {
		parts = append(parts, fmt.Sprintf("dtype %s -> %s", o.DType, n.DType))
	}
	parts = append(parts,
		fmt.Sprintf("mean %.6g -> %.6g", o.Mean, n.Mean),
		fmt.Sprintf("std %.6g -> %.6g", o.Std, n.Std))
	if o.Min != n.Min || o.Max != n.Max {
		parts = append(parts, fmt.Sprintf("range [%.6g, %.6g] -> [%.6g, %.6g]", o.Min, o.Max, n.Min, n.Max))
	}
	if n.HasNonFinite && !o.HasNonFinite {
		parts = append(parts, "non-finite values appeared")
	}
	return "stats: " + strings.Join(parts, ", ")
}

func FormatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
