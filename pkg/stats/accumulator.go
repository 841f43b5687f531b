// Package stats computes per-tensor statistics in a single streaming pass.
package stats

import (
	"errors"
	"math"

	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

// ErrEmpty is returned for tensors without any elements.
var ErrEmpty = errors.New("tensor has no elements")

// Accumulator holds Welford running moments over the finite values seen.
// NaN and Inf are counted separately and excluded from the moments. Two
// accumulators over disjoint chunks combine with Merge.
type Accumulator struct {
	Count     uint64
	Mean      float64
	M2        float64
	Min       float64
	Max       float64
	Zeros     uint64
	NonFinite uint64
}

func (a *Accumulator) Add(x float64) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		a.NonFinite++
		return
	}
	if x == 0 {
		a.Zeros++
	}
	if a.Count == 0 {
		a.Min, a.Max = x, x
	} else {
		if x < a.Min {
			a.Min = x
		}
		if x > a.Max {
			a.Max = x
		}
	}
	a.Count++
	delta := x - a.Mean
	a.Mean += delta / float64(a.Count)
	a.M2 += delta * (x - a.Mean)
}

func (a *Accumulator) AddAll(xs []float64) {
	for _, x := range xs {
		a.Add(x)
	}
}

// Merge folds b into a using the pairwise update of Chan et al.
func (a *Accumulator) Merge(b Accumulator) {
	a.Zeros += b.Zeros
	a.NonFinite += b.NonFinite
	if b.Count == 0 {
		return
	}
	if a.Count == 0 {
		a.Count, a.Mean, a.M2, a.Min, a.Max = b.Count, b.Mean, b.M2, b.Min, b.Max
		return
	}
	n := a.Count + b.Count
	delta := b.Mean - a.Mean
	fa, fb, fn := float64(a.Count), float64(b.Count), float64(n)
	a.Mean += delta * fb / fn
	a.M2 += b.M2 + delta*delta*fa*fb/fn
	a.Count = n
	a.Min = math.Min(a.Min, b.Min)
	a.Max = math.Max(a.Max, b.Max)
}

// Total is every element seen, finite or not.
func (a *Accumulator) Total() uint64 {
	return a.Count + a.NonFinite
}

// Variance is the population variance of the finite values.
func (a *Accumulator) Variance() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.M2 / float64(a.Count)
}

// Result finalizes the accumulator. When only non-finite values were seen the
// moments are zero and HasNonFinite is set.
func (a *Accumulator) Result(name string, shape []int, dtype tensor.DType) (tensor.Stats, error) {
	if a.Total() == 0 {
		return tensor.Stats{}, ErrEmpty
	}
	s := tensor.Stats{
		Name:           name,
		Shape:          shape,
		DType:          dtype,
		ElementCount:   a.Total(),
		ZeroCount:      a.Zeros,
		NonFiniteCount: a.NonFinite,
		HasNonFinite:   a.NonFinite > 0,
	}
	if a.Count > 0 {
		s.Mean = a.Mean
		s.Std = math.Sqrt(a.Variance())
		s.Min = a.Min
		s.Max = a.Max
	}
	return s, nil
}
