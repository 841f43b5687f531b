// Package testutil builds in-memory catalogues for analysis tests.
package testutil

import (
	"context"

	"github.com/wonderfulspam/model-smith/pkg/stats"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

// Tensor describes one tensor of a fixture catalogue. A nil Shape means a
// vector of len(Values).
type Tensor struct {
	Name   string
	Shape  []int
	DType  tensor.DType
	Values []float64
}

// T is shorthand for an f32 vector tensor.
func T(name string, values ...float64) Tensor {
	return Tensor{Name: name, DType: tensor.F32, Values: values}
}

// Filled returns an f32 vector of n copies of v.
func Filled(name string, n int, v float64) Tensor {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = v
	}
	return T(name, vals...)
}

// Catalogue builds a catalogue with statistics already attached. meta may
// be nil.
func Catalogue(meta map[string]interface{}, tensors ...Tensor) *tensor.Catalogue {
	c := tensor.NewCatalogue()
	if meta != nil {
		v, err := value.FromInterface(meta)
		if err != nil {
			panic(err)
		}
		c.Metadata = v
	}
	for _, t := range tensors {
		shape := t.Shape
		if shape == nil {
			shape = []int{len(t.Values)}
		}
		dtype := t.DType
		if dtype == "" {
			dtype = tensor.F32
		}
		vals := t.Values
		c.Add(&tensor.Handle{
			Name:  t.Name,
			Shape: shape,
			DType: dtype,
			Open: func() (tensor.DataSource, error) {
				return tensor.NewSliceSource(vals), nil
			},
		})
		acc, err := stats.ComputeSlice(context.Background(), vals, 1, 0)
		if err != nil {
			panic(err)
		}
		s, err := acc.Result(t.Name, shape, dtype)
		if err != nil {
			continue
		}
		c.SetStats(t.Name, s)
	}
	return c
}
