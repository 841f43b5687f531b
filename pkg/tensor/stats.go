package tensor

// Stats summarizes the elements of one tensor. It is computed once per side
// and never modified afterwards.
type Stats struct {
	Name           string  `json:"name" yaml:"name"`
	Shape          []int   `json:"shape" yaml:"shape,flow"`
	DType          DType   `json:"dtype" yaml:"dtype"`
	Mean           float64 `json:"mean" yaml:"mean"`
	Std            float64 `json:"std" yaml:"std"`
	Min            float64 `json:"min" yaml:"min"`
	Max            float64 `json:"max" yaml:"max"`
	ElementCount   uint64  `json:"element_count" yaml:"element_count"`
	ZeroCount      uint64  `json:"zero_count" yaml:"zero_count"`
	NonFiniteCount uint64  `json:"non_finite_count,omitempty" yaml:"non_finite_count,omitempty"`
	HasNonFinite   bool    `json:"has_non_finite,omitempty" yaml:"has_non_finite,omitempty"`
}

// Sparsity is the fraction of elements that are exactly zero.
func (s Stats) Sparsity() float64 {
	if s.ElementCount == 0 {
		return 0
	}
	return float64(s.ZeroCount) / float64(s.ElementCount)
}

// Bytes is the storage size implied by shape and dtype.
func (s Stats) Bytes() uint64 {
	return NumElements(s.Shape) * uint64(s.DType.Size())
}

// NumElements is the product of shape; a scalar (empty shape) has one.
func NumElements(shape []int) uint64 {
	n := uint64(1)
	for _, d := range shape {
		if d < 0 {
			return 0
		}
		n *= uint64(d)
	}
	return n
}

func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
