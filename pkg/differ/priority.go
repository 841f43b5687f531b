package differ

import (
	"math"
	"sort"
)

// StructuralRank is the magnitude of changes that alter the shape of the
// data rather than a number in it.
const StructuralRank = math.MaxFloat64

// Magnitude ranks a record for sorting. Larger is more significant.
func Magnitude(r Record) float64 {
	switch r.Kind {
	case KindAdded, KindRemoved, KindTypeChanged, KindTensorShapeChanged:
		return StructuralRank
	case KindModified:
		a, okA := r.Old.AsNumber()
		b, okB := r.New.AsNumber()
		if okA && okB {
			d := math.Abs(a - b)
			if math.IsNaN(d) {
				return StructuralRank
			}
			return d
		}
		return 1
	case KindTensorStatsChanged:
		return StatsDelta(*r.OldStats, *r.NewStats)
	case KindAnalysis:
		if r.Analysis != nil {
			m := r.Analysis.Magnitude()
			if math.IsNaN(m) {
				return 0
			}
			return m
		}
	}
	return 0
}

// SortByMagnitude orders records by descending magnitude. Ties keep their
// original relative order.
func SortByMagnitude(records []Record) {
	mags := make([]float64, len(records))
	idx := make([]int, len(records))
	for i, r := range records {
		mags[i] = Magnitude(r)
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return mags[idx[a]] > mags[idx[b]]
	})
	sorted := make([]Record, len(records))
	for i, j := range idx {
		sorted[i] = records[j]
	}
	copy(records, sorted)
}
