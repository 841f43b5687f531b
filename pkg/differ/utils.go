package differ

import (
	"fmt"
	"math"
	"strings"

	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

// StatsDelta is the Euclidean norm of the mean and std deltas.
func StatsDelta(a, b tensor.Stats) float64 {
	dm := b.Mean - a.Mean
	ds := b.Std - a.Std
	d := math.Hypot(dm, ds)
	if math.IsNaN(d) {
		return 0
	}
	return d
}

// RelativeChange is |new-old| / |old|, guarded against a zero baseline.
func RelativeChange(old, new float64) float64 {
	return math.Abs(new-old) / math.Max(math.Abs(old), 1e-12)
}

// Counts tallies records by kind.
func Counts(records []Record) map[Kind]int {
	counts := make(map[Kind]int)
	for _, r := range records {
		counts[r.Kind]++
	}
	return counts
}

var summaryOrder = []struct {
	kind  Kind
	label string
}{
	{KindAdded, "added"},
	{KindRemoved, "removed"},
	{KindModified, "modified"},
	{KindTypeChanged, "type changes"},
	{KindTensorShapeChanged, "shape changes"},
	{KindTensorStatsChanged, "stats changes"},
	{KindAnalysis, "analysis findings"},
}

func Summarize(records []Record) string {
	if len(records) == 0 {
		return "No differences found"
	}

	counts := Counts(records)
	parts := []string{}
	for _, s := range summaryOrder {
		if n := counts[s.kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s.label))
		}
	}
	return fmt.Sprintf("%s (%d total changes)", strings.Join(parts, ", "), len(records))
}
