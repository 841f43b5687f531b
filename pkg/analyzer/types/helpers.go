package types

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

// TrendThreshold is the relative change under which a value counts as stable.
const TrendThreshold = 0.01

// maxSearchDepth bounds the breadth-first key search in metadata.
const maxSearchDepth = 6

// ClassifyTrend compares new against old relative to |old|.
func ClassifyTrend(old, new float64) Trend {
	rel := (new - old) / math.Max(math.Abs(old), 1e-12)
	switch {
	case math.Abs(rel) <= TrendThreshold:
		return TrendStable
	case rel > 0:
		return TrendIncreasing
	}
	return TrendDecreasing
}

// Find returns the first metadata value matching one of the keys. A key with
// dots is looked up as a path from the root; a plain key is searched for
// breadth-first at any depth.
func Find(meta value.Value, keys ...string) (string, value.Value, bool) {
	for _, k := range keys {
		if !strings.Contains(k, ".") {
			continue
		}
		if v, ok := meta.Lookup(strings.Split(k, ".")...); ok && v.Kind() != value.KindTensor {
			return k, v, true
		}
	}

	type node struct {
		path string
		v    value.Value
	}
	level := []node{{"", meta}}
	for depth := 0; depth < maxSearchDepth && len(level) > 0; depth++ {
		var next []node
		for _, k := range keys {
			if strings.Contains(k, ".") {
				continue
			}
			for _, n := range level {
				if m, ok := n.v.AsMap(); ok {
					if v, ok := m.Get(k); ok && v.Kind() != value.KindTensor {
						return value.JoinKey(n.path, k), v, true
					}
				}
			}
		}
		for _, n := range level {
			switch n.v.Kind() {
			case value.KindMap:
				m, _ := n.v.AsMap()
				m.Range(func(k string, v value.Value) bool {
					next = append(next, node{value.JoinKey(n.path, k), v})
					return true
				})
			case value.KindSequence:
				items, _ := n.v.AsSequence()
				for i, v := range items {
					next = append(next, node{value.JoinIndex(n.path, i), v})
				}
			}
		}
		level = next
	}
	return "", value.Value{}, false
}

// AsNumber reads numbers, booleans and numeric strings.
func AsNumber(v value.Value) (float64, bool) {
	switch v.Kind() {
	case value.KindNumber:
		return v.AsNumber()
	case value.KindString:
		s, _ := v.AsString()
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	case value.KindBool:
		b, _ := v.AsBool()
		if b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// FindNumber is Find restricted to values AsNumber accepts.
func FindNumber(meta value.Value, keys ...string) (string, float64, bool) {
	for _, k := range keys {
		path, v, ok := Find(meta, k)
		if !ok {
			continue
		}
		if n, ok := AsNumber(v); ok {
			return path, n, true
		}
	}
	return "", 0, false
}

// FindString is Find restricted to scalar values, rendered as text.
func FindString(meta value.Value, keys ...string) (string, string, bool) {
	for _, k := range keys {
		path, v, ok := Find(meta, k)
		if !ok {
			continue
		}
		switch v.Kind() {
		case value.KindString:
			str, _ := v.AsString()
			return path, str, true
		case value.KindNumber, value.KindBool:
			return path, v.String(), true
		}
	}
	return "", "", false
}

// Metadata returns a catalogue's metadata, or null for a missing catalogue.
func Metadata(c *tensor.Catalogue) value.Value {
	if c == nil {
		return value.Null()
	}
	return c.Metadata
}

// LayerName drops the parameter suffix from a tensor name:
// "encoder.0.fc.weight" belongs to layer "encoder.0.fc".
func LayerName(tensorName string) string {
	if i := strings.LastIndex(tensorName, "."); i > 0 {
		return tensorName[:i]
	}
	return tensorName
}

var layerPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"attention", regexp.MustCompile(`(?i)(attn|attention|q_proj|k_proj|v_proj|o_proj|\bquery\b|\bkey\b|\bvalue\b)`)},
	{"normalization", regexp.MustCompile(`(?i)(\bbn\d*\b|batch_?norm|layer_?norm|\bln_?\w*\b|\bnorm\w*\b|running_mean|running_var)`)},
	{"embedding", regexp.MustCompile(`(?i)(embed|wte|wpe)`)},
	{"convolution", regexp.MustCompile(`(?i)(conv|downsample)`)},
	{"recurrent", regexp.MustCompile(`(?i)(lstm|gru|rnn)`)},
	{"linear", regexp.MustCompile(`(?i)(\bfc\d*\b|linear|dense|proj|classifier|\bhead\b|mlp|lm_head|\bout\b)`)},
}

// LayerType classifies a layer by naming convention. Dots are treated as word
// boundaries so "layers.0.fc" matches the fc pattern.
func LayerType(layer string) string {
	s := strings.NewReplacer(".", " ", "/", " ").Replace(layer)
	for _, p := range layerPatterns {
		if p.re.MatchString(s) {
			return p.kind
		}
	}
	return "other"
}

// Layers groups tensor names by layer, in first-seen order.
func Layers(c *tensor.Catalogue) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range c.Names() {
		l := LayerName(n)
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// LayerCounts counts layers per type.
func LayerCounts(c *tensor.Catalogue) map[string]int {
	counts := make(map[string]int)
	for _, l := range Layers(c) {
		counts[LayerType(l)]++
	}
	return counts
}

// TotalParameters sums element counts over all tensors.
func TotalParameters(c *tensor.Catalogue) uint64 {
	var total uint64
	for _, n := range c.Names() {
		h, _ := c.Get(n)
		total += h.NumElements()
	}
	return total
}

// TotalBytes sums the storage size of all tensors.
func TotalBytes(c *tensor.Catalogue) uint64 {
	var total uint64
	for _, n := range c.Names() {
		h, _ := c.Get(n)
		total += h.Bytes()
	}
	return total
}

// StatsPair is one tensor with statistics on both sides.
type StatsPair struct {
	Name     string
	Old, New tensor.Stats
}

// CommonStats pairs tensors present with statistics in both catalogues,
// in new-side order. The filter may be nil.
func CommonStats(old, new *tensor.Catalogue, filter func(name string) bool) []StatsPair {
	var out []StatsPair
	for _, n := range new.Names() {
		if filter != nil && !filter(n) {
			continue
		}
		ns, ok := new.Stats(n)
		if !ok {
			continue
		}
		os, ok := old.Stats(n)
		if !ok {
			continue
		}
		out = append(out, StatsPair{Name: n, Old: os, New: ns})
	}
	return out
}

// RelativeStatsChange is the stats delta relative to the old distribution's
// scale, max(|mean|, std).
func RelativeStatsChange(old, new tensor.Stats) float64 {
	scale := math.Max(math.Abs(old.Mean), old.Std)
	return differ.StatsDelta(old, new) / math.Max(scale, 1e-12)
}

// MeanStd returns the population mean and standard deviation of xs.
func MeanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

// SortedKeys returns the keys of a count map in order.
func SortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CountsEqual reports whether two count maps hold the same entries.
func CountsEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// ChangedLayers returns the layers of tensors the base diff records report
// as added or removed, keeping only layers absent on the other side.
func ChangedLayers(records []differ.Record, old, new *tensor.Catalogue) (added, removed []string) {
	oldLayers := layerSet(old)
	newLayers := layerSet(new)
	addSet := make(map[string]bool)
	remSet := make(map[string]bool)
	for _, r := range records {
		switch r.Kind {
		case differ.KindAdded:
			for _, name := range tensorRefs(*r.New) {
				if !oldLayers[LayerName(name)] {
					addSet[LayerName(name)] = true
				}
			}
		case differ.KindRemoved:
			for _, name := range tensorRefs(*r.Old) {
				if !newLayers[LayerName(name)] {
					remSet[LayerName(name)] = true
				}
			}
		}
	}
	for l := range addSet {
		added = append(added, l)
	}
	for l := range remSet {
		removed = append(removed, l)
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// tensorRefs lists the tensor names referenced at or below v. A removed
// subtree such as a whole encoder block is reported as one record.
func tensorRefs(v value.Value) []string {
	switch v.Kind() {
	case value.KindTensor:
		name, _ := v.TensorName()
		return []string{name}
	case value.KindMap:
		var out []string
		m, _ := v.AsMap()
		m.Range(func(_ string, c value.Value) bool {
			out = append(out, tensorRefs(c)...)
			return true
		})
		return out
	case value.KindSequence:
		var out []string
		items, _ := v.AsSequence()
		for _, c := range items {
			out = append(out, tensorRefs(c)...)
		}
		return out
	}
	return nil
}

func layerSet(c *tensor.Catalogue) map[string]bool {
	set := make(map[string]bool)
	for _, l := range Layers(c) {
		set[l] = true
	}
	return set
}
