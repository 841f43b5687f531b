package differ

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

func obj(kv ...interface{}) value.Value {
	m := value.NewMap()
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), toValue(kv[i+1]))
	}
	return value.MapValue(m)
}

func arr(items ...interface{}) value.Value {
	vals := make([]value.Value, len(items))
	for i, it := range items {
		vals[i] = toValue(it)
	}
	return value.Sequence(vals...)
}

func toValue(x interface{}) value.Value {
	switch t := x.(type) {
	case value.Value:
		return t
	case int:
		return value.Number(float64(t))
	case float64:
		return value.Number(t)
	case string:
		return value.String(t)
	case bool:
		return value.Bool(t)
	case nil:
		return value.Null()
	}
	panic("unsupported test value")
}

type recordSummary struct {
	Kind Kind
	Path string
}

func summarize(records []Record) []recordSummary {
	out := make([]recordSummary, len(records))
	for i, r := range records {
		out[i] = recordSummary{r.Kind, r.Path}
	}
	return out
}

func mustPolicy(t *testing.T, opts PolicyOptions) *Policy {
	t.Helper()
	p, err := NewPolicy(opts)
	require.NoError(t, err)
	return p
}

func TestDiffIdentity(t *testing.T) {
	trees := []value.Value{
		value.Null(),
		value.Number(math.NaN()),
		arr(1, "two", nil, true, arr(obj("x", 1))),
		obj("model", obj("layers", arr(obj("id", 1, "w", 0.5), obj("id", 2, "w", 0.25))), "tags", arr("a", "b")),
		value.TensorRef("w"),
	}
	policies := []*Policy{
		DefaultPolicy(),
		mustPolicy(t, PolicyOptions{ArrayIDKey: "id"}),
		mustPolicy(t, PolicyOptions{Epsilon: 0.1, SortByMagnitude: true}),
	}

	for _, p := range policies {
		for i, v := range trees {
			assert.Empty(t, Diff(v, v, p), "tree %d", i)
		}
	}
}

func TestDiffBasicModification(t *testing.T) {
	old := obj("name", "Alice", "age", 30)
	new := obj("name", "Alice", "age", 31)

	records := Diff(old, new, DefaultPolicy())
	require.Len(t, records, 1)
	assert.Equal(t, KindModified, records[0].Kind)
	assert.Equal(t, "age", records[0].Path)
	assert.True(t, value.Equal(value.Number(30), *records[0].Old))
	assert.True(t, value.Equal(value.Number(31), *records[0].New))
}

func TestDiffEpsilon(t *testing.T) {
	tests := []struct {
		name    string
		epsilon float64
		old     float64
		new     float64
		want    int
	}{
		{"exact by default", 0, 1.0, 1.0, 0},
		{"tiny change without epsilon", 0, 1.0, 1.0000001, 1},
		{"within epsilon", 0.001, 1.0, 1.0005, 0},
		{"at epsilon boundary", 0.5, 1.0, 1.5, 0},
		{"beyond epsilon", 0.001, 1.0, 1.01, 1},
		{"infinities equal", 0, math.Inf(1), math.Inf(1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustPolicy(t, PolicyOptions{Epsilon: tt.epsilon})
			records := Diff(obj("x", tt.old), obj("x", tt.new), p)
			assert.Len(t, records, tt.want)
			for _, r := range records {
				assert.Equal(t, "x", r.Path)
			}
		})
	}
}

func TestDiffIgnoreKeysRegex(t *testing.T) {
	old := obj("id", 1, "timestamp", "2024-01-01", "meta", obj("updated_at", 1, "owner", "a"), "data", obj("timestamp", arr(1, 2)))
	new := obj("id", 2, "timestamp", "2024-02-02", "meta", obj("updated_at", 2, "owner", "b"), "data", obj("timestamp", arr(3)))

	p := mustPolicy(t, PolicyOptions{IgnoreKeysRegex: "^(timestamp|updated_at)$"})
	records := Diff(old, new, p)

	assert.Equal(t, []recordSummary{
		{KindModified, "id"},
		{KindModified, "meta.owner"},
	}, summarize(records))
}

func TestDiffArrayIdentity(t *testing.T) {
	old := arr(obj("id", 1, "v", 1), obj("id", 2, "v", 2))
	new := arr(obj("id", 2, "v", 3), obj("id", 3, "v", 4))

	p := mustPolicy(t, PolicyOptions{ArrayIDKey: "id"})
	records := Diff(old, new, p)

	want := []recordSummary{
		{KindRemoved, "[id=1]"},
		{KindModified, "[id=2].v"},
		{KindAdded, "[id=3]"},
	}
	if diff := cmp.Diff(want, summarize(records)); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, value.Equal(value.Number(2), *records[1].Old))
	assert.True(t, value.Equal(value.Number(3), *records[1].New))
}

func TestDiffArrayIdentityIgnoresPosition(t *testing.T) {
	old := obj("users", arr(obj("id", "a", "n", 1), obj("id", "b", "n", 2)))
	new := obj("users", arr(obj("id", "b", "n", 2), obj("id", "a", "n", 1)))

	p := mustPolicy(t, PolicyOptions{ArrayIDKey: "id"})
	assert.Empty(t, Diff(old, new, p))
	assert.Len(t, Diff(old, new, DefaultPolicy()), 4)
}

func TestDiffArrayIdentityFallsBackForUnkeyedElements(t *testing.T) {
	old := arr(obj("id", 1, "v", 1), "loose", obj("other", 1))
	new := arr("loose!", obj("id", 1, "v", 1))

	p := mustPolicy(t, PolicyOptions{ArrayIDKey: "id"})
	records := Diff(old, new, p)

	assert.Equal(t, []recordSummary{
		{KindModified, "[1]"},
		{KindRemoved, "[2]"},
	}, summarize(records))
}

func TestDiffPositionalSequences(t *testing.T) {
	records := Diff(obj("xs", arr(1, 2, 3)), obj("xs", arr(1, 5)), DefaultPolicy())
	assert.Equal(t, []recordSummary{
		{KindModified, "xs[1]"},
		{KindRemoved, "xs[2]"},
	}, summarize(records))

	records = Diff(obj("xs", arr(1)), obj("xs", arr(1, 2, 3)), DefaultPolicy())
	assert.Equal(t, []recordSummary{
		{KindAdded, "xs[1]"},
		{KindAdded, "xs[2]"},
	}, summarize(records))
}

func TestDiffMapOrderAndTypeChanges(t *testing.T) {
	old := obj("a", 1, "b", "x", "c", obj("d", 1), "e", nil)
	new := obj("e", nil, "f", true, "c", arr(1), "b", 2)

	records := Diff(old, new, DefaultPolicy())
	assert.Equal(t, []recordSummary{
		{KindRemoved, "a"},
		{KindTypeChanged, "b"},
		{KindTypeChanged, "c"},
		{KindAdded, "f"},
	}, summarize(records))
}

func TestDiffPathScope(t *testing.T) {
	old := obj("model", obj("layers", arr(obj("w", 1), obj("w", 2))), "optimizer", obj("lr", 0.1))
	new := obj("model", obj("layers", arr(obj("w", 9), obj("w", 8), obj("w", 7))), "optimizer", obj("lr", 0.2))

	tests := []struct {
		path string
		want []recordSummary
	}{
		{"model.layers[1]", []recordSummary{{KindModified, "model.layers[1].w"}}},
		{"model.layers[*].w", []recordSummary{{KindModified, "model.layers[0].w"}, {KindModified, "model.layers[1].w"}}},
		{"optimizer", []recordSummary{{KindModified, "optimizer.lr"}}},
		{"model.layers", []recordSummary{
			{KindModified, "model.layers[0].w"},
			{KindModified, "model.layers[1].w"},
			{KindAdded, "model.layers[2]"},
		}},
		{"missing", []recordSummary{}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p := mustPolicy(t, PolicyOptions{Path: tt.path})
			assert.Equal(t, tt.want, summarize(Diff(old, new, p)))
		})
	}
}

func TestPolicyErrors(t *testing.T) {
	tests := []struct {
		name  string
		opts  PolicyOptions
		field string
	}{
		{"bad regex", PolicyOptions{IgnoreKeysRegex: "(["}, "ignore-keys regex"},
		{"negative epsilon", PolicyOptions{Epsilon: -1}, "epsilon"},
		{"nan epsilon", PolicyOptions{Epsilon: math.NaN()}, "epsilon"},
		{"bad path", PolicyOptions{Path: "a..b"}, "path"},
		{"unclosed bracket", PolicyOptions{Path: "a[1"}, "path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.opts)
			var perr *PolicyError
			require.True(t, errors.As(err, &perr), "expected PolicyError, got %v", err)
			assert.Equal(t, tt.field, perr.Field)
		})
	}
}

func TestParsePath(t *testing.T) {
	expr, err := ParsePath("layers[2].weight")
	require.NoError(t, err)
	assert.Equal(t, []Segment{
		{Kind: SegKey, Key: "layers"},
		{Kind: SegIndex, Index: 2},
		{Kind: SegKey, Key: "weight"},
	}, expr.Segments())

	expr, err = ParsePath("[id=7].*")
	require.NoError(t, err)
	assert.Equal(t, []Segment{
		{Kind: SegID, Key: "id", ID: "7"},
		{Kind: SegWildcard},
	}, expr.Segments())

	_, err = ParsePath("")
	assert.Error(t, err)

	expr, err = ParsePath(`model["a.b"][0].w`)
	require.NoError(t, err)
	assert.Equal(t, []Segment{
		{Kind: SegKey, Key: "model"},
		{Kind: SegKey, Key: "a.b"},
		{Kind: SegIndex, Index: 0},
		{Kind: SegKey, Key: "w"},
	}, expr.Segments())

	for _, bad := range []string{`a["b"`, `a["b"x]`, `a["b]`} {
		_, err = ParsePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestDiffDottedKeysDoNotCollide(t *testing.T) {
	old := obj("a.b", 1, "a", obj("b", 1))
	new := obj("a.b", 2, "a", obj("b", 2))

	records := Diff(old, new, DefaultPolicy())
	assert.Equal(t, []recordSummary{
		{KindModified, `["a.b"]`},
		{KindModified, "a.b"},
	}, summarize(records))

	p := mustPolicy(t, PolicyOptions{Path: `["a.b"]`})
	assert.Equal(t, []recordSummary{{KindModified, `["a.b"]`}}, summarize(Diff(old, new, p)))

	p = mustPolicy(t, PolicyOptions{Path: "a.b"})
	assert.Equal(t, []recordSummary{{KindModified, "a.b"}}, summarize(Diff(old, new, p)))
}

func TestDiffArrayIdentityDistinguishesKinds(t *testing.T) {
	old := obj("items", arr(obj("id", 1, "v", 1)))
	new := obj("items", arr(obj("id", "1", "v", 1)))

	p := mustPolicy(t, PolicyOptions{ArrayIDKey: "id"})
	records := Diff(old, new, p)

	assert.Equal(t, []recordSummary{
		{KindRemoved, "items[id=1]"},
		{KindAdded, "items[id=1]"},
	}, summarize(records))
	if s, _ := records[1].New.Lookup("id"); s.Kind() != value.KindString {
		t.Errorf("Expected added element to carry the string id, got %s", s.Kind())
	}
}

func TestDiffPositionalScopeWithArrayIdentity(t *testing.T) {
	old := obj("items", arr(obj("id", "a", "v", 1), obj("id", "b", "v", 2)))
	new := obj("items", arr(obj("id", "b", "v", 3), obj("id", "a", "v", 9), obj("id", "c", "v", 0)))

	tests := []struct {
		path string
		want []recordSummary
	}{
		{"items[id=b]", []recordSummary{{KindModified, "items[id=b].v"}}},
		// b sits at 1 in the old list and at 0 in the new one
		{"items[0]", []recordSummary{{KindModified, "items[id=a].v"}, {KindModified, "items[id=b].v"}}},
		{"items[2]", []recordSummary{{KindAdded, "items[id=c]"}}},
		{"items[5]", []recordSummary{}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p := mustPolicy(t, PolicyOptions{ArrayIDKey: "id", Path: tt.path})
			assert.Equal(t, tt.want, summarize(Diff(old, new, p)))
		})
	}
}

func tensorInput(name string, shape []int, s *tensor.Stats) Input {
	cat := tensor.NewCatalogue()
	cat.Add(&tensor.Handle{Name: name, Shape: shape, DType: tensor.F32})
	if s != nil {
		s.Name, s.Shape, s.DType = name, shape, tensor.F32
		cat.SetStats(name, *s)
	}
	root := value.NewMap()
	root.Set(name, value.TensorRef(name))
	return Input{Root: value.MapValue(root), Tensors: cat}
}

func TestCompareTensorShapeChange(t *testing.T) {
	old := tensorInput("w", []int{64, 64}, &tensor.Stats{Mean: 0, Std: 1, ElementCount: 4096})
	new := tensorInput("w", []int{128, 64}, &tensor.Stats{Mean: 0.5, Std: 2, ElementCount: 8192})

	res := Compare(old, new, DefaultPolicy())
	require.Len(t, res.Records, 1)
	r := res.Records[0]
	assert.Equal(t, KindTensorShapeChanged, r.Kind)
	assert.Equal(t, "w", r.Path)
	assert.Equal(t, []int{64, 64}, r.OldShape)
	assert.Equal(t, []int{128, 64}, r.NewShape)
}

func TestCompareTensorStats(t *testing.T) {
	base := tensor.Stats{Mean: 0.1, Std: 1, Min: -3, Max: 3, ElementCount: 16}

	tests := []struct {
		name    string
		mutate  func(s *tensor.Stats)
		epsilon float64
		want    int
	}{
		{"identical", func(s *tensor.Stats) {}, 0, 0},
		{"mean drift", func(s *tensor.Stats) { s.Mean = 0.2 }, 0, 1},
		{"mean drift within epsilon", func(s *tensor.Stats) { s.Mean = 0.1005 }, 0.001, 0},
		{"max beyond epsilon", func(s *tensor.Stats) { s.Max = 3.1 }, 0.01, 1},
		{"non-finite appears", func(s *tensor.Stats) { s.HasNonFinite = true }, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, n := base, base
			tt.mutate(&n)
			p := mustPolicy(t, PolicyOptions{Epsilon: tt.epsilon})
			res := Compare(tensorInput("w", []int{4, 4}, &o), tensorInput("w", []int{4, 4}, &n), p)
			require.Len(t, res.Records, tt.want)
			if tt.want == 1 {
				assert.Equal(t, KindTensorStatsChanged, res.Records[0].Kind)
			}
		})
	}
}

func TestCompareTensorWithoutStats(t *testing.T) {
	old := tensorInput("w", []int{2}, nil)
	new := tensorInput("w", []int{2}, &tensor.Stats{Mean: 1})
	assert.Empty(t, Compare(old, new, DefaultPolicy()).Records)
}

func TestSortByMagnitude(t *testing.T) {
	old := obj("a", 1, "b", 10, "c", "x", "d", 5, "gone", 1, "t", 1)
	new := obj("a", 1.5, "b", 110, "c", "y", "d", 5.01, "t", "1")

	p := mustPolicy(t, PolicyOptions{SortByMagnitude: true})
	records := Diff(old, new, p)
	require.Len(t, records, 6)

	for i := 1; i < len(records); i++ {
		assert.GreaterOrEqual(t, Magnitude(records[i-1]), Magnitude(records[i]))
	}
	assert.Equal(t, []recordSummary{
		{KindRemoved, "gone"},
		{KindTypeChanged, "t"},
		{KindModified, "b"},
		{KindModified, "c"},
		{KindModified, "a"},
		{KindModified, "d"},
	}, summarize(records))
}

func TestParallelMatchesSequential(t *testing.T) {
	oldRoot := value.NewMap()
	newRoot := value.NewMap()
	for i := 0; i < 50; i++ {
		k := string(rune('a'+i%26)) + string(rune('a'+i/26))
		oldRoot.Set(k, obj("v", i, "xs", arr(i, i+1)))
		if i%7 != 0 {
			newRoot.Set(k, obj("v", i+i%3, "xs", arr(i)))
		}
	}
	newRoot.Set("extra", value.Bool(true))

	old := Input{Root: value.MapValue(oldRoot)}
	new := Input{Root: value.MapValue(newRoot)}
	seq := New(DefaultPolicy(), WithWorkers(1)).Compare(old, new)
	par := New(DefaultPolicy(), WithWorkers(8)).Compare(old, new)

	assert.Equal(t, summarize(seq.Records), summarize(par.Records))
	assert.Equal(t, seq.Summary, par.Summary)
}

func TestDiffDeepNesting(t *testing.T) {
	build := func(leaf int) value.Value {
		v := value.Number(float64(leaf))
		for i := 0; i < 10000; i++ {
			m := value.NewMap()
			m.Set("n", v)
			v = value.MapValue(m)
		}
		return v
	}

	records := Diff(build(1), build(2), DefaultPolicy())
	require.Len(t, records, 1)
	assert.Equal(t, KindModified, records[0].Kind)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "No differences found", Summarize(nil))
	records := []Record{
		Added("a", value.Number(1)),
		Modified("b", value.Number(1), value.Number(2)),
		Modified("c", value.Number(1), value.Number(2)),
	}
	assert.Equal(t, "1 added, 2 modified (3 total changes)", Summarize(records))
}
