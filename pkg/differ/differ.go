// Package differ compares two value trees under a Policy and produces an
// ordered list of typed difference records.
package differ

import (
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

// Input is one side of a comparison: the value tree plus the catalogue its
// tensor references resolve against. Tensors may be nil for structured data.
type Input struct {
	Root    value.Value
	Tensors *tensor.Catalogue
}

type Differ struct {
	policy  *Policy
	workers int
}

type Option func(*Differ)

// WithWorkers bounds how many top-level subtrees are compared at once.
func WithWorkers(n int) Option {
	return func(d *Differ) {
		if n > 0 {
			d.workers = n
		}
	}
}

func New(p *Policy, opts ...Option) *Differ {
	if p == nil {
		p = DefaultPolicy()
	}
	d := &Differ{policy: p, workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Diff compares two trees without tensor catalogues.
func Diff(old, new value.Value, p *Policy) []Record {
	return New(p).Compare(Input{Root: old}, Input{Root: new}).Records
}

// Compare is shorthand for New(p).Compare.
func Compare(old, new Input, p *Policy) *Result {
	return New(p).Compare(old, new)
}

func (d *Differ) Compare(old, new Input) *Result {
	w := walker{policy: d.policy, oldTensors: old.Tensors, newTensors: new.Tensors}
	root := frame{old: old.Root, new: new.Root}

	var records []Record
	if d.workers > 1 && isMap(old.Root) && isMap(new.Root) {
		records = w.parallel(root, d.workers)
	} else {
		records = w.walk(root)
	}

	if d.policy.SortByMagnitude {
		SortByMagnitude(records)
	}
	return &Result{
		Records:    records,
		HasChanges: len(records) > 0,
		Summary:    Summarize(records),
	}
}

func isMap(v value.Value) bool { return v.Kind() == value.KindMap }

// frame is one unit of pending work: either a pair to compare or a record
// to emit in order.
type frame struct {
	old, new value.Value
	path     string
	segs     []Segment
	emit     *Record
}

type walker struct {
	policy     *Policy
	oldTensors *tensor.Catalogue
	newTensors *tensor.Catalogue
}

// walk runs a depth-first traversal with an explicit stack. Children are
// pushed in reverse so records come out in natural order.
func (w *walker) walk(start frame) []Record {
	var out []Record
	stack := []frame{start}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.emit != nil {
			out = append(out, *f.emit)
			continue
		}
		children := w.step(f, &out)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return out
}

// parallel expands the root once and walks each top-level child on its own
// goroutine. Results are joined in child order.
func (w *walker) parallel(root frame, workers int) []Record {
	var out []Record
	children := w.step(root, &out)
	slots := make([][]Record, len(children))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, c := range children {
		if c.emit != nil {
			slots[i] = []Record{*c.emit}
			continue
		}
		g.Go(func() error {
			slots[i] = w.walk(c)
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range slots {
		out = append(out, s...)
	}
	return out
}

func (w *walker) child(f frame, path string, seg Segment) (frame, bool) {
	c := frame{path: path}
	if w.policy.Scope != nil {
		c.segs = appendSeg(f.segs, seg)
		if !w.policy.visits(c.segs) {
			return c, false
		}
	}
	return c, true
}

func (w *walker) emitFrame(segs []Segment, r Record) (frame, bool) {
	if !w.policy.reports(segs) {
		return frame{}, false
	}
	return frame{emit: &r}, true
}

func (w *walker) report(out *[]Record, segs []Segment, r Record) {
	if w.policy.reports(segs) {
		*out = append(*out, r)
	}
}

// step compares one pair. Leaf differences are appended to out directly;
// container differences are returned as child frames.
func (w *walker) step(f frame, out *[]Record) []frame {
	if f.old.Kind() != f.new.Kind() {
		w.report(out, f.segs, TypeChanged(f.path, f.old, f.new))
		return nil
	}

	switch f.old.Kind() {
	case value.KindMap:
		return w.stepMap(f)
	case value.KindSequence:
		if w.policy.ArrayIDKey != "" {
			return w.stepKeyedSequence(f)
		}
		return w.stepSequence(f)
	case value.KindNumber:
		a, _ := f.old.AsNumber()
		b, _ := f.new.AsNumber()
		if !w.policy.NumbersEqual(a, b) {
			w.report(out, f.segs, Modified(f.path, f.old, f.new))
		}
	case value.KindTensor:
		w.stepTensor(f, out)
	default:
		if !value.Equal(f.old, f.new) {
			w.report(out, f.segs, Modified(f.path, f.old, f.new))
		}
	}
	return nil
}

func (w *walker) stepMap(f frame) []frame {
	oldMap, _ := f.old.AsMap()
	newMap, _ := f.new.AsMap()
	var children []frame

	for _, k := range oldMap.Keys() {
		if w.policy.ignored(k) {
			continue
		}
		c, ok := w.child(f, value.JoinKey(f.path, k), Segment{Kind: SegKey, Key: k})
		if !ok {
			continue
		}
		ov, _ := oldMap.Get(k)
		if nv, exists := newMap.Get(k); exists {
			c.old, c.new = ov, nv
			children = append(children, c)
		} else if e, ok := w.emitFrame(c.segs, Removed(c.path, ov)); ok {
			children = append(children, e)
		}
	}

	for _, k := range newMap.Keys() {
		if oldMap.Has(k) || w.policy.ignored(k) {
			continue
		}
		c, ok := w.child(f, value.JoinKey(f.path, k), Segment{Kind: SegKey, Key: k})
		if !ok {
			continue
		}
		nv, _ := newMap.Get(k)
		if e, ok := w.emitFrame(c.segs, Added(c.path, nv)); ok {
			children = append(children, e)
		}
	}
	return children
}

func (w *walker) stepSequence(f frame) []frame {
	oldItems, _ := f.old.AsSequence()
	newItems, _ := f.new.AsSequence()
	var children []frame

	for i, ov := range oldItems {
		c, ok := w.child(f, value.JoinIndex(f.path, i), Segment{Kind: SegIndex, Index: i})
		if !ok {
			continue
		}
		if i < len(newItems) {
			c.old, c.new = ov, newItems[i]
			children = append(children, c)
		} else if e, ok := w.emitFrame(c.segs, Removed(c.path, ov)); ok {
			children = append(children, e)
		}
	}
	for i := len(oldItems); i < len(newItems); i++ {
		c, ok := w.child(f, value.JoinIndex(f.path, i), Segment{Kind: SegIndex, Index: i})
		if !ok {
			continue
		}
		if e, ok := w.emitFrame(c.segs, Added(c.path, newItems[i])); ok {
			children = append(children, e)
		}
	}
	return children
}

// identities maps each element's identity to its index. Identities are
// qualified by kind (see value.IdentityKey) so 1 and "1" never pair up.
// Elements without the key, or whose identity repeats an earlier one, are
// returned as positional indices.
func identities(items []value.Value, key string) (map[string]int, []string, []int) {
	byID := make(map[string]int)
	ids := make([]string, len(items))
	var positional []int
	for i, item := range items {
		id, ok := identityOf(item, key)
		if !ok {
			positional = append(positional, i)
			continue
		}
		if _, dup := byID[id]; dup {
			positional = append(positional, i)
			continue
		}
		byID[id] = i
		ids[i] = id
	}
	return byID, ids, positional
}

func identityOf(item value.Value, key string) (string, bool) {
	m, ok := item.AsMap()
	if !ok {
		return "", false
	}
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return value.IdentityKey(v)
}

// idText strips the kind qualifier for display.
func idText(id string) string {
	return id[strings.IndexByte(id, ':')+1:]
}

func idSegment(key, id string, oldPos, newPos int) Segment {
	return Segment{Kind: SegID, Key: key, ID: idText(id), Index: oldPos, NewIndex: newPos}
}

func (w *walker) stepKeyedSequence(f frame) []frame {
	oldItems, _ := f.old.AsSequence()
	newItems, _ := f.new.AsSequence()
	key := w.policy.ArrayIDKey

	oldByID, oldIDs, oldPos := identities(oldItems, key)
	newByID, newIDs, newPos := identities(newItems, key)

	// positional fallback pairs the k-th unkeyed old element with the k-th
	// unkeyed new element
	pairOf := make(map[int]int, len(oldPos))
	for k, oi := range oldPos {
		if k < len(newPos) {
			pairOf[oi] = newPos[k]
		}
	}
	pairedNew := make(map[int]bool, len(pairOf))
	for _, ni := range pairOf {
		pairedNew[ni] = true
	}

	var children []frame
	for i, ov := range oldItems {
		var (
			c  frame
			ok bool
			nv value.Value
			in bool
		)
		if id := oldIDs[i]; hasID(oldByID, id, i) {
			ni, found := newByID[id]
			if found {
				nv, in = newItems[ni], true
			} else {
				ni = i
			}
			c, ok = w.child(f, value.JoinID(f.path, key, idText(id)), idSegment(key, id, i, ni))
		} else {
			c, ok = w.child(f, value.JoinIndex(f.path, i), Segment{Kind: SegIndex, Index: i})
			var ni int
			if ni, in = pairOf[i]; in {
				nv = newItems[ni]
			}
		}
		if !ok {
			continue
		}
		if in {
			c.old, c.new = ov, nv
			children = append(children, c)
		} else if e, ok := w.emitFrame(c.segs, Removed(c.path, ov)); ok {
			children = append(children, e)
		}
	}

	for i, nv := range newItems {
		var (
			c  frame
			ok bool
		)
		if id := newIDs[i]; hasID(newByID, id, i) {
			if _, in := oldByID[id]; in {
				continue
			}
			c, ok = w.child(f, value.JoinID(f.path, key, idText(id)), idSegment(key, id, i, i))
		} else {
			if pairedNew[i] {
				continue
			}
			c, ok = w.child(f, value.JoinIndex(f.path, i), Segment{Kind: SegIndex, Index: i})
		}
		if !ok {
			continue
		}
		if e, ok := w.emitFrame(c.segs, Added(c.path, nv)); ok {
			children = append(children, e)
		}
	}
	return children
}

// hasID reports whether element i is the identified holder of id. An empty
// string is a valid identity, so the index map is authoritative.
func hasID(byID map[string]int, id string, i int) bool {
	j, ok := byID[id]
	return ok && j == i
}

func (w *walker) stepTensor(f frame, out *[]Record) {
	oldName, _ := f.old.TensorName()
	newName, _ := f.new.TensorName()
	if oldName != newName {
		w.report(out, f.segs, Modified(f.path, f.old, f.new))
		return
	}

	oh, okOld := w.oldTensors.Get(oldName)
	nh, okNew := w.newTensors.Get(newName)
	if !okOld || !okNew {
		return
	}
	if !tensor.ShapeEqual(oh.Shape, nh.Shape) {
		w.report(out, f.segs, TensorShapeChanged(f.path, oh.Shape, nh.Shape))
		return
	}

	os, okOld := w.oldTensors.Stats(oldName)
	ns, okNew := w.newTensors.Stats(newName)
	if !okOld || !okNew {
		return
	}
	if !w.statsEqual(os, ns) {
		w.report(out, f.segs, TensorStatsChanged(f.path, os, ns))
	}
}

// statsEqual compares each statistic field on its own against epsilon.
func (w *walker) statsEqual(a, b tensor.Stats) bool {
	p := w.policy
	return a.DType == b.DType &&
		a.ElementCount == b.ElementCount &&
		a.HasNonFinite == b.HasNonFinite &&
		p.NumbersEqual(a.Mean, b.Mean) &&
		p.NumbersEqual(a.Std, b.Std) &&
		p.NumbersEqual(a.Min, b.Min) &&
		p.NumbersEqual(a.Max, b.Max)
}
