// Package value holds the normalized tree that every parser and tensor
// adapter produces and that the differ walks.
package value

import (
	"fmt"
	"math"
	"strconv"
)

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMap
	KindTensor
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMap:
		return "map"
	case KindTensor:
		return "tensor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is an immutable tagged union. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	seq  []Value
	m    *Map
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Sequence(items ...Value) Value {
	return Value{kind: KindSequence, seq: items}
}

// MapValue wraps m. A nil map is treated as empty.
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// TensorRef refers to a tensor in the catalogue of the same side by name.
func TensorRef(name string) Value { return Value{kind: KindTensor, s: name} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsSequence() ([]Value, bool) { return v.seq, v.kind == KindSequence }

func (v Value) AsMap() (*Map, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

func (v Value) TensorName() (string, bool) { return v.s, v.kind == KindTensor }

// Len is the number of children of a map or sequence, zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMap:
		return v.m.Len()
	}
	return 0
}

// Lookup walks a dotted key path through nested maps, e.g. "optimizer.type".
// Sequence elements are addressed by numeric segments.
func (v Value) Lookup(keys ...string) (Value, bool) {
	cur := v
	for _, k := range keys {
		switch cur.kind {
		case KindMap:
			next, ok := cur.m.Get(k)
			if !ok {
				return Value{}, false
			}
			cur = next
		case KindSequence:
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= len(cur.seq) {
				return Value{}, false
			}
			cur = cur.seq[i]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// Equal reports deep structural equality. NaN equals NaN so that a tree
// always equals itself.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n || (math.IsNaN(a.n) && math.IsNaN(b.n))
	case KindString, KindTensor:
		return a.s == b.s
	case KindSequence:
		if len(a.seq) != len(b.seq) {
			return false
		}
		for i := range a.seq {
			if !Equal(a.seq[i], b.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if a.m.Len() != b.m.Len() {
			return false
		}
		for _, k := range a.m.Keys() {
			av, _ := a.m.Get(k)
			bv, ok := b.m.Get(k)
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders scalars the way they appear in text output.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return FormatNumber(v.n)
	case KindString:
		return strconv.Quote(v.s)
	case KindTensor:
		return "tensor(" + v.s + ")"
	case KindSequence:
		return fmt.Sprintf("[%d items]", len(v.seq))
	case KindMap:
		return fmt.Sprintf("{%d keys}", v.m.Len())
	}
	return "?"
}

func FormatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
