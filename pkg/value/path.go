package value

import (
	"strconv"
	"strings"
)

// JoinKey appends a map key to a dotted path. Keys that would not read back
// as a single segment (empty, "*", or containing . [ ] or a quote) are
// written in bracketed form, e.g. model["a.b"].
func JoinKey(parent, key string) string {
	if NeedsQuote(key) {
		return parent + "[" + strconv.Quote(key) + "]"
	}
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// NeedsQuote reports whether key must be bracketed in a path.
func NeedsQuote(key string) bool {
	return key == "" || key == "*" || strings.ContainsAny(key, `.[]"`)
}

// JoinIndex appends a sequence index, e.g. layers[2].
func JoinIndex(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}

// JoinID appends an identity selector, e.g. items[id=2].
func JoinID(parent, key, id string) string {
	var b strings.Builder
	b.Grow(len(parent) + len(key) + len(id) + 3)
	b.WriteString(parent)
	b.WriteByte('[')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(id)
	b.WriteByte(']')
	return b.String()
}

// IdentityString renders a scalar used as an array identity. ok is false for
// maps, sequences and tensors, which cannot identify an element.
func IdentityString(v Value) (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindNumber:
		return FormatNumber(v.n), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	case KindNull:
		return "null", true
	}
	return "", false
}

// IdentityKey is IdentityString qualified by kind, so 1 and "1" are distinct
// identities.
func IdentityKey(v Value) (string, bool) {
	s, ok := IdentityString(v)
	if !ok {
		return "", false
	}
	return v.kind.String() + ":" + s, true
}

// Nest builds a map from dotted names such as encoder.layer.weight, nesting
// on the dots in first-seen order. A name stays flat at the top level when
// one of its segments needs quoting, or when it is a dotted prefix of another
// name (or has one), since it cannot be both a leaf and a branch.
func Nest(names []string, vals []Value) *Map {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	flat := make(map[string]bool)
	for _, n := range names {
		segs := strings.Split(n, ".")
		if len(segs) == 1 {
			continue
		}
		for _, s := range segs {
			if NeedsQuote(s) {
				flat[n] = true
			}
		}
		for i := strings.IndexByte(n, '.'); i >= 0; i = nextDot(n, i) {
			if set[n[:i]] {
				flat[n] = true
				flat[n[:i]] = true
			}
		}
	}

	root := NewMap()
	for i, n := range names {
		if flat[n] {
			root.Set(n, vals[i])
			continue
		}
		segs := strings.Split(n, ".")
		m := root
		for _, s := range segs[:len(segs)-1] {
			child, ok := m.Get(s)
			cm, isMap := child.AsMap()
			if !ok || !isMap {
				cm = NewMap()
				m.Set(s, MapValue(cm))
			}
			m = cm
		}
		m.Set(segs[len(segs)-1], vals[i])
	}
	return root
}

func nextDot(s string, i int) int {
	j := strings.IndexByte(s[i+1:], '.')
	if j < 0 {
		return -1
	}
	return i + 1 + j
}
