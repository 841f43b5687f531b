package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2/unstable"

	"github.com/wonderfulspam/model-smith/pkg/value"
)

// tomlTable is a table under construction. Tables stay open until the end
// of the document since a later header may add keys to them.
type tomlTable struct {
	keys []string
	// value.Value, *tomlTable or *tomlTables
	vals map[string]interface{}
}

// tomlTables is an array of tables ([[name]]).
type tomlTables struct {
	items []*tomlTable
}

func newTOMLTable() *tomlTable {
	return &tomlTable{vals: make(map[string]interface{})}
}

func (t *tomlTable) set(k string, v interface{}) error {
	if _, dup := t.vals[k]; dup {
		return fmt.Errorf("key %q defined twice", k)
	}
	t.keys = append(t.keys, k)
	t.vals[k] = v
	return nil
}

// table returns the sub-table k, creating it. Through an array of tables it
// returns the last element.
func (t *tomlTable) table(k string) (*tomlTable, error) {
	switch v := t.vals[k].(type) {
	case nil:
		c := newTOMLTable()
		return c, t.set(k, c)
	case *tomlTable:
		return v, nil
	case *tomlTables:
		return v.items[len(v.items)-1], nil
	}
	return nil, fmt.Errorf("key %q is not a table", k)
}

func (t *tomlTable) value() value.Value {
	m := value.NewMap()
	for _, k := range t.keys {
		switch v := t.vals[k].(type) {
		case value.Value:
			m.Set(k, v)
		case *tomlTable:
			m.Set(k, v.value())
		case *tomlTables:
			items := make([]value.Value, len(v.items))
			for i, it := range v.items {
				items[i] = it.value()
			}
			m.Set(k, value.Sequence(items...))
		}
	}
	return value.MapValue(m)
}

// parseTOML walks the expressions of go-toml's unstable parser so tables
// and keys keep file order. Dates and times are kept as written.
func parseTOML(data []byte) (value.Value, error) {
	p := unstable.Parser{}
	p.Reset(data)

	root := newTOMLTable()
	cur := root
	for p.NextExpression() {
		expr := p.Expression()
		var err error
		switch expr.Kind {
		case unstable.Table, unstable.ArrayTable:
			cur, err = tomlHeader(root, expr)
		case unstable.KeyValue:
			err = setTOMLKeyValue(cur, expr)
		}
		if err != nil {
			return value.Value{}, fmt.Errorf("unmarshaling TOML: %w", err)
		}
	}
	if err := p.Error(); err != nil {
		return value.Value{}, fmt.Errorf("unmarshaling TOML: %w", err)
	}
	return root.value(), nil
}

func tomlKeys(it unstable.Iterator) []string {
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Node().Data))
	}
	return keys
}

// tomlHeader resolves [a.b] or [[a.b]] and returns the table that following
// key/value pairs belong to.
func tomlHeader(root *tomlTable, expr *unstable.Node) (*tomlTable, error) {
	keys := tomlKeys(expr.Key())
	if len(keys) == 0 {
		return nil, errors.New("table header without a name")
	}
	t := root
	for _, k := range keys[:len(keys)-1] {
		var err error
		if t, err = t.table(k); err != nil {
			return nil, err
		}
	}
	last := keys[len(keys)-1]
	if expr.Kind == unstable.Table {
		return t.table(last)
	}

	arr, ok := t.vals[last].(*tomlTables)
	if !ok {
		arr = &tomlTables{}
		if err := t.set(last, arr); err != nil {
			return nil, err
		}
	}
	elem := newTOMLTable()
	arr.items = append(arr.items, elem)
	return elem, nil
}

func setTOMLKeyValue(t *tomlTable, kv *unstable.Node) error {
	keys := tomlKeys(kv.Key())
	if len(keys) == 0 {
		return errors.New("key/value pair without a key")
	}
	for _, k := range keys[:len(keys)-1] {
		var err error
		if t, err = t.table(k); err != nil {
			return err
		}
	}
	v, err := tomlValue(kv.Value())
	if err != nil {
		return err
	}
	return t.set(keys[len(keys)-1], v)
}

func tomlValue(n *unstable.Node) (value.Value, error) {
	switch n.Kind {
	case unstable.String:
		return value.String(string(n.Data)), nil
	case unstable.Bool:
		return value.Bool(string(n.Data) == "true"), nil
	case unstable.Integer:
		// base 0 reads the 0x, 0o and 0b prefixes and digit separators
		i, err := strconv.ParseInt(string(n.Data), 0, 64)
		if err != nil {
			return value.Value{}, fmt.Errorf("integer %s: %w", n.Data, err)
		}
		return value.Number(float64(i)), nil
	case unstable.Float:
		f, err := strconv.ParseFloat(strings.ReplaceAll(string(n.Data), "_", ""), 64)
		if err != nil {
			return value.Value{}, fmt.Errorf("float %s: %w", n.Data, err)
		}
		return value.Number(f), nil
	case unstable.LocalDate, unstable.LocalTime, unstable.LocalDateTime, unstable.DateTime:
		return value.String(string(n.Data)), nil
	case unstable.Array:
		var items []value.Value
		it := n.Children()
		for it.Next() {
			v, err := tomlValue(it.Node())
			if err != nil {
				return value.Value{}, err
			}
			items = append(items, v)
		}
		return value.Sequence(items...), nil
	case unstable.InlineTable:
		t := newTOMLTable()
		it := n.Children()
		for it.Next() {
			if err := setTOMLKeyValue(t, it.Node()); err != nil {
				return value.Value{}, err
			}
		}
		return t.value(), nil
	}
	return value.Value{}, fmt.Errorf("unsupported TOML value kind %v", n.Kind)
}
