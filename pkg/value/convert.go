package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FromInterface converts decoded Go data (as produced by encoding/json,
// go-toml or yaml into interface{}) into a Value. Keys of plain Go maps have
// no order, so they are sorted.
func FromInterface(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case time.Time:
		return String(t.Format(time.RFC3339Nano)), nil
	case []interface{}:
		items := make([]Value, 0, len(t))
		for i, e := range t {
			v, err := FromInterface(e)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items = append(items, v)
		}
		return Sequence(items...), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			v, err := FromInterface(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m.Set(k, v)
		}
		return MapValue(m), nil
	case map[interface{}]interface{}:
		conv := make(map[string]interface{}, len(t))
		for k, e := range t {
			conv[fmt.Sprint(k)] = e
		}
		return FromInterface(conv)
	case fmt.Stringer:
		return String(t.String()), nil
	default:
		return Value{}, fmt.Errorf("unsupported value of type %T", x)
	}
}

// ToInterface converts v into plain Go data. Map order is lost.
func (v Value) ToInterface() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindTensor:
		return map[string]interface{}{"tensor": v.s}
	case KindSequence:
		out := make([]interface{}, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.ToInterface()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, v.m.Len())
		v.m.Range(func(k string, e Value) bool {
			out[k] = e.ToInterface()
			return true
		})
		return out
	}
	return nil
}

// MarshalJSON keeps map key order. Non-finite numbers become strings.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			buf.WriteString(strconv.Quote(FormatNumber(v.n)))
			return nil
		}
		buf.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
	case KindString:
		data, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindTensor:
		data, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.WriteString(`{"tensor":`)
		buf.Write(data)
		buf.WriteByte('}')
	case KindSequence:
		buf.WriteByte('[')
		for i, e := range v.seq {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		var err error
		first := true
		v.m.Range(func(k string, e Value) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			var key []byte
			if key, err = json.Marshal(k); err != nil {
				return false
			}
			buf.Write(key)
			buf.WriteByte(':')
			err = e.writeJSON(buf)
			return err == nil
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	}
	return nil
}

// MarshalYAML returns a node tree so map order survives yaml.v3 encoding.
func (v Value) MarshalYAML() (interface{}, error) {
	return v.yamlNode(), nil
}

func (v Value) yamlNode() *yaml.Node {
	switch v.kind {
	case KindNull:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case KindNumber:
		var s string
		tag := "!!float"
		switch {
		case math.IsNaN(v.n):
			s = ".nan"
		case math.IsInf(v.n, 1):
			s = ".inf"
		case math.IsInf(v.n, -1):
			s = "-.inf"
		default:
			s = FormatNumber(v.n)
			if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1e15 {
				tag = "!!int"
			}
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: s}
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.s}
	case KindTensor:
		return &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "tensor"},
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.s},
		}}
	case KindSequence:
		n := &yaml.Node{Kind: yaml.SequenceNode}
		for _, e := range v.seq {
			n.Content = append(n.Content, e.yamlNode())
		}
		return n
	case KindMap:
		n := &yaml.Node{Kind: yaml.MappingNode}
		v.m.Range(func(k string, e Value) bool {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				e.yamlNode())
			return true
		})
		return n
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}
