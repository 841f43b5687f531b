package formats

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"
)

// Checkpoints are decoded with gopickle. Globals resolve to torchGlobal, which
// only knows how to rebuild tensors and a few containers; any other class
// becomes an opaque pyObject, so nothing from the stream is executed.

type torchGlobal struct {
	Module, Name string
}

func (g *torchGlobal) String() string { return g.Module + "." + g.Name }

// PyNew serves NEWOBJ the same way Call serves REDUCE.
func (g *torchGlobal) PyNew(args ...interface{}) (interface{}, error) {
	return g.Call(args...)
}

func (g *torchGlobal) Call(args ...interface{}) (interface{}, error) {
	switch g.String() {
	case "collections.OrderedDict", "builtins.dict", "__builtin__.dict":
		return &pyDict{}, nil
	case "builtins.set", "builtins.frozenset", "builtins.list", "__builtin__.set":
		l := &pyList{}
		if len(args) > 0 {
			l.items, _ = sequenceItems(args[0])
		}
		return l, nil
	case "torch._utils._rebuild_tensor", "torch._utils._rebuild_tensor_v2", "torch._utils._rebuild_tensor_v3":
		return rebuildTensor(args)
	case "torch._utils._rebuild_parameter", "torch._utils._rebuild_parameter_with_state":
		if len(args) == 0 {
			return nil, errors.New("_rebuild_parameter without data")
		}
		t, ok := args[0].(*pyTensor)
		if !ok {
			return args[0], nil
		}
		if len(args) > 1 {
			t.RequiresGrad, _ = args[1].(bool)
		}
		return t, nil
	case "_codecs.encode":
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				return []byte(s), nil
			}
		}
	case "torch.device":
		if len(args) > 0 {
			return fmt.Sprint(args[0]), nil
		}
	}
	return &pyObject{Class: g, Args: args}, nil
}

// pyDict is an insertion-ordered dict for dict subclasses rebuilt through
// REDUCE. Keys gopickle cannot compare are stored in string form.
type pyDict struct {
	keys []interface{}
	vals []interface{}
}

func (d *pyDict) Set(k, v interface{}) {
	k = hashable(k)
	for i, existing := range d.keys {
		if existing == k {
			d.vals[i] = v
			return
		}
	}
	d.keys = append(d.keys, k)
	d.vals = append(d.vals, v)
}

// PySetState merges a dict state; other state (e.g. state_dict _metadata
// attributes) is dropped.
func (d *pyDict) PySetState(state interface{}) error {
	keys, vals, ok := dictEntries(state)
	if !ok {
		return nil
	}
	for i, k := range keys {
		d.Set(k, vals[i])
	}
	return nil
}

type pyList struct {
	items []interface{}
}

func (l *pyList) Append(v interface{}) { l.items = append(l.items, v) }

type pyObject struct {
	Class *torchGlobal
	Args  []interface{}
	State interface{}
}

func (o *pyObject) PySetState(state interface{}) error {
	o.State = state
	return nil
}

type pyStorage struct {
	Class string
	Key   string
}

type pyTensor struct {
	Storage      *pyStorage
	Offset       int
	Shape        []int
	Stride       []int
	RequiresGrad bool
}

func unpickle(r io.Reader) (interface{}, error) {
	u := pickle.NewUnpickler(r)
	u.FindClass = func(module, name string) (interface{}, error) {
		return &torchGlobal{Module: module, Name: name}, nil
	}
	u.PersistentLoad = persistentStorage
	obj, err := u.Load()
	if err != nil {
		return nil, fmt.Errorf("unpickling checkpoint: %w", err)
	}
	return obj, nil
}

// persistentStorage decodes ('storage', StorageClass, key, location, numel).
func persistentStorage(pid interface{}) (interface{}, error) {
	items, ok := sequenceItems(pid)
	if !ok || len(items) < 3 {
		return nil, fmt.Errorf("persistent id %v is not a storage tuple", pid)
	}
	if kind, _ := items[0].(string); kind != "storage" {
		return nil, fmt.Errorf("persistent id kind %v", items[0])
	}
	s := &pyStorage{Key: fmt.Sprint(items[2])}
	switch c := items[1].(type) {
	case *torchGlobal:
		s.Class = c.Name
	case *pyObject:
		s.Class = c.Class.Name
	default:
		s.Class = fmt.Sprint(c)
	}
	if k, ok := items[2].(string); ok {
		s.Key = k
	}
	return s, nil
}

func rebuildTensor(args []interface{}) (interface{}, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("tensor rebuild with %d arguments", len(args))
	}
	storage, ok := args[0].(*pyStorage)
	if !ok {
		return nil, fmt.Errorf("tensor storage is %T", args[0])
	}
	offset, _ := pyInt(args[1])
	t := &pyTensor{
		Storage: storage,
		Offset:  int(offset),
		Shape:   intTuple(args[2]),
		Stride:  intTuple(args[3]),
	}
	if len(args) > 4 {
		t.RequiresGrad, _ = args[4].(bool)
	}
	return t, nil
}

func intTuple(v interface{}) []int {
	items, _ := sequenceItems(v)
	out := make([]int, 0, len(items))
	for _, it := range items {
		n, _ := pyInt(it)
		out = append(out, int(n))
	}
	return out
}

// pyInt accepts the integer forms gopickle produces.
func pyInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case *big.Int:
		if n.IsInt64() {
			return n.Int64(), true
		}
	}
	return 0, false
}

func sequenceItems(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case *types.Tuple:
		return *s, true
	case types.Tuple:
		return s, true
	case *types.List:
		return *s, true
	case *pyList:
		return s.items, true
	}
	return nil, false
}

// dictEntries lists the entries of any dict form in insertion order.
func dictEntries(v interface{}) (keys, vals []interface{}, ok bool) {
	switch d := v.(type) {
	case *pyDict:
		return d.keys, d.vals, true
	case *types.Dict:
		for _, e := range *d {
			keys = append(keys, e.Key)
			vals = append(vals, e.Value)
		}
		return keys, vals, true
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			keys = append(keys, entry.Key)
			vals = append(vals, entry.Value)
		}
		return keys, vals, true
	}
	return nil, nil, false
}

// hashable turns keys Go cannot compare into their string form.
func hashable(k interface{}) interface{} {
	switch k.(type) {
	case string, int, int64, float64, bool, nil:
		return k
	}
	return fmt.Sprint(k)
}
