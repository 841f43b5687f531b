package formats

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

var storageDTypes = map[string]tensor.DType{
	"FloatStorage":         tensor.F32,
	"DoubleStorage":        tensor.F64,
	"HalfStorage":          tensor.F16,
	"BFloat16Storage":      tensor.BF16,
	"LongStorage":          tensor.I64,
	"IntStorage":           tensor.I32,
	"ShortStorage":         tensor.I16,
	"CharStorage":          tensor.I8,
	"ByteStorage":          tensor.U8,
	"BoolStorage":          tensor.Bool,
	"ComplexFloatStorage":  tensor.C64,
	"ComplexDoubleStorage": tensor.C128,
	"Float8_e4m3fnStorage": tensor.F8E4M3,
	"Float8_e5m2Storage":   tensor.F8E5M2,
}

// PyTorch reads zip-format checkpoints written by torch.save. The pickled
// object becomes the comparison tree with tensors as references; tensor data
// is read from the archive's storage records.
type PyTorch struct {
	Path string
}

func (p *PyTorch) Catalogue(ctx context.Context) (*tensor.Catalogue, error) {
	if legacy, err := isLegacyPickle(p.Path); err != nil {
		return nil, err
	} else if legacy {
		return nil, fmt.Errorf("%w: legacy (non-zip) checkpoint", tensor.ErrUnsupported)
	}

	zr, err := zip.OpenReader(p.Path)
	if err != nil {
		return nil, err
	}
	cat, err := readCheckpoint(ctx, zr)
	if err != nil {
		zr.Close()
		return nil, err
	}
	cat.AddCloser(zr)
	return cat, nil
}

func isLegacyPickle(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, 2)
	if _, err := io.ReadFull(f, head); err != nil {
		return false, fmt.Errorf("reading header: %w", err)
	}
	return head[0] == 0x80 && head[1] <= 5, nil
}

func readCheckpoint(ctx context.Context, zr *zip.ReadCloser) (*tensor.Catalogue, error) {
	files := make(map[string]*zip.File, len(zr.File))
	var pkl *zip.File
	for _, f := range zr.File {
		files[f.Name] = f
		if path.Base(f.Name) == "data.pkl" && (pkl == nil || len(f.Name) < len(pkl.Name)) {
			pkl = f
		}
	}
	if pkl == nil {
		return nil, errors.New("archive has no data.pkl")
	}
	prefix := strings.TrimSuffix(pkl.Name, "data.pkl")

	var order binary.ByteOrder = binary.LittleEndian
	if bo, ok := files[prefix+"byteorder"]; ok {
		if s, err := readSmall(bo); err == nil && strings.TrimSpace(s) == "big" {
			order = binary.BigEndian
		}
	}

	rc, err := pkl.Open()
	if err != nil {
		return nil, err
	}
	obj, err := unpickle(rc)
	rc.Close()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &checkpointBuilder{
		cat:    tensor.NewCatalogue(),
		files:  files,
		prefix: prefix,
		order:  order,
	}
	tree := b.walk("", obj)
	if b.err != nil {
		return nil, b.err
	}
	b.cat.SetTree(tree)
	b.cat.Metadata = tree
	return b.cat, nil
}

func readSmall(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, 64))
	return string(data), err
}

type checkpointBuilder struct {
	cat    *tensor.Catalogue
	files  map[string]*zip.File
	prefix string
	order  binary.ByteOrder
	err    error
}

// walk converts the unpickled object into a value tree, registering a tensor
// handle for every tensor leaf. Tensors are named by their dotted key path,
// and dict keys are nested on their dots the way catalogue roots are.
func (b *checkpointBuilder) walk(name string, obj interface{}) value.Value {
	if keys, vals, ok := dictEntries(obj); ok {
		return b.dict(name, keys, vals)
	}
	if items, ok := sequenceItems(obj); ok {
		return b.sequence(name, items)
	}
	switch o := obj.(type) {
	case nil:
		return value.Null()
	case bool:
		return value.Bool(o)
	case float64:
		return value.Number(o)
	case string:
		return value.String(o)
	case []byte:
		return value.String(fmt.Sprintf("<%d bytes>", len(o)))
	case *torchGlobal:
		return value.String(o.String())
	case *pyTensor:
		if err := b.addTensor(name, o); err != nil && b.err == nil {
			b.err = err
		}
		return value.TensorRef(name)
	case *pyObject:
		if keys, vals, ok := dictEntries(o.State); ok && len(keys) > 0 {
			return b.dict(name, keys, vals)
		}
		return value.String("<" + o.Class.String() + ">")
	}
	if n, ok := pyInt(obj); ok {
		return value.Number(float64(n))
	}
	return value.String(fmt.Sprint(obj))
}

func (b *checkpointBuilder) dict(name string, keys, vals []interface{}) value.Value {
	names := make([]string, len(keys))
	out := make([]value.Value, len(keys))
	for i, k := range keys {
		key, ok := k.(string)
		if !ok {
			key = fmt.Sprint(k)
		}
		child := key
		if name != "" {
			child = name + "." + key
		}
		names[i] = key
		out[i] = b.walk(child, vals[i])
	}
	return value.MapValue(value.Nest(names, out))
}

func (b *checkpointBuilder) sequence(name string, items []interface{}) value.Value {
	out := make([]value.Value, len(items))
	for i, it := range items {
		out[i] = b.walk(value.JoinIndex(name, i), it)
	}
	return value.Sequence(out...)
}

// addTensor reads the storage span starting at the tensor's offset. Strides
// are ignored: every element in the span is visited once, which is all the
// order-independent statistics need.
func (b *checkpointBuilder) addTensor(name string, t *pyTensor) error {
	if name == "" {
		name = "tensor"
	}
	dtype, ok := storageDTypes[t.Storage.Class]
	if !ok {
		b.cat.Add(&tensor.Handle{Name: name, Shape: t.Shape, DType: tensor.Unknown, Open: func() (tensor.DataSource, error) {
			return nil, fmt.Errorf("%w: storage class %s", tensor.ErrUnsupported, t.Storage.Class)
		}})
		return nil
	}
	zf, ok := b.files[b.prefix+"data/"+t.Storage.Key]
	if !ok {
		return fmt.Errorf("tensor %s: storage record %s missing", name, t.Storage.Key)
	}
	count := tensor.NumElements(t.Shape)
	skip := int64(t.Offset) * int64(dtype.Size())
	if uint64(skip)+count*uint64(dtype.Size()) > zf.UncompressedSize64 {
		return fmt.Errorf("tensor %s: storage %s too small for shape %v at offset %d",
			name, t.Storage.Key, t.Shape, t.Offset)
	}
	order := b.order
	b.cat.Add(&tensor.Handle{
		Name:  name,
		Shape: t.Shape,
		DType: dtype,
		Open: func() (tensor.DataSource, error) {
			rc, err := zf.Open()
			if err != nil {
				return nil, err
			}
			if _, err := io.CopyN(io.Discard, rc, skip); err != nil {
				rc.Close()
				return nil, err
			}
			src, err := tensor.NewReaderSource(rc, dtype, order, count)
			if err != nil {
				rc.Close()
				return nil, err
			}
			return closingSource{src, rc}, nil
		},
	})
	return nil
}
