package formats

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

const maxSafetensorsHeader = 100 << 20

// Safetensors reads the JSON header and serves tensor bytes lazily from the
// data section.
type Safetensors struct {
	Path string
}

type safetensorsEntry struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

func (s *Safetensors) Catalogue(ctx context.Context) (*tensor.Catalogue, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	cat, err := readSafetensors(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	cat.AddCloser(f)
	return cat, nil
}

func readSafetensors(f *os.File) (*tensor.Catalogue, error) {
	size, err := fileSize(f)
	if err != nil {
		return nil, err
	}

	var n uint64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("reading header length: %w", err)
	}
	if n > maxSafetensorsHeader || int64(n)+8 > size {
		return nil, fmt.Errorf("header length %d exceeds file size %d", n, size)
	}
	header := make([]byte, n)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}

	cat := tensor.NewCatalogue()
	if meta, ok := raw["__metadata__"]; ok {
		v, err := parser.Parse(meta, parser.FormatJSON)
		if err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
		cat.Metadata = v
		delete(raw, "__metadata__")
	}

	type named struct {
		name  string
		entry safetensorsEntry
	}
	entries := make([]named, 0, len(raw))
	for name, msg := range raw {
		var e safetensorsEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		entries = append(entries, named{name, e})
	}
	// file order is data order
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].entry.DataOffsets[0], entries[j].entry.DataOffsets[0]
		if a != b {
			return a < b
		}
		return entries[i].name < entries[j].name
	})

	dataStart := int64(8 + n)
	for _, ne := range entries {
		name, e := ne.name, ne.entry
		dtype, err := tensor.ParseDType(e.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		begin, end := e.DataOffsets[0], e.DataOffsets[1]
		if begin < 0 || end < begin || dataStart+end > size {
			return nil, fmt.Errorf("tensor %s: data offsets [%d, %d] out of range", name, begin, end)
		}
		count := tensor.NumElements(e.Shape)
		if uint64(end-begin) != count*uint64(dtype.Size()) {
			return nil, fmt.Errorf("tensor %s: %d bytes do not match shape %v of %s",
				name, end-begin, e.Shape, dtype)
		}

		offset, length := dataStart+begin, end-begin
		cat.Add(&tensor.Handle{
			Name:  name,
			Shape: e.Shape,
			DType: dtype,
			Open: func() (tensor.DataSource, error) {
				return tensor.NewReaderSource(io.NewSectionReader(f, offset, length), dtype, binary.LittleEndian, count)
			},
		})
	}
	if cat.Len() == 0 && cat.Metadata.Len() == 0 {
		return nil, errors.New("no tensors in file")
	}
	return cat, nil
}

// WriteSafetensors encodes tensors in safetensors layout. Values are encoded
// as f16, f32, f64 or i64; any other dtype is written as f32.
func WriteSafetensors(w io.Writer, tensors []WriteTensor, metadata map[string]string) error {
	header := make(map[string]interface{}, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var data []byte
	for _, t := range tensors {
		begin := len(data)
		for _, v := range t.Values {
			data = appendFloat(data, v, t.DType, binary.LittleEndian)
		}
		header[t.Name] = safetensorsEntry{
			DType:       safetensorsDType(t.DType),
			Shape:       t.Shape,
			DataOffsets: [2]int64{int64(begin), int64(len(data))},
		}
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func safetensorsDType(d tensor.DType) string {
	switch d {
	case tensor.F16:
		return "F16"
	case tensor.F64:
		return "F64"
	case tensor.I64:
		return "I64"
	}
	return "F32"
}

// WriteTensor is one tensor handed to the writers in this package.
type WriteTensor struct {
	Name   string
	Shape  []int
	DType  tensor.DType
	Values []float64
}
