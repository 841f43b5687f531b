package formats

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

// MAT-file level 5 data types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
)

// Array classes.
const (
	mxCELL   = 1
	mxSTRUCT = 2
	mxOBJECT = 3
	mxCHAR   = 4
	mxSPARSE = 5
	mxDOUBLE = 6
	mxSINGLE = 7
	mxINT8   = 8
	mxUINT8  = 9
	mxINT16  = 10
	mxUINT16 = 11
	mxINT32  = 12
	mxUINT32 = 13
	mxINT64  = 14
	mxUINT64 = 15
)

const (
	flagComplex = 0x0800
	flagLogical = 0x0200
)

var miDTypes = map[uint32]tensor.DType{
	miINT8: tensor.I8, miUINT8: tensor.U8,
	miINT16: tensor.I16, miUINT16: tensor.U16,
	miINT32: tensor.I32, miUINT32: tensor.U32,
	miINT64: tensor.I64, miUINT64: tensor.U64,
	miSINGLE: tensor.F32, miDOUBLE: tensor.F64,
	miUTF8: tensor.U8,
}

var mxDTypes = map[uint32]tensor.DType{
	mxDOUBLE: tensor.F64, mxSINGLE: tensor.F32,
	mxINT8: tensor.I8, mxUINT8: tensor.U8,
	mxINT16: tensor.I16, mxUINT16: tensor.U16,
	mxINT32: tensor.I32, mxUINT32: tensor.U32,
	mxINT64: tensor.I64, mxUINT64: tensor.U64,
}

var mxClassNames = map[uint32]string{
	mxCELL: "cell", mxSTRUCT: "struct", mxOBJECT: "object", mxSPARSE: "sparse",
}

// MATLAB reads level 5 MAT-files. Numeric and logical variables become
// tensors (complex ones report real parts followed by imaginary parts), char
// arrays become metadata and other classes are annotated and skipped. The
// file is decoded in full; MAT-files are small next to model checkpoints.
type MATLAB struct {
	Path string
}

func (m *MATLAB) Catalogue(ctx context.Context) (*tensor.Catalogue, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readMAT(ctx, f)
}

func readMAT(ctx context.Context, r io.Reader) (*tensor.Catalogue, error) {
	header := make([]byte, 128)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if strings.HasPrefix(string(header), "MATLAB 7.3") {
		return nil, fmt.Errorf("%w: HDF5-based v7.3 MAT-file", tensor.ErrUnsupported)
	}
	var order binary.ByteOrder
	switch string(header[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, errors.New("not a level 5 MAT-file")
	}

	cat := tensor.NewCatalogue()
	meta := value.NewMap()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		typ, data, err := readMATElement(r, order, true)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if typ == miCOMPRESSED {
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("compressed element: %w", err)
			}
			typ, data, err = readMATElement(zr, order, false)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("compressed element: %w", err)
			}
		}
		if typ != miMATRIX {
			continue
		}
		if err := addMATVariable(cat, meta, data, order); err != nil {
			return nil, err
		}
	}
	if meta.Len() > 0 {
		cat.Metadata = value.MapValue(meta)
	}
	return cat, nil
}

// readMATElement reads one tagged element, handling the small data element
// form. Top-level elements other than miCOMPRESSED are padded to 8 bytes.
func readMATElement(r io.Reader, order binary.ByteOrder, pad bool) (uint32, []byte, error) {
	tag := make([]byte, 8)
	if _, err := io.ReadFull(r, tag); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("truncated element tag: %w", err)
		}
		return 0, nil, err
	}
	first := order.Uint32(tag[:4])
	if first>>16 != 0 {
		size := first >> 16
		if size > 4 {
			return 0, nil, fmt.Errorf("small element of %d bytes", size)
		}
		return first & 0xffff, tag[4 : 4+size], nil
	}
	size := order.Uint32(tag[4:8])
	if size > 1<<31 {
		return 0, nil, fmt.Errorf("element of %d bytes", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, fmt.Errorf("reading element: %w", err)
	}
	if pad && first != miCOMPRESSED {
		if rem := size % 8; rem != 0 {
			if _, err := io.CopyN(io.Discard, r, int64(8-rem)); err != nil && !errors.Is(err, io.EOF) {
				return 0, nil, err
			}
		}
	}
	return first, data, nil
}

func addMATVariable(cat *tensor.Catalogue, meta *value.Map, data []byte, order binary.ByteOrder) error {
	r := bytes.NewReader(data)
	sub := func() (uint32, []byte, error) { return readMATElement(r, order, true) }

	_, flags, err := sub()
	if err != nil {
		return fmt.Errorf("array flags: %w", err)
	}
	if len(flags) < 8 {
		return errors.New("array flags element too short")
	}
	word := order.Uint32(flags[:4])
	class := word & 0xff
	_, dimData, err := sub()
	if err != nil {
		return fmt.Errorf("array dimensions: %w", err)
	}
	shape := make([]int, 0, len(dimData)/4)
	for i := 0; i+4 <= len(dimData); i += 4 {
		shape = append(shape, int(int32(order.Uint32(dimData[i:]))))
	}
	_, nameData, err := sub()
	if err != nil {
		return fmt.Errorf("array name: %w", err)
	}
	name := string(nameData)

	if class == mxCHAR {
		ctyp, chars, err := sub()
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		meta.Set(name, value.String(decodeMATChars(ctyp, chars, order)))
		return nil
	}
	dtype, ok := mxDTypes[class]
	if !ok {
		kind := mxClassNames[class]
		if kind == "" {
			kind = fmt.Sprintf("class %d", class)
		}
		cat.Add(&tensor.Handle{Name: name, Shape: shape, DType: tensor.Unknown, Open: func() (tensor.DataSource, error) {
			return nil, fmt.Errorf("%w: %s array", tensor.ErrUnsupported, kind)
		}})
		return nil
	}
	if word&flagLogical != 0 {
		dtype = tensor.Bool
	}

	realType, realData, err := sub()
	if err != nil {
		return fmt.Errorf("variable %s real part: %w", name, err)
	}
	vals, err := decodeMATNumbers(realType, realData, order)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	if word&flagComplex != 0 {
		imagType, imagData, err := sub()
		if err != nil {
			return fmt.Errorf("variable %s imaginary part: %w", name, err)
		}
		imag, err := decodeMATNumbers(imagType, imagData, order)
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		vals = append(vals, imag...)
		switch dtype {
		case tensor.F64:
			dtype = tensor.C128
		case tensor.F32:
			dtype = tensor.C64
		}
	}
	if uint64(len(vals)) != tensor.NumElements(shape)*uint64(dtype.Lanes()) {
		return fmt.Errorf("variable %s: %d values for shape %v", name, len(vals), shape)
	}
	cat.Add(&tensor.Handle{
		Name:  name,
		Shape: shape,
		DType: dtype,
		Open: func() (tensor.DataSource, error) {
			return tensor.NewSliceSource(vals), nil
		},
	})
	return nil
}

// decodeMATNumbers widens stored elements; MATLAB may store a double array
// with a narrower integer type.
func decodeMATNumbers(typ uint32, data []byte, order binary.ByteOrder) ([]float64, error) {
	dt, ok := miDTypes[typ]
	if !ok {
		return nil, fmt.Errorf("%w: data type %d", tensor.ErrUnsupported, typ)
	}
	size := dt.Size()
	out := make([]float64, 0, len(data)/size)
	for off := 0; off+size <= len(data); off += size {
		out = tensor.DecodeElement(out, data[off:off+size], dt, order)
	}
	return out, nil
}

func decodeMATChars(typ uint32, data []byte, order binary.ByteOrder) string {
	if typ == miUINT16 {
		runes := make([]rune, 0, len(data)/2)
		for i := 0; i+2 <= len(data); i += 2 {
			runes = append(runes, rune(order.Uint16(data[i:])))
		}
		return string(runes)
	}
	return string(data)
}

// WriteMAT encodes f64 variables as an uncompressed level 5 MAT-file, or
// wraps each variable in miCOMPRESSED when compress is set.
func WriteMAT(w io.Writer, vars []WriteTensor, compress bool) error {
	header := make([]byte, 128)
	copy(header, "MATLAB 5.0 MAT-file, written by model-smith")
	for i := len("MATLAB 5.0 MAT-file, written by model-smith"); i < 116; i++ {
		header[i] = ' '
	}
	binary.LittleEndian.PutUint16(header[124:], 0x0100)
	copy(header[126:], "IM")
	if _, err := w.Write(header); err != nil {
		return err
	}

	for _, v := range vars {
		var body bytes.Buffer
		flags := make([]byte, 8)
		binary.LittleEndian.PutUint32(flags, mxDOUBLE)
		writeMATElement(&body, miUINT32, flags)
		dims := make([]byte, 4*len(v.Shape))
		for i, d := range v.Shape {
			binary.LittleEndian.PutUint32(dims[4*i:], uint32(d))
		}
		writeMATElement(&body, miINT32, dims)
		writeMATElement(&body, miINT8, []byte(v.Name))
		var data []byte
		for _, x := range v.Values {
			data = appendFloat(data, x, tensor.F64, binary.LittleEndian)
		}
		writeMATElement(&body, miDOUBLE, data)

		var elem bytes.Buffer
		writeMATElement(&elem, miMATRIX, body.Bytes())
		if !compress {
			if _, err := w.Write(elem.Bytes()); err != nil {
				return err
			}
			continue
		}
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		zw.Write(elem.Bytes())
		zw.Close()
		tag := make([]byte, 8)
		binary.LittleEndian.PutUint32(tag, miCOMPRESSED)
		binary.LittleEndian.PutUint32(tag[4:], uint32(z.Len()))
		if _, err := w.Write(append(tag, z.Bytes()...)); err != nil {
			return err
		}
	}
	return nil
}

func writeMATElement(buf *bytes.Buffer, typ uint32, data []byte) {
	tag := make([]byte, 8)
	binary.LittleEndian.PutUint32(tag, typ)
	binary.LittleEndian.PutUint32(tag[4:], uint32(len(data)))
	buf.Write(tag)
	buf.Write(data)
	if rem := len(data) % 8; rem != 0 {
		buf.Write(make([]byte, 8-rem))
	}
}
