package formats

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sbinet/npyio/npy"
	"github.com/x448/float16"

	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

var npyMagic = []byte("\x93NUMPY")

// NPYTensorName is the tensor name of the single array in an .npy file.
const NPYTensorName = "array"

type npyHeader struct {
	dtype   tensor.DType
	order   binary.ByteOrder
	shape   []int
	fortran bool
	// size of magic, version, length field and header text
	dataOffset int64
}

// readNPYHeader decodes the header dict of an .npy stream with npyio. The
// reader position afterwards is unspecified; data starts at dataOffset.
func readNPYHeader(r io.Reader) (*npyHeader, error) {
	var pre bytes.Buffer
	nr, err := npy.NewReader(io.TeeReader(r, &pre))
	if err != nil {
		return nil, fmt.Errorf("reading npy header: %w", err)
	}
	dtype, order, err := parseDescr(nr.Header.Descr.Type)
	if err != nil {
		return nil, err
	}
	h := &npyHeader{
		dtype:   dtype,
		order:   order,
		shape:   append([]int{}, nr.Header.Descr.Shape...),
		fortran: nr.Header.Descr.Fortran,
	}
	for _, d := range h.shape {
		if d < 0 {
			return nil, fmt.Errorf("invalid dimension %d", d)
		}
	}
	if h.dataOffset, err = npyDataOffset(pre.Bytes()); err != nil {
		return nil, err
	}
	return h, nil
}

// npyDataOffset reads the header length field: two bytes in format 1.0, four
// bytes in 2.0 and 3.0.
func npyDataOffset(pre []byte) (int64, error) {
	if len(pre) < 10 || !bytes.Equal(pre[:6], npyMagic) {
		return 0, errors.New("missing NUMPY magic")
	}
	switch pre[6] {
	case 1:
		return 10 + int64(binary.LittleEndian.Uint16(pre[8:10])), nil
	case 2, 3:
		if len(pre) < 12 {
			return 0, errors.New("truncated preamble")
		}
		return 12 + int64(binary.LittleEndian.Uint32(pre[8:12])), nil
	}
	return 0, fmt.Errorf("unknown format version %d.%d", pre[6], pre[7])
}

// parseDescr maps a NumPy type string such as "<f4" to a dtype.
func parseDescr(descr string) (tensor.DType, binary.ByteOrder, error) {
	if len(descr) < 3 {
		return tensor.Unknown, nil, fmt.Errorf("%w: descr %q", tensor.ErrUnsupported, descr)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if descr[0] == '>' {
		order = binary.BigEndian
	}
	size, err := strconv.Atoi(descr[2:])
	if err != nil {
		return tensor.Unknown, nil, fmt.Errorf("%w: descr %q", tensor.ErrUnsupported, descr)
	}

	var dt tensor.DType
	switch descr[1] {
	case 'b':
		dt = tensor.Bool
	case 'f':
		dt = map[int]tensor.DType{2: tensor.F16, 4: tensor.F32, 8: tensor.F64}[size]
	case 'i':
		dt = map[int]tensor.DType{1: tensor.I8, 2: tensor.I16, 4: tensor.I32, 8: tensor.I64}[size]
	case 'u':
		dt = map[int]tensor.DType{1: tensor.U8, 2: tensor.U16, 4: tensor.U32, 8: tensor.U64}[size]
	case 'c':
		dt = map[int]tensor.DType{8: tensor.C64, 16: tensor.C128}[size]
	}
	if dt == "" || dt.Size() != size {
		return tensor.Unknown, nil, fmt.Errorf("%w: descr %q", tensor.ErrUnsupported, descr)
	}
	return dt, order, nil
}

// NPY reads a single array file. Element order is irrelevant to the
// statistics, so Fortran-ordered arrays are read as stored.
type NPY struct {
	Path string
}

func (n *NPY) Catalogue(ctx context.Context) (*tensor.Catalogue, error) {
	f, err := os.Open(n.Path)
	if err != nil {
		return nil, err
	}
	h, err := readNPYHeader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, err
	}
	size, err := fileSize(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	count := tensor.NumElements(h.shape)
	length := int64(count) * int64(h.dtype.Size())
	if h.dataOffset+length > size {
		f.Close()
		return nil, fmt.Errorf("array of shape %v needs %d bytes, file has %d", h.shape, length, size-h.dataOffset)
	}

	cat := tensor.NewCatalogue()
	cat.Add(&tensor.Handle{
		Name:  NPYTensorName,
		Shape: h.shape,
		DType: h.dtype,
		Open: func() (tensor.DataSource, error) {
			return tensor.NewReaderSource(io.NewSectionReader(f, h.dataOffset, length), h.dtype, h.order, count)
		},
	})
	cat.AddCloser(f)
	return cat, nil
}

// NPZ reads a zip archive of .npy members. Each member is re-opened and
// skipped to its data for every pass since zip entries cannot seek.
type NPZ struct {
	Path string
}

func (n *NPZ) Catalogue(ctx context.Context) (*tensor.Catalogue, error) {
	zr, err := zip.OpenReader(n.Path)
	if err != nil {
		return nil, err
	}
	cat := tensor.NewCatalogue()
	for _, zf := range zr.File {
		if !strings.HasSuffix(zf.Name, ".npy") {
			continue
		}
		if err := ctx.Err(); err != nil {
			zr.Close()
			return nil, err
		}
		h, err := npzMemberHeader(zf)
		if err != nil {
			zr.Close()
			return nil, fmt.Errorf("member %s: %w", zf.Name, err)
		}
		zf := zf
		cat.Add(&tensor.Handle{
			Name:  strings.TrimSuffix(zf.Name, ".npy"),
			Shape: h.shape,
			DType: h.dtype,
			Open: func() (tensor.DataSource, error) {
				rc, err := zf.Open()
				if err != nil {
					return nil, err
				}
				if _, err := io.CopyN(io.Discard, rc, h.dataOffset); err != nil {
					rc.Close()
					return nil, err
				}
				src, err := tensor.NewReaderSource(rc, h.dtype, h.order, tensor.NumElements(h.shape))
				if err != nil {
					rc.Close()
					return nil, err
				}
				return closingSource{src, rc}, nil
			},
		})
	}
	if cat.Len() == 0 {
		zr.Close()
		return nil, errors.New("archive has no .npy members")
	}
	cat.AddCloser(zr)
	return cat, nil
}

func npzMemberHeader(zf *zip.File) (*npyHeader, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readNPYHeader(rc)
}

// WriteNPY encodes values as a version 1.0 little-endian .npy stream.
func WriteNPY(w io.Writer, t WriteTensor) error {
	descr := map[tensor.DType]string{
		tensor.F16: "<f2", tensor.F32: "<f4", tensor.F64: "<f8", tensor.I64: "<i8",
	}[t.DType]
	if descr == "" {
		descr, t.DType = "<f4", tensor.F32
	}
	dims := make([]string, len(t.Shape))
	for i, d := range t.Shape {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shape)
	// pad so the data starts on a 64-byte boundary
	total := 10 + len(header) + 1
	header += strings.Repeat(" ", (64-total%64)%64) + "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	var data []byte
	for _, v := range t.Values {
		data = appendFloat(data, v, t.DType, binary.LittleEndian)
	}
	buf.Write(data)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteNPZ stores every tensor as an uncompressed "<name>.npy" member.
func WriteNPZ(w io.Writer, tensors []WriteTensor) error {
	zw := zip.NewWriter(w)
	for _, t := range tensors {
		mw, err := zw.CreateHeader(&zip.FileHeader{Name: t.Name + ".npy", Method: zip.Store})
		if err != nil {
			return err
		}
		if err := WriteNPY(mw, t); err != nil {
			return err
		}
	}
	return zw.Close()
}

func appendFloat(dst []byte, v float64, dtype tensor.DType, order binary.ByteOrder) []byte {
	switch dtype {
	case tensor.F16:
		b := make([]byte, 2)
		order.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
		return append(dst, b...)
	case tensor.F64:
		b := make([]byte, 8)
		order.PutUint64(b, math.Float64bits(v))
		return append(dst, b...)
	case tensor.I64:
		b := make([]byte, 8)
		order.PutUint64(b, uint64(int64(v)))
		return append(dst, b...)
	case tensor.I32:
		b := make([]byte, 4)
		order.PutUint32(b, uint32(int32(v)))
		return append(dst, b...)
	}
	b := make([]byte, 4)
	order.PutUint32(b, math.Float32bits(float32(v)))
	return append(dst, b...)
}
