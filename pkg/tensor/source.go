package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/x448/float16"
)

// DataSource yields the elements of one tensor as float64 values in a single
// forward pass. Next fills buf and returns the number of values written; it
// returns io.EOF once the tensor is exhausted.
type DataSource interface {
	Next(buf []float64) (int, error)
}

// Materialized is implemented by sources whose values are already in memory,
// which allows the statistics engine to split them into parallel chunks.
type Materialized interface {
	Values() []float64
}

// SliceSource serves values from memory.
type SliceSource struct {
	vals []float64
	pos  int
}

func NewSliceSource(vals []float64) *SliceSource {
	return &SliceSource{vals: vals}
}

func (s *SliceSource) Next(buf []float64) (int, error) {
	if s.pos >= len(s.vals) {
		return 0, io.EOF
	}
	n := copy(buf, s.vals[s.pos:])
	s.pos += n
	return n, nil
}

func (s *SliceSource) Values() []float64 { return s.vals }

const decodeChunk = 1 << 16

// ReaderSource decodes count raw elements of dtype from r.
type ReaderSource struct {
	r         io.Reader
	dtype     DType
	order     binary.ByteOrder
	remaining uint64
	raw       []byte
	pending   []float64
}

// NewReaderSource decodes count elements. Complex elements produce two values
// each (real, imaginary).
func NewReaderSource(r io.Reader, dtype DType, order binary.ByteOrder, count uint64) (*ReaderSource, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("%w: dtype %s", ErrUnsupported, dtype)
	}
	if order == nil {
		order = binary.LittleEndian
	}
	return &ReaderSource{r: r, dtype: dtype, order: order, remaining: count}, nil
}

func (s *ReaderSource) Next(buf []float64) (int, error) {
	written := 0
	for written < len(buf) {
		if len(s.pending) > 0 {
			n := copy(buf[written:], s.pending)
			s.pending = s.pending[n:]
			written += n
			continue
		}
		if s.remaining == 0 {
			break
		}
		if err := s.fill(); err != nil {
			return written, err
		}
	}
	if written == 0 {
		return 0, io.EOF
	}
	return written, nil
}

func (s *ReaderSource) fill() error {
	size := s.dtype.Size()
	n := s.remaining
	if n > decodeChunk {
		n = decodeChunk
	}
	need := int(n) * size
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]
	if _, err := io.ReadFull(s.r, raw); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("reading %s elements: %w", s.dtype, err)
	}
	out := make([]float64, 0, int(n)*s.dtype.Lanes())
	for off := 0; off < need; off += size {
		out = DecodeElement(out, raw[off:off+size], s.dtype, s.order)
	}
	s.remaining -= n
	s.pending = out
	return nil
}

// DecodeElement appends the value(s) of one encoded element to dst.
func DecodeElement(dst []float64, b []byte, dtype DType, order binary.ByteOrder) []float64 {
	switch dtype {
	case Bool:
		if b[0] != 0 {
			return append(dst, 1)
		}
		return append(dst, 0)
	case U8:
		return append(dst, float64(b[0]))
	case I8:
		return append(dst, float64(int8(b[0])))
	case U16:
		return append(dst, float64(order.Uint16(b)))
	case I16:
		return append(dst, float64(int16(order.Uint16(b))))
	case U32:
		return append(dst, float64(order.Uint32(b)))
	case I32:
		return append(dst, float64(int32(order.Uint32(b))))
	case U64:
		return append(dst, float64(order.Uint64(b)))
	case I64:
		return append(dst, float64(int64(order.Uint64(b))))
	case F8E4M3:
		return append(dst, decodeE4M3(b[0]))
	case F8E5M2:
		return append(dst, float64(float16.Frombits(uint16(b[0])<<8).Float32()))
	case F16:
		return append(dst, float64(float16.Frombits(order.Uint16(b)).Float32()))
	case BF16:
		return append(dst, float64(math.Float32frombits(uint32(order.Uint16(b))<<16)))
	case F32:
		return append(dst, float64(math.Float32frombits(order.Uint32(b))))
	case F64:
		return append(dst, math.Float64frombits(order.Uint64(b)))
	case C64:
		return append(dst,
			float64(math.Float32frombits(order.Uint32(b[:4]))),
			float64(math.Float32frombits(order.Uint32(b[4:8]))))
	case C128:
		return append(dst,
			math.Float64frombits(order.Uint64(b[:8])),
			math.Float64frombits(order.Uint64(b[8:16])))
	}
	return dst
}

// decodeE4M3 decodes the fn variant: no infinities, S.1111.111 is NaN.
func decodeE4M3(b byte) float64 {
	sign := 1.0
	if b&0x80 != 0 {
		sign = -1
	}
	exp := int(b>>3) & 0x0f
	mant := float64(b & 0x07)
	if exp == 0x0f && b&0x07 == 0x07 {
		return math.NaN()
	}
	if exp == 0 {
		return sign * mant / 8 * math.Ldexp(1, -6)
	}
	return sign * (1 + mant/8) * math.Ldexp(1, exp-7)
}

// Drain reads src to the end. It is meant for tests and small tensors.
func Drain(src DataSource) ([]float64, error) {
	var out []float64
	buf := make([]float64, 4096)
	for {
		n, err := src.Next(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
