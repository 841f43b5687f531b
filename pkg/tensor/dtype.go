// Package tensor describes named tensors independently of the container
// format they were read from.
package tensor

import (
	"fmt"
	"strings"
)

type DType string

const (
	Bool    DType = "bool"
	U8      DType = "u8"
	I8      DType = "i8"
	U16     DType = "u16"
	I16     DType = "i16"
	U32     DType = "u32"
	I32     DType = "i32"
	U64     DType = "u64"
	I64     DType = "i64"
	F8E4M3  DType = "f8_e4m3"
	F8E5M2  DType = "f8_e5m2"
	F16     DType = "f16"
	BF16    DType = "bf16"
	F32     DType = "f32"
	F64     DType = "f64"
	C64     DType = "c64"
	C128    DType = "c128"
	Unknown DType = "unknown"
)

var dtypeSizes = map[DType]int{
	Bool: 1, U8: 1, I8: 1, F8E4M3: 1, F8E5M2: 1,
	U16: 2, I16: 2, F16: 2, BF16: 2,
	U32: 4, I32: 4, F32: 4,
	U64: 8, I64: 8, F64: 8, C64: 8,
	C128: 16,
}

var dtypeAliases = map[string]DType{
	"bool": Bool, "u8": U8, "uint8": U8, "i8": I8, "int8": I8,
	"u16": U16, "uint16": U16, "i16": I16, "int16": I16,
	"u32": U32, "uint32": U32, "i32": I32, "int32": I32,
	"u64": U64, "uint64": U64, "i64": I64, "int64": I64,
	"f8_e4m3": F8E4M3, "f8_e4m3fn": F8E4M3, "float8_e4m3fn": F8E4M3,
	"f8_e5m2": F8E5M2, "float8_e5m2": F8E5M2,
	"f16": F16, "float16": F16, "half": F16,
	"bf16": BF16, "bfloat16": BF16,
	"f32": F32, "float32": F32, "float": F32,
	"f64": F64, "float64": F64, "double": F64,
	"c64": C64, "complex64": C64,
	"c128": C128, "complex128": C128,
}

// ParseDType accepts the short names used here as well as the common
// framework spellings (float32, F32, bfloat16, ...).
func ParseDType(s string) (DType, error) {
	if d, ok := dtypeAliases[strings.ToLower(s)]; ok {
		return d, nil
	}
	return Unknown, fmt.Errorf("unknown dtype %q", s)
}

// Size is the number of bytes one element occupies.
func (d DType) Size() int {
	return dtypeSizes[d]
}

func (d DType) IsFloat() bool {
	switch d {
	case F8E4M3, F8E5M2, F16, BF16, F32, F64:
		return true
	}
	return false
}

func (d DType) IsComplex() bool {
	return d == C64 || d == C128
}

func (d DType) IsInteger() bool {
	switch d {
	case U8, I8, U16, I16, U32, I32, U64, I64:
		return true
	}
	return false
}

// Lanes is the number of real values one element decodes to.
func (d DType) Lanes() int {
	if d.IsComplex() {
		return 2
	}
	return 1
}

// Bits is the precision in bits, used to rank precision changes.
func (d DType) Bits() int {
	return d.Size() * 8
}
