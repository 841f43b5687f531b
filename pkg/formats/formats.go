// Package formats reads tensor containers (safetensors, NumPy, PyTorch and
// MATLAB files) into tensor catalogues.
package formats

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

// NewSource returns the adapter for a tensor format.
func NewSource(path string, format parser.Format) (tensor.Source, error) {
	switch format {
	case parser.FormatSafetensors:
		return &Safetensors{Path: path}, nil
	case parser.FormatNumPy:
		return &NPY{Path: path}, nil
	case parser.FormatNPZ:
		return &NPZ{Path: path}, nil
	case parser.FormatPyTorch:
		return &PyTorch{Path: path}, nil
	case parser.FormatMATLAB:
		return &MATLAB{Path: path}, nil
	}
	return nil, fmt.Errorf("%s is not a tensor format", format)
}

// Open reads the catalogue of a tensor file. Failures are *parser.ParseError.
func Open(ctx context.Context, path string, format parser.Format) (*tensor.Catalogue, error) {
	src, err := NewSource(path, format)
	if err != nil {
		return nil, &parser.ParseError{Path: path, Format: format, Err: err}
	}
	cat, err := src.Catalogue(ctx)
	if err != nil {
		return nil, &parser.ParseError{Path: path, Format: format, Err: err}
	}
	if info, err := os.Stat(path); err == nil {
		cat.Fingerprint = tensor.Fingerprint{Path: path, Size: info.Size(), ModTime: info.ModTime().UnixNano()}
	}
	return cat, nil
}

// closingSource releases the reader behind a data source once drained.
type closingSource struct {
	tensor.DataSource
	io.Closer
}

func fileSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
